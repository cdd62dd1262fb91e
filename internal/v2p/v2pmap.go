/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package v2p is the keyed mapping from virtual page address to physical
page id for one basis. It is a thin, explicit wrapper
around a Go map so that the "must not collide" and "remove returns the
reclaimed id" contracts are enforced at the call site rather than left
to callers re-deriving them from bare map operations.
*/
package v2p

import (
	"github.com/firefly-oss/pddb/internal/errors"
	"github.com/firefly-oss/pddb/internal/geometry"
)

// Map is a virtual-to-physical page address mapping. The zero value is
// not usable; construct with New.
type Map struct {
	entries map[geometry.VirtAddr]geometry.PhysPage
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[geometry.VirtAddr]geometry.PhysPage)}
}

// Get returns the physical page mapped to vaddr, if any.
func (m *Map) Get(vaddr geometry.VirtAddr) (geometry.PhysPage, bool) {
	pp, ok := m.entries[vaddr]
	return pp, ok
}

// Contains reports whether vaddr has a mapping.
func (m *Map) Contains(vaddr geometry.VirtAddr) bool {
	_, ok := m.entries[vaddr]
	return ok
}

// Insert adds a new mapping. It is an error to insert over an existing
// mapping for the same vaddr: callers must Remove (or check Contains)
// first, so a stale mapping can never be silently leaked.
func (m *Map) Insert(vaddr geometry.VirtAddr, pp geometry.PhysPage) error {
	if _, exists := m.entries[vaddr]; exists {
		return errors.NewIOError("v2p: duplicate insert for virtual address").
			WithDetail("refusing to silently overwrite an existing mapping")
	}
	m.entries[vaddr] = pp
	return nil
}

// Remove deletes the mapping for vaddr and returns the physical page
// that was mapped, so the caller can return it to fastspace.
func (m *Map) Remove(vaddr geometry.VirtAddr) (geometry.PhysPage, bool) {
	pp, ok := m.entries[vaddr]
	if !ok {
		return 0, false
	}
	delete(m.entries, vaddr)
	return pp, true
}

// EntryOrInsertWith returns the physical page already mapped to vaddr,
// or calls alloc to obtain one, installs it, and returns it.
func (m *Map) EntryOrInsertWith(vaddr geometry.VirtAddr, alloc func() (geometry.PhysPage, error)) (geometry.PhysPage, error) {
	if pp, ok := m.entries[vaddr]; ok {
		return pp, nil
	}
	pp, err := alloc()
	if err != nil {
		return 0, err
	}
	m.entries[vaddr] = pp
	return pp, nil
}

// Len reports the number of live mappings.
func (m *Map) Len() int {
	return len(m.entries)
}
