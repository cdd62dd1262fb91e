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
Package storage defines the hardware abstraction that dictcache and
engine drive: per-page AEAD I/O, physical-page (fastspace) allocation,
and a CSPRNG. Storage is deliberately narrow — it knows nothing about
dictionaries, keys, or descriptors, only raw physical pages and the
cipher needed to read/write them.
*/
package storage

import (
	"crypto/rand"

	"github.com/firefly-oss/pddb/internal/geometry"
	"github.com/firefly-oss/pddb/internal/pagecipher"
)

// Storage is the collaborator a basis drives for every page-level I/O
// and allocation operation.
type Storage interface {
	// DataDecryptPage returns the decrypted plaintext at physical page
	// pp, or ok=false on AEAD failure or an unallocated page.
	DataDecryptPage(cipher *pagecipher.PageCipher, aad []byte, pp geometry.PhysPage) ([]byte, bool)

	// DataEncryptAndPatchPage seals plaintext (advancing its embedded
	// journal counter) and writes it to physical page pp.
	DataEncryptAndPatchPage(cipher *pagecipher.PageCipher, aad []byte, plaintext []byte, pp geometry.PhysPage)

	// TryFastSpaceAlloc reserves one physical page, or reports ok=false
	// if fastspace is exhausted.
	TryFastSpaceAlloc() (geometry.PhysPage, bool)

	// FastSpaceFree returns a physical page to the free pool.
	FastSpaceFree(pp geometry.PhysPage)

	// TRNGSlice fills buf with CSPRNG bytes, for paranoid-delete
	// overwrite.
	TRNGSlice(buf []byte)

	// PatchData performs a raw overwrite of physicalOffset..+len(data),
	// bypassing the page cipher. Used only by paranoid delete to stamp
	// noise directly over a physical page before it is freed.
	PatchData(data []byte, physicalOffset uint64)
}

// MemStorage is an in-RAM Storage backed by a plain byte arena, used by
// tests and the dump CLI's read path. It never reuses a freed physical
// page number within one process lifetime, which keeps nonce derivation
// in PageCipher trivially unique without needing a persisted
// journal-rev table.
type MemStorage struct {
	pages    map[geometry.PhysPage][]byte
	nextPage uint64
	freed    map[geometry.PhysPage]bool
}

// NewMemStorage returns an empty in-RAM storage arena.
func NewMemStorage() *MemStorage {
	return &MemStorage{
		pages: make(map[geometry.PhysPage][]byte),
		freed: make(map[geometry.PhysPage]bool),
	}
}

func (m *MemStorage) DataDecryptPage(cipher *pagecipher.PageCipher, aad []byte, pp geometry.PhysPage) ([]byte, bool) {
	raw, ok := m.pages[pp]
	if !ok {
		return nil, false
	}
	return cipher.Decrypt(aad, pp, raw)
}

func (m *MemStorage) DataEncryptAndPatchPage(cipher *pagecipher.PageCipher, aad []byte, plaintext []byte, pp geometry.PhysPage) {
	wire := cipher.EncryptAndPatch(aad, plaintext, pp)
	m.pages[pp] = wire
}

func (m *MemStorage) TryFastSpaceAlloc() (geometry.PhysPage, bool) {
	m.nextPage++
	pp := geometry.PhysPage(m.nextPage)
	delete(m.freed, pp)
	return pp, true
}

func (m *MemStorage) FastSpaceFree(pp geometry.PhysPage) {
	delete(m.pages, pp)
	m.freed[pp] = true
}

func (m *MemStorage) TRNGSlice(buf []byte) {
	_, _ = rand.Read(buf)
}

func (m *MemStorage) PatchData(data []byte, physicalOffset uint64) {
	pp := geometry.PhysPage(physicalOffset / geometry.VPageSize)
	buf := make([]byte, len(data))
	copy(buf, data)
	m.pages[pp] = buf
}

// IsFreed reports whether pp has been returned to fastspace — a test
// hook for verifying paranoid delete and truncate reclaim physical
// pages.
func (m *MemStorage) IsFreed(pp geometry.PhysPage) bool {
	return m.freed[pp]
}

// RawPage exposes the raw (still-encrypted, or raw-patched) bytes
// stored at pp — a test hook for verifying paranoid overwrite actually
// replaced page contents before the page was freed.
func (m *MemStorage) RawPage(pp geometry.PhysPage) ([]byte, bool) {
	b, ok := m.pages[pp]
	return b, ok
}
