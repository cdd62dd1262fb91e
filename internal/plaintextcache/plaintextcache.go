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
Package plaintextcache holds a single decrypted page plus the physical
page it was decrypted from. Rather than tracking the page and its tag
as two independent optionals, Cache is one tagged state so "data
present but tag absent" is unrepresentable. The three valid cases are:

  - Empty: nothing cached (no mapping seen yet, or the mapping vanished).
  - TagOnly: the physical page is known but its last decrypt failed —
    the page is unreadable. Remembering the tag keeps a corrupted page
    from being re-decrypted on every lookup that lands on it.
  - Filled: tag and plaintext both present.
*/
package plaintextcache

import "github.com/firefly-oss/pddb/internal/geometry"

type state int

const (
	stateEmpty state = iota
	stateTagOnly
	stateFilled
)

// Decrypter is the subset of pagecipher.PageCipher (and the storage
// layer's page decrypt call) that Cache needs to refill itself.
type Decrypter func(pp geometry.PhysPage) ([]byte, bool)

// Cache is a single-slot cache of one decrypted virtual page.
type Cache struct {
	st   state
	tag  geometry.PhysPage
	data []byte
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{st: stateEmpty}
}

// Tag returns the physical page the cache last attempted to decrypt,
// whether or not that decrypt produced data.
func (c *Cache) Tag() (geometry.PhysPage, bool) {
	if c.st == stateEmpty {
		return 0, false
	}
	return c.tag, true
}

// Data returns the cached plaintext, if the cache is currently filled.
func (c *Cache) Data() ([]byte, bool) {
	if c.st != stateFilled {
		return nil, false
	}
	return c.data, true
}

// Fill ensures the cache reflects the page mapped to reqVaddr in
// lookup, refilling only when necessary:
//
//   - no mapping for reqVaddr: the cache is cleared (tag and data go
//     empty together, never independently).
//   - a mapping exists whose physical page differs from the cached tag
//     (or the cache is empty): the page is decrypted. On success the
//     cache is Filled; on failure it records the tag with no data, so
//     the failure itself is remembered.
//   - a mapping exists and already matches the cached tag: the cache is
//     left untouched — repeat Fills for the same mapped page perform at
//     most one decryption, including when that decryption failed.
//
// decrypt is called at most once per Fill invocation.
func (c *Cache) Fill(lookup func(geometry.VirtAddr) (geometry.PhysPage, bool), decrypt Decrypter, reqVaddr geometry.VirtAddr) {
	pp, ok := lookup(reqVaddr)
	if !ok {
		c.st = stateEmpty
		c.data = nil
		return
	}

	if c.st != stateEmpty && c.tag == pp {
		return
	}

	data, ok := decrypt(pp)
	if !ok {
		c.tag = pp
		c.data = nil
		c.st = stateTagOnly
		return
	}
	c.data = data
	c.tag = pp
	c.st = stateFilled
}
