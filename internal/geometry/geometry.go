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
Package geometry holds the bit-exact virtual address layout shared by every
component of the dictionary cache: page sizes, descriptor strides, and the
disjoint virtual-address ranges for the small pool, the large pool, and the
per-dictionary descriptor table.

Address Layout:
===============

	0                         LargePoolStart                    2^64-1
	├───────────────┬──────────────────┼─────────────────────────────┤
	│  dictionaries  │   small pool     │          large pool         │
	│  (headers +    │  (packed slots)  │  (page-aligned extents,     │
	│  descriptors)  │                  │   one key per whole page)   │

Each dictionary *d* owns a stride of DictVSize starting at d*DictVSize.
Slot 0 of page 0 within that stride is the Dictionary header; descriptors
1..KeyMaxCount follow, DKPerVPage per virtual page.
*/
package geometry

const (
	// VPageSize is the logical page size used at the virtual addressing
	// layer. Distinct from any underlying device sector size.
	VPageSize = 4096

	// JournalWidth is the width in bytes of the monotonic journal counter
	// prepended to every page's plaintext.
	JournalWidth = 16

	// SmallCapacity is the number of usable plaintext bytes in one small
	// pool virtual page once the journal counter is subtracted.
	SmallCapacity = VPageSize - JournalWidth

	// DKStride is the on-disk stride, in bytes, of both a Dictionary
	// header record and a KeyDescriptor record.
	DKStride = 127

	// DKPerVPage is the number of descriptor slots packed into one
	// virtual page of the dictionary's descriptor table.
	DKPerVPage = VPageSize / DKStride // 32, with remainder left as padding

	// DictNameLen sizes the Dictionary header's name buffer so the whole
	// header marshals to exactly DKStride bytes: a flags byte and three
	// uint32 fields (age, num_keys, free_key_index) take 13 bytes, padded
	// to 16, leaving the rest for the name.
	DictNameLen = DKStride - 16

	// KeyNameLen sizes a KeyDescriptor's name buffer so the whole record
	// marshals to exactly DKStride bytes: a flags byte, age (4 bytes) and
	// start, len, reserved (8 bytes each) take 29 bytes, padded to 32,
	// leaving the rest for the name.
	KeyNameLen = DKStride - 32

	// KeyMaxCount is the maximum number of descriptor slots in a single
	// dictionary, including the unused slot 0.
	KeyMaxCount = 1 << 16

	// DictVSize is the virtual stride occupied by one dictionary: its
	// header/descriptor table pages.
	DictVSize = uint64(KeyMaxCount/DKPerVPage+1) * VPageSize

	// SmallPoolStart is the first virtual address of the small pool
	// region, placed after every dictionary's descriptor table.
	SmallPoolStart = uint64(1) << 40

	// SmallPoolStride is the virtual address span reserved for one
	// dictionary's small pool slots.
	SmallPoolStride = uint64(1) << 32

	// LargePoolStart is the first virtual address of the large pool
	// region, disjoint from the small pool.
	LargePoolStart = uint64(1) << 48
)

// PhysPage identifies a physical page on the underlying storage medium.
// Page 0 is reserved to mean "no page" / an absent mapping.
type PhysPage uint64

// Valid reports whether pp refers to an allocated physical page.
func (pp PhysPage) Valid() bool { return pp != 0 }

// VirtAddr is a virtual byte offset within a basis's address space.
type VirtAddr = uint64

// DictDescriptorVAddr returns the virtual address of the descriptor page
// containing descriptor slot `index` (1-based) within dictionary `dictIdx`.
func DictDescriptorVAddr(dictIdx uint32, index uint32) VirtAddr {
	return uint64(dictIdx)*DictVSize + uint64(index/DKPerVPage)*VPageSize
}

// DictDescriptorOffset returns the byte offset of descriptor slot `index`
// within its containing virtual page's plaintext, past the journal word.
func DictDescriptorOffset(index uint32) int {
	return JournalWidth + int(index%DKPerVPage)*DKStride
}

// SmallSlotVAddr returns the virtual address of small-pool slot `slot` of
// dictionary `dictIdx`.
func SmallSlotVAddr(dictIdx uint32, slot int) VirtAddr {
	return SmallPoolStart + uint64(dictIdx)*SmallPoolStride + uint64(slot)*SmallCapacity
}

// SmallSlotIndex recovers which small-pool slot a small key's `start`
// address resides in, for dictionary `dictIdx`. Returns (0, false) if
// `start` does not lie within this dictionary's small pool region.
func SmallSlotIndex(dictIdx uint32, start uint64, reserved uint64) (int, bool) {
	base := SmallPoolStart + uint64(dictIdx)*SmallPoolStride
	end := base + SmallPoolStride
	if start < base || start+reserved > end {
		return 0, false
	}
	return int((start - base) / SmallCapacity), true
}

// RoundUpToVPage rounds n up to the next multiple of VPageSize.
func RoundUpToVPage(n uint64) uint64 {
	if n%VPageSize == 0 {
		return n
	}
	return (n/VPageSize + 1) * VPageSize
}

// SaturatingAddU32 adds delta to v, clamping at math.MaxUint32 so age
// and modification counters never wrap back to zero.
func SaturatingAddU32(v uint32, delta uint32) uint32 {
	sum := uint64(v) + uint64(delta)
	if sum > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(sum)
}
