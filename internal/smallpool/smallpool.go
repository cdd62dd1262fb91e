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
Package smallpool implements the small-key packing pool: a vector of
fixed-capacity slots, each holding several small keys packed into one
virtual page, plus a max-heap over (avail, slot index) used for
best-fit placement of new keys.

Slots are append-only — none are ever compacted or removed, so an
emptied slot remains as a placeholder until the dictionary is rebuilt
from disk. This mirrors the underlying allocator's documented
fragmentation hazard: a pathological delete-everything-but-the-last-key
sequence can orphan a high-index slot that never gets reused by a
lower-capacity write.
*/
package smallpool

import (
	"container/heap"

	"github.com/firefly-oss/pddb/internal/geometry"
)

// Slot is one occupied (or previously occupied) small-pool virtual
// page: the set of key names packed into it, the bytes still
// available, and whether it has unsynced changes.
type Slot struct {
	Contents []string
	Avail    uint16
	Clean    bool
}

func newSlot() *Slot {
	return &Slot{Avail: geometry.SmallCapacity, Clean: false}
}

// candidate is one entry of the max-heap, keyed by (avail, index).
// Ties between equally-available slots break toward the highest slot
// index, keeping the pop order fully deterministic.
type candidate struct {
	avail uint16
	index int
}

type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].avail != h[j].avail {
		return h[i].avail > h[j].avail
	}
	return h[i].index > h[j].index
}
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Pool is the per-dictionary small-pool bookkeeping structure.
type Pool struct {
	slots []*Slot
	free  candidateHeap
}

// New returns an empty Pool with no slots.
func New() *Pool {
	return &Pool{}
}

// Slots returns the live slot vector, indexed by slot number.
func (p *Pool) Slots() []*Slot {
	return p.slots
}

// Slot returns the slot at index, or nil if out of range.
func (p *Pool) Slot(index int) *Slot {
	if index < 0 || index >= len(p.slots) {
		return nil
	}
	return p.slots[index]
}

// Len returns the number of slots, occupied or not.
func (p *Pool) Len() int {
	return len(p.slots)
}

// RebuildFreePool clears and repopulates the free-candidate heap from
// the current slot vector, including empty placeholder slots.
func (p *Pool) RebuildFreePool() {
	p.free = make(candidateHeap, 0, len(p.slots))
	for i, s := range p.slots {
		p.free = append(p.free, candidate{avail: s.Avail, index: i})
	}
	heap.Init(&p.free)
}

// EnsureSlot pads the slot vector with blank, already-synced placeholder
// slots up to index+1, without touching the free-candidate heap. Used
// while replaying descriptors read from disk during fill, where a
// small key's address may reference a slot index this pool has not
// yet materialized locally.
func (p *Pool) EnsureSlot(index int) {
	for len(p.slots) <= index {
		s := newSlot()
		s.Clean = true
		p.slots = append(p.slots, s)
	}
}

// Alloc places a new key of size reservation into the slot at the top
// of the max-heap (the one with the most available bytes), appending a
// fresh slot at the tail when even that slot cannot hold it, and
// returns the slot index it was placed in.
func (p *Pool) Alloc(name string, reservation uint16) int {
	if len(p.slots) == 0 {
		p.slots = append(p.slots, newSlot())
		p.RebuildFreePool()
	}

	best := heap.Pop(&p.free).(candidate)
	var index int
	if best.avail >= reservation {
		s := p.slots[best.index]
		s.Contents = append(s.Contents, name)
		s.Avail -= reservation
		s.Clean = false
		heap.Push(&p.free, candidate{avail: s.Avail, index: best.index})
		index = best.index
	} else {
		heap.Push(&p.free, best)
		s := newSlot()
		s.Contents = append(s.Contents, name)
		s.Avail -= reservation
		s.Clean = false
		index = len(p.slots)
		heap.Push(&p.free, candidate{avail: s.Avail, index: index})
		p.slots = append(p.slots, s)
	}
	return index
}

// Free returns reservation bytes to slot index and removes name from
// its contents. Panics if avail would overflow the slot capacity — a
// corrupted invariant, not a recoverable condition.
func (p *Pool) Free(index int, name string, reservation uint16) {
	s := p.slots[index]
	for i, n := range s.Contents {
		if n == name {
			s.Contents[i] = s.Contents[len(s.Contents)-1]
			s.Contents = s.Contents[:len(s.Contents)-1]
			break
		}
	}
	newAvail := s.Avail + reservation
	if newAvail > geometry.SmallCapacity || newAvail < s.Avail {
		panic("smallpool: avail overflow freeing slot")
	}
	s.Avail = newAvail
	s.Clean = false
}
