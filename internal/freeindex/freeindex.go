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
Package freeindex implements the min-ordered, run-length-encoded heap
of free descriptor slots: Pop returns the numerically smallest free
slot, and Push reinserts a freed slot while merging it into any
adjacent run so the heap never accumulates two ranges that touch or
overlap.
*/
package freeindex

import (
	"container/heap"
	"sort"
)

// Range is an inclusive run of free descriptor slots: {start, start+1,
// ..., start+run}.
type Range struct {
	Start uint32
	Run   uint32
}

type relation int

const (
	lessThan relation = iota
	leftAdjacent
	within
	rightAdjacent
	greaterThan
)

// relationTo classifies index relative to r, mirroring the five cases a
// sorted walk must distinguish when merging a freed slot into the
// existing run list.
func (r Range) relationTo(index uint32) relation {
	switch {
	case r.Start > 1 && index < r.Start-1:
		return lessThan
	case r.Start > 0 && index == r.Start-1:
		return leftAdjacent
	case index >= r.Start && index <= r.Start+r.Run:
		return within
	case index == r.Start+r.Run+1:
		return rightAdjacent
	default:
		return greaterThan
	}
}

// rangeHeap is a container/heap.Interface ordering Ranges by ascending
// Start, giving pop-minimum semantics.
type rangeHeap []Range

func (h rangeHeap) Len() int            { return len(h) }
func (h rangeHeap) Less(i, j int) bool  { return h[i].Start < h[j].Start }
func (h rangeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *rangeHeap) Push(x interface{}) { *h = append(*h, x.(Range)) }
func (h *rangeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Heap tracks the free descriptor slots of one dictionary.
type Heap struct {
	h rangeHeap
}

// New returns a Heap pre-seeded with a single free run, as a freshly
// mounted dictionary starts with every descriptor slot above the
// reserved slot 0 available.
func New(start, run uint32) *Heap {
	fh := &Heap{h: rangeHeap{{Start: start, Run: run}}}
	heap.Init(&fh.h)
	return fh
}

// Empty returns a Heap with no free slots at all.
func Empty() *Heap {
	return &Heap{h: rangeHeap{}}
}

// Pop returns the numerically smallest free descriptor slot, or false
// if the index space is exhausted. If the returned slot's run is
// nonzero, the remainder {start+1, run-1} is reinserted.
func (fh *Heap) Pop() (uint32, bool) {
	if fh.h.Len() == 0 {
		return 0, false
	}
	item := heap.Pop(&fh.h).(Range)
	if item.Run > 0 {
		heap.Push(&fh.h, Range{Start: item.Start + 1, Run: item.Run - 1})
	}
	return item.Start, true
}

// Push returns descriptor slot index to the free pool, merging it with
// any range it is adjacent to or bridges. Freeing a slot that is
// already within an existing range is a double-free and panics — it
// indicates a corrupted invariant, not a recoverable user error.
func (fh *Heap) Push(index uint32) {
	sorted := fh.drainSorted()

	result := make([]Range, 0, len(sorted)+1)
	inserted := false
	i := 0
	for i < len(sorted) {
		r := sorted[i]
		switch r.relationTo(index) {
		case lessThan:
			if !inserted {
				result = append(result, Range{Start: index, Run: 0})
				inserted = true
			}
			result = append(result, r)
			i++
		case leftAdjacent:
			result = append(result, Range{Start: index, Run: r.Run + 1})
			inserted = true
			i++
		case within:
			panic("freeindex: double-free of descriptor slot")
		case rightAdjacent:
			if i+1 < len(sorted) && sorted[i+1].relationTo(index) == leftAdjacent {
				next := sorted[i+1]
				result = append(result, Range{Start: r.Start, Run: r.Run + next.Run + 2})
				i += 2
			} else {
				result = append(result, Range{Start: r.Start, Run: r.Run + 1})
				i++
			}
			inserted = true
		case greaterThan:
			result = append(result, r)
			i++
		}
	}
	if !inserted {
		result = append(result, Range{Start: index, Run: 0})
	}

	fh.h = make(rangeHeap, 0, len(result))
	for _, r := range result {
		fh.h = append(fh.h, r)
	}
	heap.Init(&fh.h)
}

// drainSorted empties the heap and returns its ranges sorted ascending
// by Start.
func (fh *Heap) drainSorted() []Range {
	out := make([]Range, len(fh.h))
	copy(out, fh.h)
	fh.h = fh.h[:0]
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Ranges returns a sorted snapshot of the current free ranges, for
// diagnostics and tests.
func (fh *Heap) Ranges() []Range {
	out := make([]Range, len(fh.h))
	copy(out, fh.h)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Len returns the number of distinct free ranges (not the number of
// free slots).
func (fh *Heap) Len() int {
	return fh.h.Len()
}
