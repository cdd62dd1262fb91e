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

package dictcache

import (
	"bytes"
	"testing"

	"github.com/firefly-oss/pddb/internal/config"
	"github.com/firefly-oss/pddb/internal/errors"
	"github.com/firefly-oss/pddb/internal/geometry"
	"github.com/firefly-oss/pddb/internal/pagecipher"
	"github.com/firefly-oss/pddb/internal/plaintextcache"
	"github.com/firefly-oss/pddb/internal/storage"
	"github.com/firefly-oss/pddb/internal/v2p"
)

// harness bundles the collaborators a DictCache borrows for every
// public call.
type harness struct {
	st     *storage.MemStorage
	vm     *v2p.Map
	cipher *pagecipher.PageCipher
	aad    []byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := pagecipher.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cipher, err := pagecipher.New(key)
	if err != nil {
		t.Fatalf("pagecipher.New: %v", err)
	}
	return &harness{
		st:     storage.NewMemStorage(),
		vm:     v2p.New(),
		cipher: cipher,
		aad:    []byte("test-basis-aad"),
	}
}

func (h *harness) newDict(cfg *config.Config) *DictCache {
	return New(DefaultDictionary("d"), 0, h.aad, cfg)
}

// syncDescriptorsForTest rewrites every cached key's on-disk descriptor
// slot, standing in for the caller-driven descriptor-page sync that
// lives outside DictCache's own surface (the real version is
// internal/engine.Basis.Sync).
func syncDescriptorsForTest(t *testing.T, h *harness, dc *DictCache) {
	t.Helper()
	cache := plaintextcache.New()
	lookup := func(va geometry.VirtAddr) (geometry.PhysPage, bool) { return h.vm.Get(va) }
	decrypt := func(pp geometry.PhysPage) ([]byte, bool) { return h.st.DataDecryptPage(h.cipher, h.aad, pp) }

	// Group records per descriptor page so each shared page is
	// decrypted, patched and re-encrypted exactly once.
	type patch struct {
		offset int
		record []byte
	}
	pending := make(map[geometry.VirtAddr][]patch)
	for name, kce := range dc.keys {
		desc := KeyDescriptor{
			Start:    kce.Start,
			Len:      kce.Len,
			Reserved: kce.Reserved,
			Flags:    kce.Flags,
			Age:      kce.Age,
			Name:     name,
		}
		vaddr := geometry.DictDescriptorVAddr(dc.index, kce.DescriptorIndex)
		offset := geometry.DictDescriptorOffset(kce.DescriptorIndex)
		pending[vaddr] = append(pending[vaddr], patch{offset: offset, record: desc.Marshal()})
		kce.Clean = true
	}

	for vaddr, patches := range pending {
		pp, err := h.vm.EntryOrInsertWith(vaddr, func() (geometry.PhysPage, error) {
			pp, ok := h.st.TryFastSpaceAlloc()
			if !ok {
				return 0, errors.OutOfDiskSpace("test descriptor sync")
			}
			return pp, nil
		})
		if err != nil {
			t.Fatalf("descriptor page alloc: %v", err)
		}
		cache.Fill(lookup, decrypt, vaddr)
		buf := make([]byte, pagecipher.PlaintextSize)
		if page, ok := cache.Data(); ok {
			copy(buf, page)
		}
		for _, p := range patches {
			copy(buf[p.offset:p.offset+geometry.DKStride], p.record)
		}
		h.st.DataEncryptAndPatchPage(h.cipher, h.aad, buf, pp)
	}
}

// countingPatch wraps MemStorage to count PatchData calls, so paranoid
// delete's "overwrite before free" step is directly observable.
type countingPatch struct {
	*storage.MemStorage
	patches int
}

func (c *countingPatch) PatchData(data []byte, physicalOffset uint64) {
	c.patches++
	c.MemStorage.PatchData(data, physicalOffset)
}

func TestThreeSmallKeysPackIntoOneVirtualPage(t *testing.T) {
	h := newHarness(t)
	dc := h.newDict(nil)

	ptr := uint64(geometry.LargePoolStart)
	var err error
	ptr, err = dc.KeyUpdate(h.st, h.vm, h.cipher, "a", bytes.Repeat([]byte{0x11}, 100), 0, 0, false, ptr)
	mustNil(t, err)
	ptr, err = dc.KeyUpdate(h.st, h.vm, h.cipher, "b", bytes.Repeat([]byte{0x22}, 200), 0, 0, false, ptr)
	mustNil(t, err)
	_, err = dc.KeyUpdate(h.st, h.vm, h.cipher, "c", bytes.Repeat([]byte{0x33}, 300), 0, 0, false, ptr)
	mustNil(t, err)

	if dc.smallPool.Len() != 1 {
		t.Fatalf("expected all three keys in one slot, got %d slots", dc.smallPool.Len())
	}
	slot := dc.smallPool.Slot(0)
	wantAvail := geometry.SmallCapacity - 600
	if int(slot.Avail) != wantAvail {
		t.Errorf("avail = %d, want %d", slot.Avail, wantAvail)
	}
	for _, name := range []string{"a", "b", "c"} {
		if _, ok := dc.Get(name); !ok {
			t.Errorf("expected %q present in cache", name)
		}
	}

	if err := dc.SyncSmallPool(h.st, h.vm, h.cipher); err != nil {
		t.Fatalf("SyncSmallPool: %v", err)
	}
	syncDescriptorsForTest(t, h, dc)

	fresh := New(DefaultDictionary("d"), 0, h.aad, nil)
	fresh.keyCount = 3
	fresh.Fill(h.st, h.vm, h.cipher)
	for name, want := range map[string][]byte{
		"a": bytes.Repeat([]byte{0x11}, 100),
		"b": bytes.Repeat([]byte{0x22}, 200),
		"c": bytes.Repeat([]byte{0x33}, 300),
	} {
		kce, ok := fresh.Get(name)
		if !ok || kce.Data == nil {
			t.Fatalf("reload: expected %q present with a body", name)
		}
		if !bytes.Equal(kce.Data.Bytes, want) {
			t.Errorf("reload: %q body = %x, want %x", name, kce.Data.Bytes, want)
		}
	}
}

func TestSmallToLargeEscalation(t *testing.T) {
	h := newHarness(t)
	dc := h.newDict(nil)

	body := bytes.Repeat([]byte{0xAA}, 5000)
	if _, err := dc.KeyUpdate(h.st, h.vm, h.cipher, "big", body, 0, 0, false, geometry.LargePoolStart); err != nil {
		t.Fatalf("KeyUpdate: %v", err)
	}

	kce, ok := dc.Get("big")
	if !ok {
		t.Fatal("expected big to be present")
	}
	if kce.Start < geometry.LargePoolStart {
		t.Errorf("expected large-pool placement, start=%d", kce.Start)
	}
	if kce.Reserved != 2*geometry.VPageSize {
		t.Errorf("reserved = %d, want %d", kce.Reserved, 2*geometry.VPageSize)
	}
	if kce.Data != nil {
		t.Error("large keys must not carry an in-RAM body")
	}

	for vaddr := kce.Start; vaddr < kce.Start+kce.Reserved; vaddr += geometry.VPageSize {
		if _, ok := h.vm.Get(vaddr); !ok {
			t.Errorf("expected a physical mapping for large page at %d", vaddr)
		}
	}
}

func TestDeleteReclaimAndReuseDescriptorIndex(t *testing.T) {
	h := newHarness(t)
	dc := h.newDict(nil)
	ptr := uint64(geometry.LargePoolStart)

	ptr, err := dc.KeyUpdate(h.st, h.vm, h.cipher, "x", []byte("hello"), 0, 0, false, ptr)
	mustNil(t, err)
	xEntry, _ := dc.Get("x")
	xIndex := xEntry.DescriptorIndex

	ptr, err = dc.KeyUpdate(h.st, h.vm, h.cipher, "y", []byte("world"), 0, 0, false, ptr)
	mustNil(t, err)

	dc.KeyRemove(h.st, h.vm, h.cipher, "x", false)
	if _, err = dc.KeyUpdate(h.st, h.vm, h.cipher, "z", []byte("hi"), 0, 0, false, ptr); err != nil {
		t.Fatalf("KeyUpdate z: %v", err)
	}

	zEntry, ok := dc.Get("z")
	if !ok {
		t.Fatal("expected z present")
	}
	if zEntry.DescriptorIndex != xIndex {
		t.Errorf("expected z to reuse x's descriptor index %d, got %d", xIndex, zEntry.DescriptorIndex)
	}
}

func TestTruncateLargeKeyFreesTrailingPages(t *testing.T) {
	h := newHarness(t)
	dc := h.newDict(nil)

	body := make([]byte, 16384)
	if _, err := dc.KeyUpdate(h.st, h.vm, h.cipher, "stream", body, 0, 0, false, geometry.LargePoolStart); err != nil {
		t.Fatalf("KeyUpdate: %v", err)
	}
	kce, _ := dc.Get("stream")
	oldPages := []geometry.PhysPage{}
	for vaddr := kce.Start; vaddr < kce.Start+kce.Reserved; vaddr += geometry.VPageSize {
		pp, _ := h.vm.Get(vaddr)
		oldPages = append(oldPages, pp)
	}

	newBody := bytes.Repeat([]byte{1}, 3000)
	if _, err := dc.KeyUpdate(h.st, h.vm, h.cipher, "stream", newBody, 0, 0, true, geometry.LargePoolStart); err != nil {
		t.Fatalf("truncating KeyUpdate: %v", err)
	}

	kce, _ = dc.Get("stream")
	if kce.Reserved != geometry.VPageSize {
		t.Errorf("reserved = %d, want %d", kce.Reserved, geometry.VPageSize)
	}
	freedCount := 0
	for _, pp := range oldPages[1:] {
		if h.st.IsFreed(pp) {
			freedCount++
		}
	}
	if freedCount != 3 {
		t.Errorf("expected 3 trailing pages freed, got %d", freedCount)
	}
}

func TestParanoidLargeDeleteOverwritesBeforeFreeing(t *testing.T) {
	h := newHarness(t)
	cst := &countingPatch{MemStorage: h.st}
	dc := h.newDict(nil)

	body := bytes.Repeat([]byte{0x5A}, 8192)
	if _, err := dc.KeyUpdate(cst, h.vm, h.cipher, "secret", body, 0, 0, false, geometry.LargePoolStart); err != nil {
		t.Fatalf("KeyUpdate: %v", err)
	}

	dc.KeyRemove(cst, h.vm, h.cipher, "secret", true)
	if cst.patches != 2 {
		t.Errorf("expected 2 paranoid overwrites (one per physical page), got %d", cst.patches)
	}

	kce, ok := dc.Get("secret")
	if !ok || kce.Flags.Valid {
		t.Error("expected secret's descriptor to be tombstoned")
	}
	for vaddr := kce.Start; vaddr < kce.Start+kce.Reserved; vaddr += geometry.VPageSize {
		if _, ok := h.vm.Get(vaddr); ok {
			t.Error("expected large key's physical mapping to be removed after delete")
		}
	}
}

func TestDescriptorExhaustion(t *testing.T) {
	h := newHarness(t)
	cfg := config.DefaultConfig()
	cfg.KeyMaxCount = 3 // slots 0 (header), 1, 2 -- only two usable descriptors
	dc := h.newDict(cfg)

	ptr := uint64(geometry.LargePoolStart)
	var err error
	ptr, err = dc.KeyUpdate(h.st, h.vm, h.cipher, "k1", []byte("a"), 0, 0, false, ptr)
	mustNil(t, err)
	ptr, err = dc.KeyUpdate(h.st, h.vm, h.cipher, "k2", []byte("b"), 0, 0, false, ptr)
	mustNil(t, err)

	_, err = dc.KeyUpdate(h.st, h.vm, h.cipher, "k3", []byte("c"), 0, 0, false, ptr)
	if err == nil {
		t.Fatal("expected OutOfIndex once descriptor slots are exhausted")
	}
	if errors.GetCode(err) != errors.ErrCodeOutOfIndex {
		t.Errorf("expected OutOfIndex, got %v", err)
	}
	if _, ok := dc.Get("k3"); ok {
		t.Error("k3 must not be present in cache after a failed allocation")
	}
}

func TestIdempotentDelete(t *testing.T) {
	h := newHarness(t)
	dc := h.newDict(nil)
	ptr := uint64(geometry.LargePoolStart)
	if _, err := dc.KeyUpdate(h.st, h.vm, h.cipher, "k", []byte("v"), 0, 0, false, ptr); err != nil {
		t.Fatalf("KeyUpdate: %v", err)
	}

	dc.KeyRemove(h.st, h.vm, h.cipher, "k", false)
	dc.KeyRemove(h.st, h.vm, h.cipher, "k", false) // must be a silent no-op, not a panic

	kce, ok := dc.Get("k")
	if !ok || kce.Flags.Valid {
		t.Error("expected k to remain tombstoned after the second delete")
	}
}

func TestUnknownKeyDeleteIsNoOp(t *testing.T) {
	h := newHarness(t)
	dc := h.newDict(nil)
	dc.KeyRemove(h.st, h.vm, h.cipher, "never-existed", false)
	if _, ok := dc.Get("never-existed"); ok {
		t.Error("deleting an unknown key must not create a cache entry")
	}
}

func TestPutOverPutKeepsDescriptorIndexWhenItFits(t *testing.T) {
	h := newHarness(t)
	dc := h.newDict(nil)
	ptr := uint64(geometry.LargePoolStart)

	ptr, err := dc.KeyUpdate(h.st, h.vm, h.cipher, "k", []byte("v1"), 0, 64, false, ptr)
	mustNil(t, err)
	first, _ := dc.Get("k")
	firstIndex := first.DescriptorIndex

	if _, err := dc.KeyUpdate(h.st, h.vm, h.cipher, "k", []byte("v2-longer"), 0, 0, false, ptr); err != nil {
		t.Fatalf("second KeyUpdate: %v", err)
	}
	second, _ := dc.Get("k")
	if second.DescriptorIndex != firstIndex {
		t.Errorf("expected descriptor index to stay %d, got %d", firstIndex, second.DescriptorIndex)
	}
	if !bytes.Equal(second.Data.Bytes, []byte("v2-longer")) {
		t.Errorf("body = %q, want %q", second.Data.Bytes, "v2-longer")
	}
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
