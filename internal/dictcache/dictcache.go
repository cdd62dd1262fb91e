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
Package dictcache owns one dictionary's key cache and small pool: it
drives PlaintextCache-mediated reads of the on-disk descriptor table,
and mutates/persists key state through FreeIndexHeap-backed descriptor
recycling. DictCache is the only public surface a basis calls into;
everything else in this module is a collaborator it borrows for the
duration of one call.
*/
package dictcache

import (
	"crypto/rand"

	"github.com/firefly-oss/pddb/internal/config"
	"github.com/firefly-oss/pddb/internal/errors"
	"github.com/firefly-oss/pddb/internal/freeindex"
	"github.com/firefly-oss/pddb/internal/geometry"
	"github.com/firefly-oss/pddb/internal/logging"
	"github.com/firefly-oss/pddb/internal/pagecipher"
	"github.com/firefly-oss/pddb/internal/plaintextcache"
	"github.com/firefly-oss/pddb/internal/smallpool"
	"github.com/firefly-oss/pddb/internal/storage"
	"github.com/firefly-oss/pddb/internal/v2p"
)

var log = logging.NewLogger("dictcache")

// DictCache is the in-RAM cache and allocator for one dictionary's
// keys.
type DictCache struct {
	index uint32
	aad   []byte
	cfg   *config.Config

	flags            DictFlags
	age              uint32
	name             string
	keyCount         uint32 // header's persisted key count, incremented for each key created since
	lastDiskKeyIndex uint32

	keys      map[string]*KeyCacheEntry
	freeKeys  *freeindex.Heap
	smallPool *smallpool.Pool

	clean bool
}

// New constructs a DictCache from a freshly read Dictionary header.
func New(header Dictionary, index uint32, aad []byte, cfg *config.Config) *DictCache {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &DictCache{
		index:     index,
		aad:       aad,
		cfg:       cfg,
		flags:     header.Flags,
		age:       header.Age,
		name:      header.Name,
		keyCount:  header.NumKeys,
		freeKeys:  freeindex.New(header.FreeKeyIndex, cfg.KeyMaxCount-header.FreeKeyIndex-1),
		keys:      make(map[string]*KeyCacheEntry),
		smallPool: smallpool.New(),
		clean:     true,
	}
}

func (dc *DictCache) keyMaxCount() uint32 {
	return dc.cfg.KeyMaxCount
}

func lookupFunc(vm *v2p.Map) func(geometry.VirtAddr) (geometry.PhysPage, bool) {
	return func(va geometry.VirtAddr) (geometry.PhysPage, bool) { return vm.Get(va) }
}

func decryptFunc(st storage.Storage, cipher *pagecipher.PageCipher, aad []byte) plaintextcache.Decrypter {
	return func(pp geometry.PhysPage) ([]byte, bool) { return st.DataDecryptPage(cipher, aad, pp) }
}

// Fill scans the on-disk descriptor table and populates the cache,
// returning the high-water large-pool allocation pointer observed so
// the caller can advance its own allocation cursor.
func (dc *DictCache) Fill(st storage.Storage, vm *v2p.Map, cipher *pagecipher.PageCipher) uint64 {
	indexCache := plaintextcache.New()
	dataCache := plaintextcache.New()
	lookup := lookupFunc(vm)
	decrypt := decryptFunc(st, cipher, dc.aad)

	tryEntry := uint32(1)
	var keyCount uint32
	allocTop := geometry.LargePoolStart

	for tryEntry < dc.keyMaxCount() && keyCount < dc.keyCount {
		reqVaddr := geometry.DictDescriptorVAddr(dc.index, tryEntry)
		indexCache.Fill(lookup, decrypt, reqVaddr)
		data, okData := indexCache.Data()
		tag, okTag := indexCache.Tag()
		if !okData || !okTag {
			log.Warn("fill encountered an unallocated descriptor page, skipping forward")
			tryEntry += geometry.DKPerVPage
			continue
		}
		pp, ok := vm.Get(reqVaddr)
		if !ok || pp != tag {
			panic("dictcache: cache inconsistency error during fill")
		}

		offset := geometry.DictDescriptorOffset(tryEntry)
		desc := UnmarshalKeyDescriptor(data[offset : offset+geometry.DKStride])
		if desc.Flags.Valid {
			if _, exists := dc.keys[desc.Name]; !exists {
				kce := &KeyCacheEntry{
					Start:           desc.Start,
					Len:             desc.Len,
					Reserved:        desc.Reserved,
					Flags:           desc.Flags,
					Age:             desc.Age,
					DescriptorIndex: tryEntry,
					Clean:           true,
				}
				if desc.Start >= geometry.LargePoolStart {
					if desc.Start+desc.Reserved > allocTop {
						allocTop = desc.Start + desc.Reserved
					}
				} else {
					dc.tryFillSmallKey(st, vm, cipher, dataCache, kce, desc.Name)
				}
				dc.keys[desc.Name] = kce
			}
			keyCount++
		}
		tryEntry++
	}
	dc.lastDiskKeyIndex = tryEntry
	dc.smallPool.RebuildFreePool()
	return allocTop
}

// tryFillSmallKey pre-loads a small key's body from its data page, if
// the key's address falls within this dictionary's small pool region.
func (dc *DictCache) tryFillSmallKey(st storage.Storage, vm *v2p.Map, cipher *pagecipher.PageCipher, dataCache *plaintextcache.Cache, kce *KeyCacheEntry, name string) {
	poolIndex, ok := geometry.SmallSlotIndex(dc.index, kce.Start, kce.Reserved)
	if !ok {
		return
	}
	dc.smallPool.EnsureSlot(poolIndex)
	slot := dc.smallPool.Slot(poolIndex)
	slot.Contents = append(slot.Contents, name)

	if kce.Reserved < kce.Len {
		panic("dictcache: reserved amount is less than length")
	}
	if kce.Reserved > geometry.VPageSize {
		panic("dictcache: reservation is not appropriate for the small pool")
	}
	if uint64(slot.Avail) < kce.Reserved {
		panic("dictcache: small pool slot capacity bookkeeping error")
	}
	slot.Avail -= uint16(kce.Reserved)

	slotVAddr := geometry.SmallSlotVAddr(dc.index, poolIndex)
	lookup := lookupFunc(vm)
	decrypt := decryptFunc(st, cipher, dc.aad)
	dataCache.Fill(lookup, decrypt, slotVAddr)
	page, ok := dataCache.Data()
	if !ok {
		log.Warn("small key data page unreadable during pre-fill", "key", name)
		return
	}
	koffset := geometry.JournalWidth + int(kce.Start-slotVAddr)
	body := make([]byte, kce.Len)
	copy(body, page[koffset:koffset+int(kce.Len)])
	kce.Data = &SmallData{Clean: true, Bytes: body}
}

// EnsureKeyEntry ensures name is present in cache, scanning the
// remaining on-disk descriptor range if necessary. Returns false for
// both unknown names and cached tombstones.
func (dc *DictCache) EnsureKeyEntry(st storage.Storage, vm *v2p.Map, cipher *pagecipher.PageCipher, name string) bool {
	if kce, ok := dc.keys[name]; ok {
		return kce.Flags.Valid
	}

	indexCache := plaintextcache.New()
	dataCache := plaintextcache.New()
	lookup := lookupFunc(vm)
	decrypt := decryptFunc(st, cipher, dc.aad)

	tryEntry := uint32(1)
	var keyCount uint32
	for tryEntry < dc.keyMaxCount() && keyCount < dc.keyCount && tryEntry <= dc.lastDiskKeyIndex {
		reqVaddr := geometry.DictDescriptorVAddr(dc.index, tryEntry)
		indexCache.Fill(lookup, decrypt, reqVaddr)
		data, okData := indexCache.Data()
		tag, okTag := indexCache.Tag()
		if !okData || !okTag {
			log.Warn("ensure_key_entry encountered an unallocated descriptor page, skipping forward")
			tryEntry += geometry.DKPerVPage
			continue
		}
		pp, ok := vm.Get(reqVaddr)
		if !ok || pp != tag {
			panic("dictcache: cache inconsistency error during ensure_key_entry")
		}

		offset := geometry.DictDescriptorOffset(tryEntry)
		desc := UnmarshalKeyDescriptor(data[offset : offset+geometry.DKStride])
		if desc.Flags.Valid {
			if desc.Name == name {
				kce := &KeyCacheEntry{
					Start:           desc.Start,
					Len:             desc.Len,
					Reserved:        desc.Reserved,
					Flags:           desc.Flags,
					Age:             desc.Age,
					DescriptorIndex: tryEntry,
					Clean:           true,
				}
				dc.tryFillSmallKey(st, vm, cipher, dataCache, kce, name)
				dc.keys[name] = kce
				return true
			}
			keyCount++
		}
		tryEntry++
	}
	return false
}

// KeyContains reports whether name has a cache entry (including
// tombstones).
func (dc *DictCache) KeyContains(name string) bool {
	_, ok := dc.keys[name]
	return ok
}

// KeyList inserts every cached key's name (tombstones included) into
// mergeSet, filling from disk first if the cache is not yet fully
// populated. Tombstones are deliberately not filtered: callers compose
// listings across bases and need to see pending deletions.
func (dc *DictCache) KeyList(st storage.Storage, vm *v2p.Map, cipher *pagecipher.PageCipher, mergeSet map[string]struct{}) {
	if uint32(len(dc.keys)) < dc.keyCount {
		dc.Fill(st, vm, cipher)
	}
	for name := range dc.keys {
		mergeSet[name] = struct{}{}
	}
}

// SyncLargePool is a documented no-op: large-key bodies are never
// cached in RAM, so there is nothing buffered to flush.
func (dc *DictCache) SyncLargePool() {}

// AllocEstimateSmall upper-bounds the number of physical pages a
// small-pool sync will need, so the caller can reserve fastspace before
// committing to the sync.
func (dc *DictCache) AllocEstimateSmall() int {
	dataEstimate := 0
	indexEstimate := 0
	for _, slot := range dc.smallPool.Slots() {
		if slot.Clean {
			continue
		}
		for _, name := range slot.Contents {
			kce, ok := dc.keys[name]
			if !ok {
				panic("dictcache: data allocated but no index entry")
			}
			if kce.Flags.Unresolved {
				dataEstimate += geometry.SmallCapacity - int(slot.Avail)
				indexEstimate++
			}
		}
	}
	indexAvail := geometry.DKPerVPage - len(dc.keys)%geometry.DKPerVPage
	indexReq := 0
	if indexEstimate > indexAvail {
		indexReq = (indexEstimate-indexAvail)/geometry.DKPerVPage + 1
	}
	return dataEstimate/geometry.VPageSize + 1 + indexReq
}

// SyncSmallPool flushes every dirty small-pool slot to disk, repacking
// each slot's keys back-to-back into a freshly zeroed plaintext and
// finalizing their start addresses. Descriptors remain dirty until the
// caller syncs the descriptor pages.
func (dc *DictCache) SyncSmallPool(st storage.Storage, vm *v2p.Map, cipher *pagecipher.PageCipher) error {
	for index, slot := range dc.smallPool.Slots() {
		if slot.Clean {
			continue
		}
		poolVaddr := geometry.SmallSlotVAddr(dc.index, index)
		pp, err := vm.EntryOrInsertWith(poolVaddr, func() (geometry.PhysPage, error) {
			pp, ok := st.TryFastSpaceAlloc()
			if !ok {
				return 0, errors.OutOfDiskSpace("small pool sync")
			}
			return pp, nil
		})
		if err != nil {
			return err
		}

		plaintext := make([]byte, pagecipher.PlaintextSize)
		poolOffset := uint64(0)
		for _, name := range slot.Contents {
			kce, ok := dc.keys[name]
			if !ok {
				panic("dictcache: small pool slot references unknown key")
			}
			if kce.Data == nil {
				panic("dictcache: small key missing in-RAM body during sync")
			}
			dst := geometry.JournalWidth + int(poolOffset)
			copy(plaintext[dst:dst+len(kce.Data.Bytes)], kce.Data.Bytes)

			kce.Start = poolVaddr + poolOffset
			poolOffset += kce.Reserved
			kce.Flags.Unresolved = false
			kce.Flags.Valid = true
			kce.Clean = false
			kce.Data.Clean = true
		}

		st.DataEncryptAndPatchPage(cipher, dc.aad, plaintext, pp)
		slot.Clean = true
	}
	return nil
}

// KeyErase is an explicitly unimplemented placeholder: whether it
// should zero-fill then delete or flush then delete has not been
// decided, so it surfaces a distinct error rather than guessing.
func (dc *DictCache) KeyErase(name string) error {
	return errors.NotImplemented("key_erase")
}

func (dc *DictCache) allocFreeKey() (uint32, error) {
	index, ok := dc.freeKeys.Pop()
	if !ok {
		return 0, errors.OutOfIndex(dc.name)
	}
	if index > dc.lastDiskKeyIndex {
		dc.lastDiskKeyIndex = index + 1
	}
	return index, nil
}

// KeyUpdate writes data at offset into name's body, creating the key
// if absent, and returns the advanced large-pool allocation pointer so
// the caller can thread it through successive updates.
func (dc *DictCache) KeyUpdate(st storage.Storage, vm *v2p.Map, cipher *pagecipher.PageCipher, name string, data []byte, offset uint64, allocHint uint64, truncate bool, largeAllocPtr uint64) (uint64, error) {
	dc.age = geometry.SaturatingAddU32(dc.age, 1)
	dc.clean = false

	if dc.EnsureKeyEntry(st, vm, cipher, name) {
		kce := dc.keys[name]
		if kce.Reserved < uint64(len(data))+offset {
			// Case B: doesn't fit, remove and recreate.
			dc.KeyRemove(st, vm, cipher, name, false)
			return dc.KeyUpdate(st, vm, cipher, name, data, offset, allocHint, truncate, largeAllocPtr)
		}
		// Case A: exists and fits.
		if kce.Start < geometry.LargePoolStart {
			dc.updateSmallKey(kce, name, data, offset)
		} else {
			if err := dc.updateLargeKey(st, vm, cipher, kce, data, offset, truncate); err != nil {
				return largeAllocPtr, err
			}
		}
		return largeAllocPtr, nil
	}

	// Key absent: Case C (small) or Case D (large).
	if uint64(len(data))+offset < geometry.SmallCapacity && allocHint < geometry.SmallCapacity {
		if err := dc.createSmallKey(name, data, offset, allocHint); err != nil {
			return largeAllocPtr, err
		}
		return largeAllocPtr, nil
	}
	return dc.createLargeKey(st, vm, cipher, name, data, offset, allocHint, truncate, largeAllocPtr)
}

func (dc *DictCache) updateSmallKey(kce *KeyCacheEntry, name string, data []byte, offset uint64) {
	if kce.Data == nil {
		panic("dictcache: small key missing in-RAM body on update")
	}
	kce.Data.Clean = false
	need := int(offset) + len(data)
	for len(kce.Data.Bytes) < need {
		kce.Data.Bytes = append(kce.Data.Bytes, 0)
	}
	copy(kce.Data.Bytes[offset:], data)
	if uint64(need) > kce.Len {
		kce.Len = uint64(need)
	}
	// truncate is deliberately ignored for small keys.

	poolIndex, ok := geometry.SmallSlotIndex(dc.index, kce.Start, kce.Reserved)
	if !ok {
		panic("dictcache: small key address no longer maps to a small pool slot")
	}
	dc.smallPool.Slot(poolIndex).Clean = false
}

func (dc *DictCache) updateLargeKey(st storage.Storage, vm *v2p.Map, cipher *pagecipher.PageCipher, kce *KeyCacheEntry, data []byte, offset uint64, truncate bool) error {
	kce.Age = geometry.SaturatingAddU32(kce.Age, 1)
	kce.Clean = false

	written := 0
	// Phase 1: unaligned leading partial page.
	if (kce.Start+offset)%geometry.VPageSize != 0 {
		startVpage := ((kce.Start + offset) / geometry.VPageSize) * geometry.VPageSize
		pp, ok := vm.Get(startVpage)
		if !ok {
			panic("dictcache: large key data allocation missing")
		}
		pt, ok := st.DataDecryptPage(cipher, dc.aad, pp)
		if !ok {
			return errors.DecryptionFailure("large key leading page")
		}
		dst := geometry.JournalWidth + int((kce.Start+offset)%geometry.VPageSize)
		n := copy(pt[dst:], data[written:])
		written += n
		st.DataEncryptAndPatchPage(cipher, dc.aad, pt, pp)
	}

	// Phase 2: remaining pages.
	for written < len(data) {
		vpageAddr := ((kce.Start + uint64(written) + offset) / geometry.VPageSize) * geometry.VPageSize
		pp, ok := vm.Get(vpageAddr)
		if !ok {
			panic("dictcache: large key data allocation missing")
		}
		if len(data)-written >= geometry.VPageSize {
			block := make([]byte, pagecipher.PlaintextSize)
			n := copy(block[geometry.JournalWidth:], data[written:written+geometry.VPageSize])
			written += n
			st.DataEncryptAndPatchPage(cipher, dc.aad, block, pp)
		} else {
			pt, ok := st.DataDecryptPage(cipher, dc.aad, pp)
			if !ok {
				pt = make([]byte, pagecipher.PlaintextSize)
			}
			n := copy(pt[geometry.JournalWidth:], data[written:])
			written += n
			st.DataEncryptAndPatchPage(cipher, dc.aad, pt, pp)
		}
	}

	end := uint64(written) + offset
	if end > kce.Len {
		kce.Len = end
	}
	if truncate {
		kce.Len = end
		newReserved := geometry.RoundUpToVPage(end)
		if newReserved < kce.Reserved {
			for vpage := kce.Start + newReserved; vpage < kce.Start+kce.Reserved; vpage += geometry.VPageSize {
				if pp, ok := vm.Remove(vpage); ok {
					st.FastSpaceFree(pp)
				}
			}
			kce.Reserved = newReserved
		}
	}
	return nil
}

func (dc *DictCache) createSmallKey(name string, data []byte, offset uint64, allocHint uint64) error {
	reservation := uint64(len(data)) + offset
	if allocHint > reservation {
		reservation = allocHint
	}

	index, err := dc.allocFreeKey()
	if err != nil {
		return err
	}

	slotIndex := dc.smallPool.Alloc(name, uint16(reservation))
	body := make([]byte, offset, reservation)
	body = append(body, data...)

	kce := &KeyCacheEntry{
		Start:           geometry.SmallSlotVAddr(dc.index, slotIndex),
		Len:             uint64(len(data)) + offset,
		Reserved:        reservation,
		Flags:           KeyFlags{Valid: true, Unresolved: true},
		Age:             0,
		DescriptorIndex: index,
		Clean:           false,
		Data:            &SmallData{Clean: false, Bytes: body},
	}
	dc.keys[name] = kce
	dc.keyCount++
	return nil
}

func (dc *DictCache) createLargeKey(st storage.Storage, vm *v2p.Map, cipher *pagecipher.PageCipher, name string, data []byte, offset uint64, allocHint uint64, truncate bool, largeAllocPtr uint64) (uint64, error) {
	need := uint64(len(data)) + offset
	if allocHint > need {
		need = allocHint
	}
	reservation := geometry.RoundUpToVPage(need)

	index, err := dc.allocFreeKey()
	if err != nil {
		return largeAllocPtr, err
	}

	kce := &KeyCacheEntry{
		Start:           largeAllocPtr,
		Len:             0,
		Reserved:        reservation,
		Flags:           KeyFlags{Valid: true},
		Age:             0,
		DescriptorIndex: index,
		Clean:           false,
	}
	dc.keys[name] = kce
	dc.keyCount++

	for vaddr := largeAllocPtr; vaddr < largeAllocPtr+reservation; vaddr += geometry.VPageSize {
		pp, ok := st.TryFastSpaceAlloc()
		if !ok {
			return largeAllocPtr, errors.OutOfDiskSpace("large key allocation")
		}
		if err := vm.Insert(vaddr, pp); err != nil {
			return largeAllocPtr, err
		}
	}

	newLargeAllocPtr := largeAllocPtr + reservation
	return dc.KeyUpdate(st, vm, cipher, name, data, offset, allocHint, truncate, newLargeAllocPtr)
}

// KeyRemove tombstones name: small-pool space is reclaimed
// immediately, large-pool physical pages are returned to fastspace
// (optionally paranoid-overwritten first), and the descriptor index is
// returned to the free heap. Unknown names and already-tombstoned
// names are a silent no-op.
func (dc *DictCache) KeyRemove(st storage.Storage, vm *v2p.Map, cipher *pagecipher.PageCipher, name string, paranoid bool) {
	dc.EnsureKeyEntry(st, vm, cipher, name)

	kce, ok := dc.keys[name]
	if !ok || !kce.Flags.Valid {
		return
	}
	dc.clean = false

	var needRebuild bool
	if poolIndex, isSmall := geometry.SmallSlotIndex(dc.index, kce.Start, kce.Reserved); isSmall {
		dc.smallPool.Free(poolIndex, name, uint16(kce.Reserved))
		needRebuild = true
		kce.Clean = false
		kce.Age = geometry.SaturatingAddU32(kce.Age, 1)
		kce.Flags.Valid = false
	} else {
		kce.Clean = false
		kce.Age = geometry.SaturatingAddU32(kce.Age, 1)
		kce.Flags.Valid = false
		for vaddr := kce.Start; vaddr < kce.Start+kce.Reserved; vaddr += geometry.VPageSize {
			if pp, ok := vm.Remove(vaddr); ok {
				if paranoid {
					noise := make([]byte, geometry.VPageSize)
					st.TRNGSlice(noise)
					st.PatchData(noise, uint64(pp)*geometry.VPageSize)
				}
				st.FastSpaceFree(pp)
			}
		}
	}

	dc.freeKeys.Push(kce.DescriptorIndex)
	if needRebuild {
		dc.smallPool.RebuildFreePool()
	}
}

// Clean reports whether every cached entry and slot is synchronized
// with disk.
func (dc *DictCache) Clean() bool {
	return dc.clean
}

// GenerateAAD returns fresh CSPRNG bytes suitable for a basis AAD. Kept
// here rather than in pagecipher because AAD composition is a
// dictionary/basis-level policy decision, not a cipher primitive.
func GenerateAAD(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.NewIOError("failed to generate AAD").WithCause(err)
	}
	return buf, nil
}

// Get returns the cached entry for name, if any (including
// tombstones) — a read-only accessor for tests and the dump CLI.
func (dc *DictCache) Get(name string) (*KeyCacheEntry, bool) {
	kce, ok := dc.keys[name]
	return kce, ok
}

// Entries returns the live key-name -> cache entry map, for a caller
// that drives descriptor-page and page-table synchronization outside
// this package. Callers may read and clear dirty bits but must not
// mutate DescriptorIndex or Start directly.
func (dc *DictCache) Entries() map[string]*KeyCacheEntry {
	return dc.keys
}

// MarkEntryClean clears the dirty bit on name's cache entry (and its
// small body, if any) once its descriptor has been durably synced by
// the caller.
func (dc *DictCache) MarkEntryClean(name string) {
	if kce, ok := dc.keys[name]; ok {
		kce.Clean = true
		if kce.Data != nil {
			kce.Data.Clean = true
		}
	}
}

// Index returns this dictionary's index within the basis's dictionary
// table, used to compute descriptor virtual addresses.
func (dc *DictCache) Index() uint32 { return dc.index }

// Name returns the dictionary's name.
func (dc *DictCache) Name() string { return dc.name }

// Header returns the current (possibly not yet synced) dictionary
// header fields, for the caller to marshal into the dictionary's slot-0
// descriptor record.
func (dc *DictCache) Header() Dictionary {
	return Dictionary{
		Flags:        dc.flags,
		Age:          dc.age,
		NumKeys:      uint32(len(dc.keys)),
		FreeKeyIndex: dc.lastDiskKeyIndex,
		Name:         dc.name,
	}
}

// MarkHeaderClean clears the dictionary-level dirty bit once the header
// has been durably synced.
func (dc *DictCache) MarkHeaderClean() { dc.clean = true }
