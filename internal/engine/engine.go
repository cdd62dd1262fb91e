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
Package engine composes the dictionary cache core into its caller: a
Basis mounts one or more dictionaries over a shared Storage, V2PMap and
PageCipher, and drives the half of the durability pipeline that
DictCache deliberately leaves outside its own surface — descriptor-page
synchronization, large-pool allocation pointer bookkeeping, and
fastspace reservation ahead of a sync.

One DictCache per mounted dictionary, one mutex per Basis serializing
every public call.
*/
package engine

import (
	"strconv"
	"sync"

	"github.com/firefly-oss/pddb/internal/config"
	"github.com/firefly-oss/pddb/internal/dictcache"
	"github.com/firefly-oss/pddb/internal/errors"
	"github.com/firefly-oss/pddb/internal/geometry"
	"github.com/firefly-oss/pddb/internal/logging"
	"github.com/firefly-oss/pddb/internal/pagecipher"
	"github.com/firefly-oss/pddb/internal/plaintextcache"
	"github.com/firefly-oss/pddb/internal/storage"
	"github.com/firefly-oss/pddb/internal/v2p"
)

var log = logging.NewLogger("engine")

// EngineStats reports occupancy and dirty-state across every mounted
// dictionary of a Basis, split by the small/large pool allocation
// regimes.
type EngineStats struct {
	DictCount   int
	KeyCount    int
	SmallKeys   int
	LargeKeys   int
	// SmallSlots is not filled in by Stats and is always zero.
	SmallSlots  int
	DirtyDicts  int
	LargeAllocs uint64
}

// Basis composes the shared collaborators (Storage, V2PMap,
// PageCipher) with one DictCache per mounted dictionary. Every public
// method holds bs.mu for its duration, so no two operations on the
// same Basis interleave.
type Basis struct {
	mu sync.Mutex

	st     storage.Storage
	vm     *v2p.Map
	cipher *pagecipher.PageCipher
	aad    []byte
	cfg    *config.Config

	dicts         map[string]*dictcache.DictCache
	nextDictIndex uint32
	largeAllocPtr uint64
}

// NewBasis constructs an empty Basis over the given collaborators. aad
// is the basis's fixed associated-authenticated-data, captured once at
// construction and immutable for the life of the basis.
func NewBasis(st storage.Storage, cipher *pagecipher.PageCipher, aad []byte, cfg *config.Config) *Basis {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Basis{
		st:            st,
		vm:            v2p.New(),
		cipher:        cipher,
		aad:           aad,
		cfg:           cfg,
		dicts:         make(map[string]*dictcache.DictCache),
		largeAllocPtr: geometry.LargePoolStart,
	}
}

// Mount brings dictionary name into memory: if it is already resident
// this is a no-op; otherwise a fresh DictCache header is created and
// assigned the next unused dictionary index. Mount does not read an
// existing on-disk header — a basis that opens a pre-existing store is
// expected to supply the persisted Dictionary record via MountExisting.
func (bs *Basis) Mount(name string) *dictcache.DictCache {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.mountLocked(name, dictcache.DefaultDictionary(name))
}

// MountExisting brings dictionary name into memory from a header
// already read off disk (e.g. by a prior Fill of the basis's top-level
// dictionary-of-dictionaries, out of scope for this core) and
// immediately fills its key cache from the descriptor table.
func (bs *Basis) MountExisting(name string, header dictcache.Dictionary) *dictcache.DictCache {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	dc := bs.mountLocked(name, header)
	allocTop := dc.Fill(bs.st, bs.vm, bs.cipher)
	if allocTop > bs.largeAllocPtr {
		bs.largeAllocPtr = allocTop
	}
	return dc
}

func (bs *Basis) mountLocked(name string, header dictcache.Dictionary) *dictcache.DictCache {
	if dc, ok := bs.dicts[name]; ok {
		return dc
	}
	index := bs.nextDictIndex
	bs.nextDictIndex++
	dc := dictcache.New(header, index, bs.aad, bs.cfg)
	bs.dicts[name] = dc
	return dc
}

// Dictionaries returns the names of every mounted dictionary.
func (bs *Basis) Dictionaries() []string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make([]string, 0, len(bs.dicts))
	for name := range bs.dicts {
		out = append(out, name)
	}
	return out
}

func (bs *Basis) dict(dictName string) (*dictcache.DictCache, error) {
	dc, ok := bs.dicts[dictName]
	if !ok {
		return nil, errors.NewIOError("engine: dictionary not mounted").WithDetail(dictName)
	}
	return dc, nil
}

// Put writes data at the given offset into name's body within
// dictName, creating it if absent, and threads the basis's shared
// large-pool allocation pointer through dictcache.KeyUpdate.
func (bs *Basis) Put(dictName, name string, data []byte, offset uint64, allocHint uint64, truncate bool) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	dc, err := bs.dict(dictName)
	if err != nil {
		return err
	}
	newPtr, err := dc.KeyUpdate(bs.st, bs.vm, bs.cipher, name, data, offset, allocHint, truncate, bs.largeAllocPtr)
	if err != nil {
		return err
	}
	bs.largeAllocPtr = newPtr
	return nil
}

// Delete tombstones name within dictName per dictcache.KeyRemove,
// honoring the basis configuration's paranoid-delete policy.
func (bs *Basis) Delete(dictName, name string) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	dc, err := bs.dict(dictName)
	if err != nil {
		return err
	}
	dc.KeyRemove(bs.st, bs.vm, bs.cipher, name, bs.cfg.ParanoidDelete)
	return nil
}

// Get reconstructs the full body of name within dictName: small keys
// are served straight from the in-RAM cache, large keys are read back
// page by page since large-key payload bodies are deliberately not
// cached.
func (bs *Basis) Get(dictName, name string) ([]byte, bool, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	dc, err := bs.dict(dictName)
	if err != nil {
		return nil, false, err
	}
	if !dc.EnsureKeyEntry(bs.st, bs.vm, bs.cipher, name) {
		return nil, false, nil
	}
	kce, _ := dc.Get(name)
	if !kce.Flags.Valid {
		return nil, false, nil
	}
	if kce.Data != nil {
		out := make([]byte, kce.Len)
		copy(out, kce.Data.Bytes)
		return out, true, nil
	}

	out := make([]byte, 0, kce.Len)
	cache := plaintextcache.New()
	lookup := func(va geometry.VirtAddr) (geometry.PhysPage, bool) { return bs.vm.Get(va) }
	decrypt := func(pp geometry.PhysPage) ([]byte, bool) { return bs.st.DataDecryptPage(bs.cipher, bs.aad, pp) }
	for vaddr := kce.Start; uint64(len(out)) < kce.Len; vaddr += geometry.VPageSize {
		cache.Fill(lookup, decrypt, vaddr)
		page, ok := cache.Data()
		if !ok {
			return nil, false, errors.DecryptionFailure("engine: large key body page unreadable")
		}
		remaining := kce.Len - uint64(len(out))
		n := uint64(geometry.VPageSize)
		if remaining < n {
			n = remaining
		}
		out = append(out, page[geometry.JournalWidth:geometry.JournalWidth+int(n)]...)
	}
	return out, true, nil
}

// List merges every cached key name (tombstones included) of dictName
// into mergeSet, per dictcache.KeyList.
func (bs *Basis) List(dictName string, mergeSet map[string]struct{}) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	dc, err := bs.dict(dictName)
	if err != nil {
		return err
	}
	dc.KeyList(bs.st, bs.vm, bs.cipher, mergeSet)
	return nil
}

// Sync drives the durability pipeline for dictName in order: verify
// fastspace can cover dictcache.AllocEstimateSmall, flush the small
// pool, then rewrite every dirty descriptor slot (including the
// dictionary header). Small-pool pages must land before the
// descriptors that point at them.
func (bs *Basis) Sync(dictName string) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	dc, err := bs.dict(dictName)
	if err != nil {
		return err
	}

	// Probe the estimate up front so a mid-sync exhaustion cannot leave
	// the small pool half-flushed. The probed pages go straight back;
	// the sync paths below allocate their own.
	estimate := dc.AllocEstimateSmall()
	probed := make([]geometry.PhysPage, 0, estimate)
	for i := 0; i < estimate; i++ {
		pp, ok := bs.st.TryFastSpaceAlloc()
		if !ok {
			for _, p := range probed {
				bs.st.FastSpaceFree(p)
			}
			return errors.OutOfDiskSpace("engine: sync fastspace reservation")
		}
		probed = append(probed, pp)
	}
	for _, p := range probed {
		bs.st.FastSpaceFree(p)
	}

	if err := dc.SyncSmallPool(bs.st, bs.vm, bs.cipher); err != nil {
		return err
	}
	dc.SyncLargePool()

	if err := bs.syncDescriptors(dc); err != nil {
		return err
	}
	return nil
}

// descriptorPatch is one marshaled record waiting to land inside a
// shared descriptor page.
type descriptorPatch struct {
	offset int
	record []byte
}

// syncDescriptors rewrites every dirty KeyCacheEntry's on-disk
// descriptor slot plus the dictionary header itself. Patches are
// grouped per virtual page first, then each page is
// read-modified-written exactly once: several descriptors share one
// page, and overlaying them one encrypt at a time would let each write
// start from a plaintext that no longer matches the page on disk.
func (bs *Basis) syncDescriptors(dc *dictcache.DictCache) error {
	pending := make(map[geometry.VirtAddr][]descriptorPatch)
	cleaned := make(map[geometry.VirtAddr][]string)

	for name, kce := range dc.Entries() {
		if kce.Clean {
			continue
		}
		desc := dictcache.KeyDescriptor{
			Start:    kce.Start,
			Len:      kce.Len,
			Reserved: kce.Reserved,
			Flags:    kce.Flags,
			Age:      kce.Age,
			Name:     name,
		}
		vaddr := geometry.DictDescriptorVAddr(dc.Index(), kce.DescriptorIndex)
		offset := geometry.DictDescriptorOffset(kce.DescriptorIndex)
		pending[vaddr] = append(pending[vaddr], descriptorPatch{offset: offset, record: desc.Marshal()})
		cleaned[vaddr] = append(cleaned[vaddr], name)
	}

	headerVaddr := geometry.DictDescriptorVAddr(dc.Index(), 0)
	headerDirty := !dc.Clean()
	if headerDirty {
		pending[headerVaddr] = append(pending[headerVaddr], descriptorPatch{
			offset: geometry.DictDescriptorOffset(0),
			record: dc.Header().Marshal(),
		})
	}

	cache := plaintextcache.New()
	lookup := func(va geometry.VirtAddr) (geometry.PhysPage, bool) { return bs.vm.Get(va) }
	decrypt := func(pp geometry.PhysPage) ([]byte, bool) { return bs.st.DataDecryptPage(bs.cipher, bs.aad, pp) }

	for vaddr, patches := range pending {
		pp, err := bs.vm.EntryOrInsertWith(vaddr, func() (geometry.PhysPage, error) {
			pp, ok := bs.st.TryFastSpaceAlloc()
			if !ok {
				return 0, errors.OutOfDiskSpace("engine: descriptor page allocation")
			}
			return pp, nil
		})
		if err != nil {
			return err
		}
		cache.Fill(lookup, decrypt, vaddr)
		page := make([]byte, pagecipher.PlaintextSize)
		if data, ok := cache.Data(); ok {
			copy(page, data)
		}
		for _, p := range patches {
			copy(page[p.offset:p.offset+len(p.record)], p.record)
		}
		bs.st.DataEncryptAndPatchPage(bs.cipher, bs.aad, page, pp)

		for _, name := range cleaned[vaddr] {
			dc.MarkEntryClean(name)
		}
		if headerDirty && vaddr == headerVaddr {
			dc.MarkHeaderClean()
		}
	}
	return nil
}

// Stats reports aggregate occupancy and dirty-state across every
// mounted dictionary.
func (bs *Basis) Stats() EngineStats {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	var s EngineStats
	s.DictCount = len(bs.dicts)
	s.LargeAllocs = bs.largeAllocPtr - geometry.LargePoolStart
	for _, dc := range bs.dicts {
		if !dc.Clean() {
			s.DirtyDicts++
		}
		for _, kce := range dc.Entries() {
			if !kce.Flags.Valid {
				continue
			}
			s.KeyCount++
			if kce.Data != nil {
				s.SmallKeys++
			} else {
				s.LargeKeys++
			}
		}
	}
	log.Debug("computed basis stats", "dicts", strconv.Itoa(s.DictCount), "keys", strconv.Itoa(s.KeyCount))
	return s
}
