package mm

import (
	"fmt"
	"sync"
)

// sizeClasses are the small-block descriptor sizes the allocator keeps
// free lists for; spec.md §3 "Small-block arenas".
var sizeClasses = [...]uint32{16, 32, 64, 128, 256, 512, 1024}

// arenaHeaderSize is the space reserved at the start of every arena page
// for its header ({descriptor*, remaining_count, large_flag} in the
// original). This implementation tracks that metadata in Go-side maps
// instead of writing raw header bytes into simulated RAM (there is
// nothing here that needs to read the header back through a pointer
// cast), but still reserves the bytes when sizing arenas so the block
// layout and large-arena page math match the original exactly.
const arenaHeaderSize = 16

type smallDescriptor struct {
	blockSize uint32
	freeList  []uint32 // free block VAs
}

type arenaInfo struct {
	large     bool
	descClass int // index into sizeClasses; unused (-1) for large arenas
	pages     int
	remaining int // live block count; arena page is freed when this hits 0
}

// descriptorTable is the process-private (or, for the kernel, global)
// set of size-class free lists plus the arena bookkeeping malloc/free
// consult. Grounded on struct mem_block_desc in the original
// kernel/memory.h, and on the GcBufferPool class-bucketing idiom in the
// teacher's fuse/bufferpool.go.
type descriptorTable struct {
	mu     sync.Mutex
	descs  [len(sizeClasses)]*smallDescriptor
	arenas map[uint32]*arenaInfo
}

func newDescriptorTable() *descriptorTable {
	dt := &descriptorTable{arenas: make(map[uint32]*arenaInfo)}
	for i, sz := range sizeClasses {
		dt.descs[i] = &smallDescriptor{blockSize: sz}
	}
	return dt
}

func classFor(size uint32) int {
	for i, sz := range sizeClasses {
		if sz >= size {
			return i
		}
	}
	return -1
}

// Malloc implements sys_malloc: requests of at most 1024 bytes are
// served from the smallest size-class free list, refilling it with a
// fresh arena page on exhaustion; larger requests get a dedicated
// multi-page "large" arena. It returns ok=false if the backing page
// allocation fails.
func (m *Manager) Malloc(sp *Space, size uint32) (va uint32, ok bool) {
	if size == 0 {
		panic("mm: malloc of zero bytes")
	}
	dt := sp.desc
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if size > 1024 {
		pages := int((size + arenaHeaderSize + PageSize - 1) / PageSize)
		pageVA, ok := m.AllocPages(sp, pages)
		if !ok {
			return 0, false
		}
		dt.arenas[pageVA] = &arenaInfo{large: true, descClass: -1, pages: pages}
		return pageVA + arenaHeaderSize, true
	}

	classIdx := classFor(size)
	desc := dt.descs[classIdx]
	if len(desc.freeList) == 0 {
		pageVA, ok := m.AllocPages(sp, 1)
		if !ok {
			return 0, false
		}
		blockCount := (PageSize - arenaHeaderSize) / desc.blockSize
		for i := uint32(0); i < blockCount; i++ {
			desc.freeList = append(desc.freeList, pageVA+arenaHeaderSize+i*desc.blockSize)
		}
		dt.arenas[pageVA] = &arenaInfo{
			large:     false,
			descClass: classIdx,
			pages:     1,
			remaining: 0,
		}
	}

	n := len(desc.freeList) - 1
	block := desc.freeList[n]
	desc.freeList = desc.freeList[:n]
	dt.arenas[block&^(PageSize-1)].remaining++
	return block, true
}

// Free implements sys_free: the owning arena is block_address & ~0xFFF
// (spec.md §3 invariant). A large arena is released page-for-page; a
// small-class block is pushed back onto its descriptor's free list, and
// once every block in its arena has been freed the arena's page is
// returned to the pool.
func (m *Manager) Free(sp *Space, va uint32) {
	dt := sp.desc
	dt.mu.Lock()
	defer dt.mu.Unlock()

	arenaVA := va &^ (PageSize - 1)
	info, ok := dt.arenas[arenaVA]
	if !ok {
		panic(fmt.Sprintf("mm: free of untracked pointer %#x", va))
	}

	if info.large {
		delete(dt.arenas, arenaVA)
		m.FreePages(sp, arenaVA, info.pages)
		return
	}

	desc := dt.descs[info.descClass]
	desc.freeList = append(desc.freeList, va)
	info.remaining--
	if info.remaining < 0 {
		panic("mm: double free of small block")
	}
	if info.remaining == 0 {
		kept := desc.freeList[:0]
		for _, b := range desc.freeList {
			if b&^(PageSize-1) != arenaVA {
				kept = append(kept, b)
			}
		}
		desc.freeList = kept
		delete(dt.arenas, arenaVA)
		m.FreePages(sp, arenaVA, 1)
	}
}
