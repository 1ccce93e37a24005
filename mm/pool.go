// Package mm models the kernel's physical/virtual memory manager: frame
// pools, virtual-address pools, a simulated self-mapped page table, and
// the small-block (malloc/free) allocator built on top of page
// allocation.
//
// There is no ring-0 MMU to drive this code, so physical memory is
// modelled as a single byte slice (Manager.RAM) and "physical addresses"
// are offsets into it. The algorithms and invariants (pool split,
// bitmap-backed allocation, PDE/PTE presence bits, small-block arenas)
// are otherwise exactly the ones in the original kernel.
package mm

import (
	"fmt"
	"sync"

	"github.com/elinor-voss/protokernel/bitmap"
)

// PageSize is the fixed frame/page size, 4 KiB.
const PageSize = 4096

// FramePool owns a contiguous range of physical frames and a bitmap
// tracking which are allocated. Two disjoint pools exist: kernel and
// user. Grounded on struct pool in the original kernel/memory.c.
type FramePool struct {
	mu        sync.Mutex
	bm        *bitmap.Bitmap
	baseAddr  uint32
	numFrames int
}

func newFramePool(base uint32, numFrames int) *FramePool {
	return &FramePool{
		bm:        bitmap.New(numFrames),
		baseAddr:  base,
		numFrames: numFrames,
	}
}

// Size reports how many frames the pool owns.
func (p *FramePool) Size() int { return p.numFrames }

// AllocFrame claims a single free frame and returns its physical
// address. ok is false if the pool is exhausted.
func (p *FramePool) AllocFrame() (pa uint32, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.bm.ScanAndSet(1)
	if idx < 0 {
		return 0, false
	}
	return p.baseAddr + uint32(idx)*PageSize, true
}

// AllocFrames claims n frames. On partial failure every frame already
// claimed in this call is released before returning, matching the
// allocator's "roll back every frame and VA bit it set if any later
// step fails" policy (spec.md §7).
func (p *FramePool) AllocFrames(n int) ([]uint32, bool) {
	frames := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		pa, ok := p.AllocFrame()
		if !ok {
			p.FreeFrames(frames)
			return nil, false
		}
		frames = append(frames, pa)
	}
	return frames, true
}

// FreeFrame releases a single previously-allocated frame.
func (p *FramePool) FreeFrame(pa uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := int((pa - p.baseAddr) / PageSize)
	if idx < 0 || idx >= p.numFrames {
		panic(fmt.Sprintf("mm: frame %#x out of pool range", pa))
	}
	if !p.bm.Test(idx) {
		panic(fmt.Sprintf("mm: double free of frame %#x", pa))
	}
	p.bm.Clear(idx)
}

// FreeFrames releases every frame in pas.
func (p *FramePool) FreeFrames(pas []uint32) {
	for _, pa := range pas {
		p.FreeFrame(pa)
	}
}

// Owns reports whether pa falls inside this pool's range, used to
// enforce that kernel-pool frames are never mapped into user space.
func (p *FramePool) Owns(pa uint32) bool {
	return pa >= p.baseAddr && pa < p.baseAddr+uint32(p.numFrames)*PageSize
}

// VAPool is a bitmap of 4 KiB virtual pages over a fixed range: either
// the kernel window (0xC0100000 upward) or a per-process user window
// (0x08048000 .. 0xC0000000). Grounded on struct virtual_addr /
// struct va_pool in the original kernel/memory.h.
type VAPool struct {
	mu       sync.Mutex
	bm       *bitmap.Bitmap
	start    uint32
	numPages int
}

func newVAPool(start uint32, numPages int) *VAPool {
	return &VAPool{
		bm:       bitmap.New(numPages),
		start:    start,
		numPages: numPages,
	}
}

// Reserve claims n consecutive free virtual pages and returns the start
// address of the run.
func (v *VAPool) Reserve(n int) (va uint32, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := v.bm.ScanAndSet(n)
	if idx < 0 {
		return 0, false
	}
	return v.start + uint32(idx)*PageSize, true
}

// ReserveAt claims the single page at va, used by alloc_page_at for
// on-demand stack growth at a caller-chosen address. It fails if the
// page is already reserved or out of range.
func (v *VAPool) ReserveAt(va uint32) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx, ok := v.index(va)
	if !ok || v.bm.Test(idx) {
		return false
	}
	v.bm.Set(idx)
	return true
}

// Release returns n consecutive pages starting at va to the pool.
func (v *VAPool) Release(va uint32, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx, ok := v.index(va)
	if !ok {
		panic(fmt.Sprintf("mm: va %#x out of pool range", va))
	}
	v.bm.ClearRange(idx, n)
}

func (v *VAPool) index(va uint32) (int, bool) {
	if va < v.start {
		return 0, false
	}
	idx := int((va - v.start) / PageSize)
	if idx >= v.numPages {
		return 0, false
	}
	return idx, true
}
