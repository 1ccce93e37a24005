package mm

import "testing"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	// 32 MiB of simulated RAM gives a handful of frames in each pool
	// after the fixed 2 MiB reservation.
	return NewManager(32 << 20)
}

func TestAllocFreePagesRestoresBitmaps(t *testing.T) {
	m := newTestManager(t)
	sp := m.Kernel

	va, ok := m.AllocPages(sp, 3)
	if !ok {
		t.Fatal("alloc_kernel_pages failed")
	}
	for i := 0; i < 3; i++ {
		if _, ok := m.VirtToPhys(sp, va+uint32(i)*PageSize); !ok {
			t.Fatalf("page %d not mapped", i)
		}
	}

	m.FreePages(sp, va, 3)

	// Property 1 (spec.md §8): free(va) restores the VA bitmap so the
	// same range can be reserved again, and the page is unmapped.
	va2, ok := m.AllocPages(sp, 3)
	if !ok || va2 != va {
		t.Fatalf("expected reallocation to reuse freed range, got va=%#x ok=%v", va2, ok)
	}
	m.FreePages(sp, va2, 3)
}

func TestAllocPagesZeroesFrames(t *testing.T) {
	m := newTestManager(t)
	sp := m.Kernel

	va, ok := m.AllocPages(sp, 1)
	if !ok {
		t.Fatal("alloc failed")
	}
	pa, _ := m.VirtToPhys(sp, va)
	m.WritePhys(pa, []byte{1, 2, 3})
	m.FreePages(sp, va, 1)

	va2, ok := m.AllocPages(sp, 1)
	if !ok {
		t.Fatal("realloc failed")
	}
	pa2, _ := m.VirtToPhys(sp, va2)
	buf := make([]byte, 3)
	m.ReadPhys(pa2, buf)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, b)
		}
	}
}

func TestDoubleMapPanics(t *testing.T) {
	m := newTestManager(t)
	sp := m.Kernel
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double map")
		}
	}()
	sp.AS.Map(KernelHeapStart, 0x200000, true, false)
	sp.AS.Map(KernelHeapStart, 0x300000, true, false)
}

func TestUserSpaceSharesKernelHalf(t *testing.T) {
	m := newTestManager(t)

	kva, ok := m.AllocPages(m.Kernel, 1)
	if !ok {
		t.Fatal("kernel alloc failed")
	}

	proc := m.NewUserSpace("proc1")
	if _, ok := proc.AS.Translate(kva); !ok {
		t.Fatalf("user address space missing kernel mapping for %#x", kva)
	}
}

func TestMallocFreeNoLeaks(t *testing.T) {
	m := newTestManager(t)
	sp := m.Kernel

	sizes := []uint32{1, 15, 16, 17, 255, 256, 1000, 1024, 1025, 4096, 9000}
	var ptrs []uint32
	for _, sz := range sizes {
		va, ok := m.Malloc(sp, sz)
		if !ok {
			t.Fatalf("malloc(%d) failed", sz)
		}
		ptrs = append(ptrs, va)
	}

	for _, p := range ptrs {
		if p&(PageSize-1) == 0 {
			t.Fatalf("block %#x aliases an arena header", p)
		}
	}

	for _, p := range ptrs {
		m.Free(sp, p)
	}

	// Every arena should have been returned to the frame pool: a fresh
	// allocation of the full kernel VA range must succeed, proving no
	// page stayed reserved.
	full, ok := m.AllocPages(sp, sp.VA.numPages)
	if !ok {
		t.Fatal("expected full kernel VA range to be free after all frees")
	}
	m.FreePages(sp, full, sp.VA.numPages)
}

func TestFreeOfUntrackedPointerPanics(t *testing.T) {
	m := newTestManager(t)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	m.Free(m.Kernel, 0xdeadb000)
}
