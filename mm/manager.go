package mm

// Space is one address space's allocation context: the VA pool it draws
// page addresses from, the page table mapping those pages to frames,
// and the frame pool backing it. The kernel has exactly one Space;
// every user process gets its own.
type Space struct {
	Name string
	AS   *AddressSpace
	VA   *VAPool

	frames *FramePool
	desc   *descriptorTable // process-private for user tasks, shared for kernel
}

// Manager owns the two physical frame pools, the simulated RAM they
// carve up, and the kernel's master address space. One Manager exists
// per booted kernel; construct it once during init and share the
// handle, per spec.md §9 ("Global mutable state").
type Manager struct {
	RAM []byte

	KernelFrames *FramePool
	UserFrames   *FramePool
	Kernel       *Space
}

// NewManager lays out physical memory exactly as mem_pool_init in the
// original kernel/memory.c: the first 1 MiB plus 256 page tables
// (1 MiB) are already spoken for by the boot loader and the initial
// kernel mapping; the remainder is split in half between the kernel and
// user frame pools.
func NewManager(totalBytes uint32) *Manager {
	const reserved = 0x100000 + PageSize*256
	if totalBytes <= reserved {
		panic("mm: not enough RAM to boot")
	}
	freeBytes := totalBytes - reserved
	totalFreePages := int(freeBytes / PageSize)
	kernelPages := totalFreePages / 2
	userPages := totalFreePages - kernelPages

	ram := make([]byte, totalBytes)

	kernelBase := reserved
	userBase := reserved + kernelPages*PageSize

	kf := newFramePool(uint32(kernelBase), kernelPages)
	uf := newFramePool(uint32(userBase), userPages)

	m := &Manager{
		RAM:          ram,
		KernelFrames: kf,
		UserFrames:   uf,
	}

	kernelVAPages := kernelPages // kernel VA pool sized to match the kernel frame pool, as in the original
	kernelSpace := &Space{
		Name:   "kernel",
		AS:     newAddressSpace(),
		VA:     newVAPool(KernelHeapStart, kernelVAPages),
		frames: kf,
		desc:   newDescriptorTable(),
	}
	m.Kernel = kernelSpace
	return m
}

// NewUserSpace creates a fresh address space for a new process: its own
// user VA pool (0x08048000..0xC0000000), its own small-block descriptor
// table, and a page directory whose kernel half is copied from the
// master kernel address space.
func (m *Manager) NewUserSpace(name string) *Space {
	numPages := int((UserStackTop - UserStart) / PageSize)
	as := newAddressSpace()
	as.cloneKernelHalf(m.Kernel.AS)
	return &Space{
		Name:   name,
		AS:     as,
		VA:     newVAPool(UserStart, numPages),
		frames: m.UserFrames,
		desc:   newDescriptorTable(),
	}
}

// AllocPages reserves n contiguous virtual pages in sp, backs each with
// a freshly allocated frame from sp's pool, maps them present, and
// zeroes the frames. It returns the start VA, or ok=false (and leaves no
// partial allocation behind) if either the VA pool or the frame pool
// cannot satisfy the request.
func (m *Manager) AllocPages(sp *Space, n int) (va uint32, ok bool) {
	start, ok := sp.VA.Reserve(n)
	if !ok {
		return 0, false
	}
	frames, ok := sp.frames.AllocFrames(n)
	if !ok {
		sp.VA.Release(start, n)
		return 0, false
	}
	for i, pa := range frames {
		pageVA := start + uint32(i)*PageSize
		sp.AS.Map(pageVA, pa, true, sp != m.Kernel)
		m.zero(pa)
	}
	return start, true
}

// AllocPageAt reserves and backs the single page at va, used for
// on-demand stack growth. It fails if va is already reserved or the
// frame pool is exhausted.
func (m *Manager) AllocPageAt(sp *Space, va uint32) (uint32, bool) {
	if !sp.VA.ReserveAt(va) {
		return 0, false
	}
	pa, ok := sp.frames.AllocFrame()
	if !ok {
		sp.VA.Release(va, 1)
		return 0, false
	}
	sp.AS.Map(va, pa, true, sp != m.Kernel)
	m.zero(pa)
	return va, true
}

// FreePages releases n pages starting at va: unmaps each PTE, frees its
// frame, and returns the VA-pool bits. n must match the allocation size
// the caller originally requested.
func (m *Manager) FreePages(sp *Space, va uint32, n int) {
	for i := 0; i < n; i++ {
		pageVA := va + uint32(i)*PageSize
		pa, ok := sp.AS.Translate(pageVA)
		if !ok {
			panic("mm: free of unmapped page")
		}
		sp.AS.Unmap(pageVA)
		sp.frames.FreeFrame(pa)
	}
	sp.VA.Release(va, n)
}

// VirtToPhys walks sp's page table and returns the physical address
// backing va.
func (m *Manager) VirtToPhys(sp *Space, va uint32) (uint32, bool) {
	return sp.AS.Translate(va)
}

func (m *Manager) zero(pa uint32) {
	clear(m.RAM[pa : pa+PageSize])
}

// ReadPhys and WritePhys give device drivers (e.g. the IDE DMA-less PIO
// path is exempt, but debug tooling and tests are not) a way to inspect
// or seed simulated RAM at a physical address without going through a
// mapping.
func (m *Manager) ReadPhys(pa uint32, buf []byte) {
	copy(buf, m.RAM[pa:int(pa)+len(buf)])
}

func (m *Manager) WritePhys(pa uint32, buf []byte) {
	copy(m.RAM[pa:int(pa)+len(buf)], buf)
}
