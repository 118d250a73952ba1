// Package mem implements the physical frame allocator: a
// single free list of 4 KiB frames carved out of [end, PHY_END) at boot,
// guarded by one mutex. There is no per-CPU sharding and no frame
// reference counting: without copy-on-write nothing ever shares a
// frame, so a plain free list is the whole job.
package mem

import (
	"sync"
	"unsafe"

	"klog"
	"riscv"
)

const (
	PGSHIFT = riscv.PGSHIFT
	PGSIZE  = riscv.PGSIZE
)

// Pa_t is a physical address.
type Pa_t uintptr

// KernelBase is where the kernel image is linked and RAM begins on the
// QEMU virt board.
const KernelBase Pa_t = 0x80000000

// PhyEnd is the last physical address the kernel may use: KernelBase plus
// the 128 MiB of RAM it is permitted to claim.
const PhyEnd Pa_t = KernelBase + 128*1024*1024

// Bytepg_t is a page viewed as raw bytes.
type Bytepg_t [PGSIZE]uint8

// poison bytes, matching the reference implementation's use-after-free
// detection: freed pages are stamped 0x01, freshly allocated pages 0x05,
// so a stale pointer into either reads as conspicuously wrong data instead
// of silently-plausible zeros.
const (
	poisonFree  = 0x01
	poisonAlloc = 0x05
)

type frame_t struct {
	next *frame_t
}

// Allocator_t is the kernel's single physical-frame free list.
type Allocator_t struct {
	mu    sync.Mutex
	freel *frame_t
	nfree int
	// end is the first frame available for allocation; it is set once by
	// Kinit and is exclusively used to validate frame-aligned frees.
	start Pa_t
	limit Pa_t
}

// Kmem is the global allocator instance: initialized once before any
// other subsystem runs, then touched only under its own lock.
var Kmem = &Allocator_t{}

// testArena keeps TestReset's backing allocation alive for the lifetime of
// the process; without this anchor the garbage collector would be free to
// reclaim it out from under the "physical" addresses handed out by Kalloc.
var testArena []Bytepg_t

// Dmap returns a Go pointer to the page at physical address pa. The kernel
// page table identity-maps all of [KernelBase, PhyEnd) (standard practice
// for Sv39 kernels targeting QEMU virt), so this is just a reinterpret
// cast, not a translated direct-map offset.
func Dmap(pa Pa_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(uintptr(pa)))
}

// Dmap8 returns the page at pa as a byte slice.
func Dmap8(pa Pa_t) []uint8 {
	return Dmap(pa)[:]
}

func frameAt(pa Pa_t) *frame_t {
	return (*frame_t)(unsafe.Pointer(uintptr(pa)))
}

// Kinit walks physical RAM from round_up(end) to PHY_END in PGSIZE strides
// and frees every frame, so the free list ends up holding everything not
// occupied by the kernel image. end is supplied by the linker/boot loader
// as the first free physical address after the kernel's bss.
func Kinit(end Pa_t) {
	kinitRange(Pa_t(roundup(uint64(end), PGSIZE)), PhyEnd)
}

func kinitRange(start, limit Pa_t) {
	Kmem.mu.Lock()
	Kmem.start = start
	Kmem.limit = limit
	Kmem.freel = nil
	Kmem.nfree = 0
	Kmem.mu.Unlock()

	n := 0
	for pa := start; pa+PGSIZE <= limit; pa += PGSIZE {
		Kfree(pa)
		n++
	}
	klog.Infof("mem: reserved %d pages (%d MiB)", n, n*PGSIZE/(1024*1024))
}

// TestReset points the allocator at a freshly allocated Go-owned backing
// arena instead of the QEMU virt board's fixed physical range, so package
// tests can Kalloc/Kfree/Dmap real addressable memory without a running
// kernel underneath them. Not used outside _test.go files.
func TestReset(npages int) {
	testArena = make([]Bytepg_t, npages+1)
	base := Pa_t(uintptr(unsafe.Pointer(&testArena[0])))
	start := Pa_t(roundup(uint64(base), PGSIZE))
	kinitRange(start, start+Pa_t(npages)*PGSIZE)
}

// Kalloc removes a frame from the head of the free list and returns it
// poisoned, not zeroed; callers that need zeros must clear the frame
// themselves.
func Kalloc() (Pa_t, bool) {
	Kmem.mu.Lock()
	f := Kmem.freel
	if f == nil {
		Kmem.mu.Unlock()
		return 0, false
	}
	Kmem.freel = f.next
	Kmem.nfree--
	Kmem.mu.Unlock()

	pa := Pa_t(uintptr(unsafe.Pointer(f)))
	pg := Dmap8(pa)
	for i := range pg {
		pg[i] = poisonAlloc
	}
	return pa, true
}

// Kfree requires a frame-aligned address and returns it to the head of the
// free list after poisoning its contents.
func Kfree(pa Pa_t) {
	if pa%PGSIZE != 0 {
		panic("mem.Kfree: unaligned frame")
	}
	if pa < Kmem.start || pa >= Kmem.limit {
		panic("mem.Kfree: frame outside managed range")
	}
	pg := Dmap8(pa)
	for i := range pg {
		pg[i] = poisonFree
	}

	f := frameAt(pa)
	Kmem.mu.Lock()
	f.next = Kmem.freel
	Kmem.freel = f
	Kmem.nfree++
	Kmem.mu.Unlock()
}

// Nfree reports the current free-list length, for diagnostics and tests.
func Nfree() int {
	Kmem.mu.Lock()
	defer Kmem.mu.Unlock()
	return Kmem.nfree
}

func roundup(v, b uint64) uint64 {
	return (v + b - 1) / b * b
}
