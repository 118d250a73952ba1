// Package vm is the Sv39 page-table manager: three-level walk/map,
// per-address-space create/copy/free, and the user<->kernel copy
// primitives every syscall argument passes through. Anything a caller can
// legitimately hit returns a defs.Err_t sentinel, never a panic; there is
// no copy-on-write or demand paging, so every mapped page is backed the
// moment the mapping exists.
package vm

import (
	"unsafe"

	"defs"
	"mem"
	"riscv"
)

const (
	pgsize  = riscv.PGSIZE
	pgshift = riscv.PGSHIFT
)

// Pte_t is one Sv39 page-table entry.
type Pte_t uint64

// Pagetable_t is one level of an Sv39 page table: 512 eight-byte entries
// filling exactly one physical frame.
type Pagetable_t [512]Pte_t

const ptesPerLevel = 512

func pa2pte(pa mem.Pa_t) Pte_t {
	return Pte_t(pa>>pgshift) << 10
}

func pte2pa(pte Pte_t) mem.Pa_t {
	return mem.Pa_t(pte>>10) << pgshift
}

func pxshift(level int) uint {
	return uint(pgshift + 9*level)
}

func px(level int, va uint64) uint64 {
	return (va >> pxshift(level)) & 0x1ff
}

func ptAt(pa mem.Pa_t) *Pagetable_t {
	return (*Pagetable_t)(unsafe.Pointer(uintptr(pa)))
}

// Walk descends the three Sv39 levels for va. When alloc is true, a
// missing intermediate level is allocated and zeroed; when false, a
// missing level is reported as "not found" rather than faulted. va beyond
// VA_MAX is a fatal caller error.
func Walk(pt *Pagetable_t, va uint64, alloc bool) (*Pte_t, bool) {
	if va > riscv.VA_MAX {
		panic("vm.Walk: va exceeds VA_MAX")
	}
	cur := pt
	for level := 2; level > 0; level-- {
		pte := &cur[px(level, va)]
		if *pte&riscv.PTE_V != 0 {
			cur = ptAt(pte2pa(*pte))
			continue
		}
		if !alloc {
			return nil, false
		}
		pa, ok := mem.Kalloc()
		if !ok {
			return nil, false
		}
		np := ptAt(pa)
		for i := range np {
			np[i] = 0
		}
		*pte = pa2pte(pa) | riscv.PTE_V
		cur = np
	}
	return &cur[px(0, va)], true
}

// Walkaddr translates a user virtual address to its backing physical
// address, requiring the leaf PTE to be valid and user-accessible. It
// never allocates. Walkaddr(pt, VA_MAX) always returns (0, false): VA_MAX
// is the boundary sentinel, never itself a mappable page.
func Walkaddr(pt *Pagetable_t, va uint64) (mem.Pa_t, bool) {
	if va > riscv.VA_MAX {
		return 0, false
	}
	pte, ok := Walk(pt, va, false)
	if !ok || pte == nil {
		return 0, false
	}
	if *pte&riscv.PTE_V == 0 || *pte&riscv.PTE_U == 0 {
		return 0, false
	}
	return pte2pa(*pte), true
}

// MapPages installs size/PGSIZE consecutive leaf mappings starting at va,
// mapping physical addresses pa, pa+PGSIZE, ... with the given permission
// bits. va and size must be page-aligned and size must be nonzero.
// Remapping an already-valid leaf is a fatal misuse; on
// mid-range failure the partial mapping is left in place for the caller to
// unwind with UvmUnmap.
func MapPages(pt *Pagetable_t, va uint64, pa mem.Pa_t, size uint64, perm Pte_t) defs.Err_t {
	if size == 0 {
		panic("vm.MapPages: zero size")
	}
	if va%pgsize != 0 || size%pgsize != 0 {
		panic("vm.MapPages: unaligned va/size")
	}
	a := va
	last := va + size - pgsize
	for {
		pte, ok := Walk(pt, a, true)
		if !ok {
			return -defs.ENOMEM
		}
		if *pte&riscv.PTE_V != 0 {
			panic("vm.MapPages: remap of valid PTE")
		}
		*pte = pa2pte(pa) | perm | riscv.PTE_V
		if a == last {
			break
		}
		a += pgsize
		pa += pgsize
	}
	return 0
}

// UvmCreate allocates a fresh, zeroed top-level page table for a new
// address space.
func UvmCreate() (*Pagetable_t, defs.Err_t) {
	pa, ok := mem.Kalloc()
	if !ok {
		return nil, -defs.ENOMEM
	}
	pt := ptAt(pa)
	for i := range pt {
		pt[i] = 0
	}
	return pt, 0
}

// UvmUnmap unmaps npages pages starting at va. A missing intermediate
// table level is fatal; a non-present leaf is silently tolerated, which is
// what lets sparse user regions (e.g. the unallocated gap below the stack
// guard page) be "unmapped" without having ever been mapped. When doFree
// is true the backing physical frame is returned to the allocator.
func UvmUnmap(pt *Pagetable_t, va uint64, npages uint64, doFree bool) {
	if va%pgsize != 0 {
		panic("vm.UvmUnmap: unaligned va")
	}
	for a := va; a < va+npages*pgsize; a += pgsize {
		pte, ok := Walk(pt, a, false)
		if !ok {
			panic("vm.UvmUnmap: missing intermediate page-table level")
		}
		if *pte&riscv.PTE_V == 0 {
			continue
		}
		if *pte&(riscv.PTE_R|riscv.PTE_W|riscv.PTE_X) == 0 {
			panic("vm.UvmUnmap: not a leaf")
		}
		if doFree {
			mem.Kfree(pte2pa(*pte))
		}
		*pte = 0
	}
}

// uvmFreeWalk recursively frees the non-leaf frames of a page table after
// its mapped leaves have already been unmapped by UvmFree.
func uvmFreeWalk(pt *Pagetable_t) {
	for i := range pt {
		pte := pt[i]
		if pte&riscv.PTE_V == 0 {
			continue
		}
		if pte&(riscv.PTE_R|riscv.PTE_W|riscv.PTE_X) != 0 {
			panic("vm.uvmFreeWalk: leaf still mapped")
		}
		uvmFreeWalk(ptAt(pte2pa(pte)))
		pt[i] = 0
	}
	mem.Kfree(mem.Pa_t(uintptr(unsafe.Pointer(pt))))
}

// UvmFree unmaps [0, sz) and then frees every page-table frame itself.
func UvmFree(pt *Pagetable_t, sz uint64) {
	if sz > 0 {
		UvmUnmap(pt, 0, (sz+pgsize-1)/pgsize, true)
	}
	uvmFreeWalk(pt)
}

// UvmFirst maps a single R|W|X|U page at VA 0 and copies src (at most one
// page) into it, used once at boot to bootstrap the embedded initcode
// image.
func UvmFirst(pt *Pagetable_t, src []byte) {
	if len(src) > pgsize {
		panic("vm.UvmFirst: initcode larger than one page")
	}
	pa, ok := mem.Kalloc()
	if !ok {
		panic("vm.UvmFirst: out of memory")
	}
	pg := mem.Dmap8(pa)
	for i := range pg {
		pg[i] = 0
	}
	copy(pg, src)
	if err := MapPages(pt, 0, pa, pgsize, riscv.PTE_W|riscv.PTE_R|riscv.PTE_X|riscv.PTE_U); err != 0 {
		panic("vm.UvmFirst: map_pages failed")
	}
}

// UvmAlloc rounds oldsz up to a page and allocates+maps zeroed pages to
// cover [oldsz, newsz) with R|U|xperm. On failure it rolls back whatever
// it had allocated so far.
func UvmAlloc(pt *Pagetable_t, oldsz, newsz uint64, xperm Pte_t) (uint64, defs.Err_t) {
	if newsz < oldsz {
		return oldsz, 0
	}
	oldsz = (oldsz + pgsize - 1) / pgsize * pgsize
	a := oldsz
	for ; a < newsz; a += pgsize {
		pa, ok := mem.Kalloc()
		if !ok {
			UvmDealloc(pt, a, oldsz)
			return oldsz, -defs.ENOMEM
		}
		pg := mem.Dmap8(pa)
		for i := range pg {
			pg[i] = 0
		}
		perm := riscv.PTE_R | riscv.PTE_U | xperm
		if err := MapPages(pt, a, pa, pgsize, perm); err != 0 {
			mem.Kfree(pa)
			UvmDealloc(pt, a, oldsz)
			return oldsz, err
		}
	}
	return newsz, 0
}

// UvmDealloc shrinks the mapped region from oldsz down to newsz, freeing
// the frames backing the removed pages.
func UvmDealloc(pt *Pagetable_t, oldsz, newsz uint64) uint64 {
	if newsz >= oldsz {
		return oldsz
	}
	oldUp := (oldsz + pgsize - 1) / pgsize * pgsize
	newUp := (newsz + pgsize - 1) / pgsize * pgsize
	if newUp < oldUp {
		UvmUnmap(pt, newUp, (oldUp-newUp)/pgsize, true)
	}
	return newsz
}

// UvmCopy duplicates every mapped page in [0, sz) of old into freshly
// allocated frames in new, preserving each page's permission bits. A
// missing source page is tolerated (sparse regions copy as sparse).
func UvmCopy(old, new_ *Pagetable_t, sz uint64) defs.Err_t {
	for va := uint64(0); va < sz; va += pgsize {
		pte, ok := Walk(old, va, false)
		if !ok || pte == nil || *pte&riscv.PTE_V == 0 {
			continue
		}
		pa := pte2pa(*pte)
		perm := *pte & 0x3ff
		npa, ok := mem.Kalloc()
		if !ok {
			UvmUnmap(new_, 0, va/pgsize, true)
			return -defs.ENOMEM
		}
		copy(mem.Dmap8(npa), mem.Dmap8(pa))
		if err := MapPages(new_, va, npa, pgsize, perm&^riscv.PTE_V); err != 0 {
			mem.Kfree(npa)
			UvmUnmap(new_, 0, va/pgsize, true)
			return err
		}
	}
	return 0
}

// UvmClear drops the PTE_U bit for the page at va, used to turn the guard
// page below the user stack into a kernel-only mapping the user program
// cannot touch even though it is mapped (exec's stack-overflow trap).
func UvmClear(pt *Pagetable_t, va uint64) {
	pte, ok := Walk(pt, va, false)
	if !ok || pte == nil {
		panic("vm.UvmClear: missing PTE")
	}
	*pte &^= riscv.PTE_U
}

// CopyOut copies len(src) bytes from kernel memory into the user address
// space at dstva, walking page by page. Every touched PTE must already be
// valid, user, and writable.
func CopyOut(pt *Pagetable_t, dstva uint64, src []byte) defs.Err_t {
	n := len(src)
	off := 0
	for off < n {
		va0 := dstva / pgsize * pgsize
		pa, ok := Walkaddr(pt, va0)
		if !ok {
			return -defs.EFAULT
		}
		pte, _ := Walk(pt, va0, false)
		if pte == nil || *pte&riscv.PTE_W == 0 {
			return -defs.EFAULT
		}
		voff := int(dstva - va0)
		chunk := pgsize - voff
		if chunk > n-off {
			chunk = n - off
		}
		copy(mem.Dmap8(pa)[voff:voff+chunk], src[off:off+chunk])
		off += chunk
		dstva += uint64(chunk)
	}
	return 0
}

// CopyIn is CopyOut's mirror image: it reads from the user address space
// at srcva into dst.
func CopyIn(pt *Pagetable_t, dst []byte, srcva uint64) defs.Err_t {
	n := len(dst)
	off := 0
	for off < n {
		va0 := srcva / pgsize * pgsize
		pa, ok := Walkaddr(pt, va0)
		if !ok {
			return -defs.EFAULT
		}
		voff := int(srcva - va0)
		chunk := pgsize - voff
		if chunk > n-off {
			chunk = n - off
		}
		copy(dst[off:off+chunk], mem.Dmap8(pa)[voff:voff+chunk])
		off += chunk
		srcva += uint64(chunk)
	}
	return 0
}

// CopyInStr copies a NUL-terminated string of at most max bytes (including
// the terminator) from the user address space at srcva into dst. It
// returns success once the NUL byte has been copied.
func CopyInStr(pt *Pagetable_t, dst []byte, srcva uint64, max int) defs.Err_t {
	got := 0
	for got < max {
		va0 := srcva / pgsize * pgsize
		pa, ok := Walkaddr(pt, va0)
		if !ok {
			return -defs.EFAULT
		}
		voff := int(srcva - va0)
		page := mem.Dmap8(pa)[voff:]
		for _, c := range page {
			if got >= max {
				return -defs.ENAMETOOLONG
			}
			dst[got] = c
			got++
			if c == 0 {
				return 0
			}
			srcva++
		}
	}
	return -defs.ENAMETOOLONG
}

// InitHart installs the kernel page table into satp, bracketing the
// install with sfence.vma so no stale translations survive the switch.
func InitHart(kernelPagetable *Pagetable_t) {
	riscv.SfenceVMA()
	riscv.SetSATP(riscv.MakeSatp(uint64(mem.Pa_t(uintptr(unsafe.Pointer(kernelPagetable))))))
	riscv.SfenceVMA()
}
