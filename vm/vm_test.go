package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"defs"
	"mem"
	"riscv"
)

func freshHeap(t *testing.T) {
	t.Helper()
	// Give the allocator a small private arena so tests don't depend on
	// boot-time Kinit having already run with the real 128 MiB range.
	mem.TestReset(64)
}

func TestWalkAllocatesIntermediateLevels(t *testing.T) {
	freshHeap(t)
	pt, err := UvmCreate()
	require.Zero(t, err)

	pte, ok := Walk(pt, 0x1000, true)
	require.True(t, ok)
	require.NotNil(t, pte)
	require.Zero(t, *pte&riscv.PTE_V, "leaf must start invalid until mapped")
}

func TestMapPagesAndWalkaddrRoundtrip(t *testing.T) {
	freshHeap(t)
	pt, err := UvmCreate()
	require.Zero(t, err)

	pa, ok := mem.Kalloc()
	require.True(t, ok)

	merr := MapPages(pt, 0x2000, pa, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W|riscv.PTE_U)
	require.Zero(t, merr)

	got, ok := Walkaddr(pt, 0x2000)
	require.True(t, ok)
	require.Equal(t, pa, got)
}

func TestMapPagesRemapPanics(t *testing.T) {
	freshHeap(t)
	pt, _ := UvmCreate()
	pa, _ := mem.Kalloc()
	require.Zero(t, MapPages(pt, 0x3000, pa, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_U))

	require.Panics(t, func() {
		pa2, _ := mem.Kalloc()
		MapPages(pt, 0x3000, pa2, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_U)
	})
}

func TestUvmAllocAndDealloc(t *testing.T) {
	freshHeap(t)
	pt, _ := UvmCreate()

	newsz, err := UvmAlloc(pt, 0, 3*riscv.PGSIZE, riscv.PTE_W)
	require.Zero(t, err)
	require.Equal(t, uint64(3*riscv.PGSIZE), newsz)

	for va := uint64(0); va < newsz; va += riscv.PGSIZE {
		_, ok := Walkaddr(pt, va)
		require.True(t, ok)
	}

	shrunk := UvmDealloc(pt, newsz, riscv.PGSIZE)
	require.Equal(t, uint64(riscv.PGSIZE), shrunk)

	_, ok := Walkaddr(pt, 2*riscv.PGSIZE)
	require.False(t, ok, "deallocated page must no longer translate")
}

func TestCopyOutCopyInRoundtrip(t *testing.T) {
	freshHeap(t)
	pt, _ := UvmCreate()
	_, err := UvmAlloc(pt, 0, riscv.PGSIZE, riscv.PTE_W)
	require.Zero(t, err)

	msg := []byte("hello from the kernel")
	require.Zero(t, CopyOut(pt, 0x100, msg))

	back := make([]byte, len(msg))
	require.Zero(t, CopyIn(pt, back, 0x100))
	require.Equal(t, msg, back)
}

func TestCopyInStrStopsAtNUL(t *testing.T) {
	freshHeap(t)
	pt, _ := UvmCreate()
	_, err := UvmAlloc(pt, 0, riscv.PGSIZE, riscv.PTE_W)
	require.Zero(t, err)

	require.Zero(t, CopyOut(pt, 0x40, []byte("hi\x00garbage")))

	dst := make([]byte, 32)
	cerr := CopyInStr(pt, dst, 0x40, len(dst))
	require.Zero(t, cerr)
	require.Equal(t, "hi\x00", string(dst[:3]))
}

func TestCopyInStrTooLong(t *testing.T) {
	freshHeap(t)
	pt, _ := UvmCreate()
	_, err := UvmAlloc(pt, 0, riscv.PGSIZE, riscv.PTE_W)
	require.Zero(t, err)

	long := make([]byte, 20)
	for i := range long {
		long[i] = 'a'
	}
	require.Zero(t, CopyOut(pt, 0, long))

	dst := make([]byte, 8)
	cerr := CopyInStr(pt, dst, 0, len(dst))
	require.Equal(t, -defs.ENAMETOOLONG, cerr)
}

func TestUvmCopySharesNoFrames(t *testing.T) {
	freshHeap(t)
	old, _ := UvmCreate()
	sz, err := UvmAlloc(old, 0, riscv.PGSIZE, riscv.PTE_W)
	require.Zero(t, err)
	require.Zero(t, CopyOut(old, 0, []byte("parent data")))

	new_, _ := UvmCreate()
	require.Zero(t, UvmCopy(old, new_, sz))

	require.Zero(t, CopyOut(old, 0, []byte("mutated!!!!")))
	back := make([]byte, 11)
	require.Zero(t, CopyIn(new_, back, 0))
	require.Equal(t, "parent data", string(back))
}
