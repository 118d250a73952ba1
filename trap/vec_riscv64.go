//go:build riscv64

package trap

// KernelVec returns the entry address of the kernel-trap vector stub: the
// hand-written save-everything-then-call-KernelTrap routine every
// xv6-lineage kernel supplies. Like proc.Swtch, it has no Go body: it is
// the same flavor of raw entry-point assembly as the trampoline and
// swtch, linked in from the platform's boot object (see vec_riscv64.s).
func KernelVec() uint64

// UserVecOffset and UserRetOffset locate the trampoline's two entry
// points relative to its base, so the running kernel can address them at
// riscv.Trampoline()+offset regardless of where the boot object placed
// the trampoline code physically.
func UserVecOffset() uint64
func UserRetOffset() uint64

// Userret is the call into the trampoline's userret entry, passing the
// new satp value; it never returns to the Go caller.
func Userret(trampolineUserret uint64, satp uint64)
