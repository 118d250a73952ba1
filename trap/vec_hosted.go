//go:build !riscv64

package trap

// Hosted builds have no trampoline to jump through; these exist so the
// package compiles (and its Go-level logic can be reviewed and linked
// into tests) without the external vector object.

func KernelVec() uint64     { return 0 }
func UserVecOffset() uint64 { return 0 }
func UserRetOffset() uint64 { return 0 }

func Userret(trampolineUserret uint64, satp uint64) {
	panic("trap.Userret: return to user mode on a hosted build")
}
