// Package riscv is the architecture layer: Sv39 constants, the trapframe
// and context layouts shared with the trampoline, and the thin wrappers
// around control-register access. The wrappers declared here (IntrOn,
// IntrOff, SfenceVMA, ...) are implemented in riscv_asm.s: a handful of
// single-instruction CSR accessors, which is all component A owns.
//
// What this package does NOT own: the uservec/userret trampoline and
// the swtch context-
// switch stub. Those are supplied by the platform's boot assembly object
// and are referenced only as external symbols (see proc.Swtch and
// trap.Userret); no Go or assembly source for them lives in this module.
package riscv

const (
	PGSHIFT = 12
	PGSIZE  = 1 << PGSHIFT // 4096

	// Sv39: 3 levels of 9 bits each, plus the 12-bit page offset.
	VA_MAX = 1<<38 - 1
)

// Trampoline and Trapframe return the canonical trampoline/trapframe
// virtual addresses: the highest page of the address space and the page
// just below it.
func Trampoline() uint64 { return uint64(VA_MAX) - PGSIZE + 1 }
func Trapframe() uint64  { return Trampoline() - PGSIZE }

// Kstack returns the virtual address of the top of the kernel stack
// reserved for the process occupying proc-table slot pid, below the
// trampoline, with one guard page between every pair of stacks.
func Kstack(slot int) uint64 {
	return Trampoline() - uint64(slot+1)*2*PGSIZE
}

// PTE flag bits (Sv39, shared by leaf and non-leaf entries).
const (
	PTE_V = 1 << 0 // valid
	PTE_R = 1 << 1 // readable
	PTE_W = 1 << 2 // writable
	PTE_X = 1 << 3 // executable
	PTE_U = 1 << 4 // user-accessible
	PTE_G = 1 << 5 // global
	PTE_A = 1 << 6 // accessed
	PTE_D = 1 << 7 // dirty
)

// SATP mode field for Sv39.
const SATP_SV39 = 8

// MakeSatp packs a page-table root physical address into the value to be
// written to the satp CSR.
func MakeSatp(pagetableRoot uint64) uint64 {
	return uint64(SATP_SV39)<<60 | (pagetableRoot >> PGSHIFT)
}

// scause values devintr() and usertrap() discriminate on.
const (
	ScauseEcallU           = 8
	ScauseSupervisorTimer  = 0x8000000000000005
	ScauseSupervisorExternal = 0x8000000000000009
)

// sstatus bits trap.go reads and writes around a trip to/from user mode.
const (
	SstatusSPP  = 1 << 8 // previous privilege mode (1 = supervisor)
	SstatusSPIE = 1 << 5 // previous interrupt-enable, restored into SIE on sret
)

// Context_t holds the callee-saved registers swtch exchanges between a
// kernel thread and the per-CPU scheduler loop. Field order and presence
// must match what the external swtch assembly stub expects.
type Context_t struct {
	Ra uint64
	Sp uint64

	S0  uint64
	S1  uint64
	S2  uint64
	S3  uint64
	S4  uint64
	S5  uint64
	S6  uint64
	S7  uint64
	S8  uint64
	S9  uint64
	S10 uint64
	S11 uint64
}

// Trapframe_t is the fixed-layout structure mapped at TRAPFRAME. The
// external uservec/userret trampoline reads and writes it by raw byte
// offset, so field order here is load-bearing and must not be reordered.
type Trapframe_t struct {
	KernelSatp  uint64 /*   0 */
	KernelSp    uint64 /*   8 */
	KernelTrap  uint64 /*  16 */
	Epc         uint64 /*  24 */
	KernelHartid uint64 /* 32 */
	Ra uint64 /*  40 */
	Sp uint64 /*  48 */
	Gp uint64 /*  56 */
	Tp uint64 /*  64 */
	T0 uint64 /*  72 */
	T1 uint64 /*  80 */
	T2 uint64 /*  88 */
	S0 uint64 /*  96 */
	S1 uint64 /* 104 */
	A0 uint64 /* 112 */
	A1 uint64 /* 120 */
	A2 uint64 /* 128 */
	A3 uint64 /* 136 */
	A4 uint64 /* 144 */
	A5 uint64 /* 152 */
	A6 uint64 /* 160 */
	A7 uint64 /* 168 */
	S2 uint64 /* 176 */
	S3 uint64 /* 184 */
	S4 uint64 /* 192 */
	S5 uint64 /* 200 */
	S6 uint64 /* 208 */
	S7 uint64 /* 216 */
	S8 uint64 /* 224 */
	S9 uint64 /* 232 */
	S10 uint64 /* 240 */
	S11 uint64 /* 248 */
	T3 uint64 /* 256 */
	T4 uint64 /* 264 */
	T5 uint64 /* 272 */
	T6 uint64 /* 280 */
}

// Arg fetches a7/a0..a6 by index, matching the trapframe's register
// ordering for syscall argument passing.
func (tf *Trapframe_t) Arg(i int) uint64 {
	switch i {
	case 0:
		return tf.A0
	case 1:
		return tf.A1
	case 2:
		return tf.A2
	case 3:
		return tf.A3
	case 4:
		return tf.A4
	case 5:
		return tf.A5
	case 6:
		return tf.A6
	default:
		panic("riscv.Trapframe_t.Arg: index out of range")
	}
}

// The CSR accessors and fence/wfi primitives (IntrOn, IntrOff, SetSATP,
// ...) are declared in accessors_riscv64.go and implemented in
// riscv_asm.s on the real target; hosted.go supplies a plain-variable
// emulation for package tests running under a development toolchain.
// None of them perform a privilege-mode transition (that's mret/sret,
// explicitly external).
