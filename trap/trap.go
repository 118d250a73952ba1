// Package trap is the kernel's trap dispatcher: the user-trap
// entry/return pair that bridges a trapped user process through
// package syscall and back, the kernel-trap handler for faults taken
// while already in supervisor mode, and devintr's device/timer demux.
//
// uservec and userret, the assembly that actually performs the
// user<->kernel register save/restore and address-space switch, are
// external; this package only supplies their Go-callable
// neighbors and references them as external symbols (Userret below),
// exactly as proc.Swtch references the external context-switch stub.
package trap

import (
	"unsafe"

	"plic"
	"proc"
	"riscv"
	"ksyscall"
	"uart"
	"virtio"
)

// KernelSatp is the value of satp while running in the kernel, stamped
// into a process's trapframe every time it returns to user space.
// Package boot sets it once, right after installing the kernel page
// table, since at that
// point satp is already loaded with it and every later trap entry simply
// restores the same value rather than reading it back out of the CSR.
var KernelSatp uint64

// Init sets stvec to the kernel trap vector. Called once at boot, before
// interrupts are ever enabled.
func Init() {
	riscv.SetStvec(KernelVec())
}

// InitHart is Init's per-hart counterpart, called by every hart (not
// just hart 0) as it joins the scheduler.
func InitHart() {
	riscv.SetStvec(KernelVec())
}

func init() {
	proc.UsertrapRetHook = UserTrapRet
}

// UserTrap is reached from uservec once it has saved the user registers
// into the trapframe and switched onto the kernel stack. It asserts the
// trap came from user mode, reads and dispatches on scause, and always
// returns to user space via UserTrapRet
// (or proc.Exit, which never returns).
func UserTrap() {
	if riscv.GetSstatus()&riscv.SstatusSPP != 0 {
		panic("trap.UserTrap: not from user mode")
	}

	riscv.SetStvec(KernelVec())

	p := proc.Myproc()
	p.Trapframe.Epc = riscv.GetSepc()

	whichDev := 0
	if riscv.GetScause() == riscv.ScauseEcallU {
		if proc.Killed(p) {
			proc.Exit(-1)
		}
		p.Trapframe.Epc += 4
		riscv.IntrOn()
		syscall.Syscall(p)
	} else {
		whichDev = devintr()
		if whichDev == 0 {
			proc.SetKilled(p)
		}
	}

	if proc.Killed(p) {
		proc.Exit(-1)
	}

	if whichDev == 2 {
		proc.Yield()
	}

	UserTrapRet(p)
}

// UserTrapRet prepares p's trapframe for a return to user mode and jumps
// into the external userret stub. It is wired as
// proc.UsertrapRetHook so a process's very first return to user space,
// driven by forkret rather than a trap, goes through the identical path.
func UserTrapRet(p *proc.Proc_t) {
	riscv.IntrOff()

	trampolineUservec := riscv.Trampoline() + UserVecOffset()
	riscv.SetStvec(trampolineUservec)

	p.Trapframe.KernelSatp = KernelSatp
	p.Trapframe.KernelSp = p.KernelStack + riscv.PGSIZE
	p.Trapframe.KernelTrap = funcAddr(UserTrap)
	p.Trapframe.KernelHartid = riscv.Tp()

	x := riscv.GetSstatus()
	x &^= riscv.SstatusSPP
	x |= riscv.SstatusSPIE
	riscv.SetSstatus(x)

	riscv.SetSepc(p.Trapframe.Epc)

	satp := riscv.MakeSatp(pagetablePa(p))
	trampolineUserret := riscv.Trampoline() + UserRetOffset()
	Userret(trampolineUserret, satp)
}

// KernelTrap handles a trap taken while already running in supervisor
// mode: it is reached from kernelvec, which has
// already saved sepc/sstatus/scause and the caller-saved registers.
func KernelTrap() {
	sepc := riscv.GetSepc()
	sstatus := riscv.GetSstatus()
	_ = riscv.GetScause()

	if riscv.IntrGet() {
		panic("trap.KernelTrap: interrupts enabled")
	}
	if sstatus&riscv.SstatusSPP == 0 {
		panic("trap.KernelTrap: not from supervisor mode")
	}

	which := devintr()
	if which == 0 {
		panic("trap.KernelTrap: unhandled trap")
	}
	if which == 2 && proc.Myproc() != nil {
		proc.Yield()
	}

	riscv.SetSepc(sepc)
	riscv.SetSstatus(sstatus)
}

// stimecmpInterval is the number of timer ticks between successive timer
// interrupts; it is also the unit
// proc.Ticks counts in.
const stimecmpInterval = 1000000

// devintr demultiplexes an external (PLIC) or timer interrupt and returns
// 0 (not a device interrupt, i.e. an unhandled exception), 1 (handled
// external device interrupt), or 2 (timer interrupt).
func devintr() int {
	scause := riscv.GetScause()

	switch {
	case scause == riscv.ScauseSupervisorExternal:
		hart := int(riscv.Tp())
		irq := plic.Claim(hart)
		switch irq {
		case plic.UartIRQ:
			uart.Intr()
		case plic.VirtioIRQ:
			virtio.Intr()
		}
		if irq != 0 {
			plic.Complete(hart, irq)
		}
		return 1
	case scause == riscv.ScauseSupervisorTimer:
		// Every hart takes its own timer interrupt and must rearm its own
		// stimecmp, but only hart 0 advances the shared tick count;
		// otherwise NCPU harts would tick NCPU times as fast.
		if riscv.Tp() == 0 {
			proc.TickInterrupt()
		}
		rearmTimer()
		return 2
	default:
		return 0
	}
}

// rearmTimer schedules the next timer interrupt one stimecmpInterval of
// ticks out.
func rearmTimer() {
	riscv.SetStimecmp(riscv.GetTime() + stimecmpInterval)
}

// funcAddr mirrors proc.funcpc: it extracts a Go function value's entry
// address, needed here because Trapframe.KernelTrap stores a raw code
// address the trampoline jumps back to on the next trap, not a callable
// Go value.
func funcAddr(f func()) uint64 {
	return uint64(**(**uintptr)(unsafe.Pointer(&f)))
}

// pagetablePa resolves p's user page-table root to the physical address
// MakeSatp packs into satp.
func pagetablePa(p *proc.Proc_t) uint64 {
	return uint64(uintptr(unsafe.Pointer(p.Pagetable)))
}
