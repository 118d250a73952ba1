// Package proc implements the process table, the per-hart scheduler, and
// the sleep/wakeup and fork/exit/wait/kill machinery built on top of it.
//
// Two things this package deliberately does NOT hold, unlike the classic
// xv6 struct proc: the per-process open-file table and current
// working directory. Those live behind hooks (ForkHook, ExitHook below)
// that the file package registers itself into at boot, via the glue layer
// in package boot, so proc never imports file or fs, breaking what would
// otherwise be an import cycle (file needs fs needs sleeplock needs proc).
// The scheduler itself doesn't care what a process has open; it only
// needs to be told when to clean it up.
package proc

import (
	"sync/atomic"
	"unsafe"

	"accnt"
	"defs"
	"limits"
	"mem"
	"riscv"
	"spinlock"
	"ustr"
	"vm"
)

const (
	NPROC = 64
	NCPU  = 8
)

// Status_t is a process's scheduling state.
type Status_t int

const (
	UNUSED Status_t = iota
	USED
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

// User_t is the credential block a process's setuid/setgid calls mutate.
// It is kept separate from Proc_t so a future multi-threaded process
// could share one credential block across several Proc_t; the split costs
// nothing today.
type User_t struct {
	Lock *spinlock.Spinlock_t
	Uid  uint32
	Gid  uint32
}

func newUser() *User_t {
	return &User_t{Lock: spinlock.MkLock("user")}
}

// Proc_t is one process-table slot.
type Proc_t struct {
	Lock *spinlock.Spinlock_t

	// Fields below are protected by Lock except where noted.
	Name    string
	Status  Status_t
	Pid     int
	Chan    interface{} // wait channel this process is blocked on, if Status == SLEEPING
	xstate  int32
	killed  int32 // accessed with sync/atomic so usertrap can check it without the lock
	User    *User_t
	Parent  *Proc_t

	KernelStack uint64
	Sz          uint64
	Pagetable   *vm.Pagetable_t
	Trapframe   *riscv.Trapframe_t
	Context     riscv.Context_t

	Accnt *accnt.Accnt_t
	Limit *limits.Syslimit_t

	Cwd ustr.Ustr // current directory path; resolved to an inode by the file hook, not cached here
}

// Cpu_t is one hart's scheduling context.
type Cpu_t struct {
	Proc    *Proc_t
	Context riscv.Context_t
}

var cpus [NCPU]Cpu_t

var ptable struct {
	lock *spinlock.Spinlock_t
	proc [NPROC]*Proc_t
}

func init() {
	ptable.lock = spinlock.MkLock("ptable")
	for i := range ptable.proc {
		ptable.proc[i] = &Proc_t{Lock: spinlock.MkLock("proc")}
	}
}

// ForkHook, ExitHook, and FirstReturnHook are wired up by package boot
// during boot sequencing (not here; that would require importing file
// and fs, which is exactly the cycle this package is designed to avoid).
var (
	// ForkHook, if set, is called after a child's Proc_t is otherwise fully
	// initialized, to let the file package duplicate the parent's open-file
	// table and working directory into the child.
	ForkHook func(parent, child *Proc_t)
	// ExitHook, if set, is called before a process is reaped, to let the
	// file package close its open files and release its cwd reference.
	ExitHook func(p *Proc_t)
	// FirstReturnHook runs exactly once, the first time any process
	// returns from forkret to user space. The file system initializes
	// here, not at boot, because reading the superblock needs a process
	// context to sleep in while the disk request completes.
	FirstReturnHook func()
)

var firstReturnDone int32

// UsertrapRetHook is wired up by package trap (usertrapret) to carry a
// freshly scheduled process the rest of the way back to user mode.
// proc.forkret calls it after running FirstReturnHook, so a process
// scheduled for the first time returns to user space exactly the way one
// resuming from a later trap does.
var UsertrapRetHook func(p *Proc_t)

// forkret is the function every new process's Context.Ra points at: the
// first instruction a process ever executes in kernel mode, reached via
// Swtch's ret rather than an ordinary Go call. It releases the process's
// own lock (acquired by whichever caller made it RUNNING, allocproc's
// scheduler pickup), runs the one-time FirstReturnHook, and then falls
// through to UsertrapRetHook to return to user space.
func forkret() {
	p := Myproc()
	p.Lock.Unlock()

	if atomic.CompareAndSwapInt32(&firstReturnDone, 0, 1) {
		if FirstReturnHook != nil {
			FirstReturnHook()
		}
	}

	if UsertrapRetHook != nil {
		UsertrapRetHook(p)
	}
}

// hartID is a variable, not a direct riscv.Tp() call, so package tests
// running under a hosted Go runtime (no meaningful tp register) can
// substitute a fake hart index. See spinlock's identical seam.
var hartID = func() int {
	id := int(riscv.Tp())
	if id < 0 || id >= NCPU {
		panic("proc.CPUID: hart id out of range")
	}
	return id
}

// CPUID returns the current hart's index into the per-CPU table. Callers
// must already have interrupts disabled (own a spinlock, typically).
func CPUID() int {
	return hartID()
}

// Mycpu returns the calling hart's Cpu_t. Interrupts must be disabled.
func Mycpu() *Cpu_t {
	return &cpus[CPUID()]
}

// Myproc returns the process currently running on this hart, or nil if
// none is (the scheduler's own idle context).
func Myproc() *Proc_t {
	spinlock.PushOff()
	c := Mycpu()
	p := c.Proc
	spinlock.PopOff()
	return p
}

// TrampolinePa is the physical address of the externally supplied
// uservec/userret trampoline code. Package boot sets this once, early in
// boot sequencing, since it alone knows the kernel's link layout; proc
// just needs somewhere to point each address space's TRAMPOLINE mapping.
var TrampolinePa mem.Pa_t

// AllocPagetable builds a fresh address space for p: a bare page table
// with the trampoline and trapframe mapped, but no user memory yet.
func AllocPagetable(p *Proc_t) (*vm.Pagetable_t, defs.Err_t) {
	pt, err := vm.UvmCreate()
	if err != 0 {
		return nil, err
	}
	if merr := vm.MapPages(pt, riscv.Trampoline(), TrampolinePa, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_X); merr != 0 {
		vm.UvmFree(pt, 0)
		return nil, merr
	}
	tfPa := mem.Pa_t(uintptr(unsafe.Pointer(p.Trapframe)))
	if merr := vm.MapPages(pt, riscv.Trapframe(), tfPa, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W); merr != 0 {
		vm.UvmUnmap(pt, riscv.Trampoline(), 1, false)
		vm.UvmFree(pt, 0)
		return nil, merr
	}
	return pt, 0
}

// FreePagetable tears down p's address space: unmap the trampoline/
// trapframe mappings (whose backing frames are NOT owned by the page
// table) and then free every user page plus the table frames themselves.
func FreePagetable(pt *vm.Pagetable_t, sz uint64) {
	vm.UvmUnmap(pt, riscv.Trampoline(), 1, false)
	vm.UvmUnmap(pt, riscv.Trapframe(), 1, false)
	vm.UvmFree(pt, sz)
}

// allocproc scans the process table for an UNUSED slot, reserves it, and
// performs the allocations every process needs regardless of how it is
// created (fork vs userinit): a kernel stack trapframe page, a pid, and
// empty accounting/limit state.
func allocproc() (*Proc_t, defs.Err_t) {
	ptable.lock.Lock()
	defer ptable.lock.Unlock()

	for _, p := range ptable.proc {
		p.Lock.Lock()
		if p.Status != UNUSED {
			p.Lock.Unlock()
			continue
		}
		p.Pid = nextPid()
		p.Status = USED

		tfPa, ok := mem.Kalloc()
		if !ok {
			freeprocLocked(p)
			p.Lock.Unlock()
			return nil, -defs.ENOMEM
		}
		p.Trapframe = (*riscv.Trapframe_t)(unsafe.Pointer(uintptr(tfPa)))

		pt, err := AllocPagetable(p)
		if err != 0 {
			freeprocLocked(p)
			p.Lock.Unlock()
			return nil, err
		}
		p.Pagetable = pt
		p.Sz = 0
		p.Accnt = &accnt.Accnt_t{}
		p.Limit = limits.Syslimit
		p.User = newUser()

		p.KernelStack = riscv.Kstack(slotOf(p))

		p.Context = riscv.Context_t{}
		p.Context.Ra = uint64(funcpc(forkret))
		p.Context.Sp = p.KernelStack + riscv.PGSIZE

		return p, 0
	}
	return nil, -defs.EAGAIN
}

// funcpc returns the entry address of a Go function value. It relies on
// the unexported but long-stable shape of a Go func value (a pointer to
// a pointer to the code) rather than anything in the public ABI, which
// is the same trick low-level scheduling code reaches for whenever it
// needs a real return address instead of a callable Go value, exactly
// what an assembly swtch needs to "ret" into.
func funcpc(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}

var pidLock = spinlock.MkLock("nextpid")
var pidCounter = 0

func nextPid() int {
	pidLock.Lock()
	defer pidLock.Unlock()
	pidCounter++
	return pidCounter
}

func slotOf(p *Proc_t) int {
	for i := range ptable.proc {
		if ptable.proc[i] == p {
			return i
		}
	}
	panic("proc.slotOf: not a ptable slot")
}

// freeprocLocked releases everything allocproc may have allocated before
// a failure partway through. Caller holds p.Lock.
func freeprocLocked(p *Proc_t) {
	if p.Trapframe != nil {
		mem.Kfree(mem.Pa_t(uintptr(unsafe.Pointer(p.Trapframe))))
		p.Trapframe = nil
	}
	if p.Pagetable != nil {
		FreePagetable(p.Pagetable, p.Sz)
		p.Pagetable = nil
	}
	p.Pid = 0
	p.Name = ""
	p.Chan = nil
	p.Parent = nil
	p.User = nil
	p.Accnt = nil
	p.Limit = nil
	p.Cwd = nil
	atomic.StoreInt32(&p.killed, 0)
	p.xstate = 0
	p.Status = UNUSED
}

// Init performs one-time process-subsystem setup. The per-slot table
// itself is built by package init(); this exists as the documented
// boot-sequencing entry point package boot calls.
func Init() {}

// MapStacks reserves one kernel-stack page (with a guard page below it)
// per process-table slot in the kernel page table kpt. Called once at
// boot, before any process is created.
func MapStacks(kpt *vm.Pagetable_t) defs.Err_t {
	for i := range ptable.proc {
		pa, ok := mem.Kalloc()
		if !ok {
			return -defs.ENOMEM
		}
		va := riscv.Kstack(i)
		if err := vm.MapPages(kpt, va, pa, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W); err != 0 {
			mem.Kfree(pa)
			return err
		}
	}
	return 0
}

// UserInit creates the root process (pid ROOTID): it maps initcode at
// virtual address 0, points the trapframe at it, and marks the process
// RUNNABLE. initcode is supplied by the boot sequencer rather than
// referenced as a linker-provided extern array, since this rewrite has no
// such symbol to reach for.
func UserInit(initcode []byte) defs.Err_t {
	p, err := allocproc()
	if err != 0 {
		return err
	}

	vm.UvmFirst(p.Pagetable, initcode)
	p.Sz = riscv.PGSIZE

	p.Trapframe.Epc = 0
	p.Trapframe.Sp = riscv.PGSIZE

	p.Name = "initcode"
	p.Cwd = ustr.MkUstr("/")
	p.Status = RUNNABLE

	rootProc = p
	p.Lock.Unlock()
	return 0
}

// rootProc is the process UserInit creates: the ancestor every orphan is
// reparented to, and the one process Exit refuses to tear down.
var rootProc *Proc_t

// Sleep atomically releases lk and blocks the calling process until
// Wakeup(chan) is called with the same chan value, then reacquires lk
// before returning. lk must not be the process's own Lock.
func Sleep(chanv interface{}, lk *spinlock.Spinlock_t) {
	p := Myproc()
	if p == nil {
		panic("proc.Sleep: no current process")
	}

	p.Lock.Lock()
	lk.Unlock()

	p.Chan = chanv
	p.Status = SLEEPING

	sched()

	p.Chan = nil
	p.Lock.Unlock()

	lk.Lock()
}

// Wakeup marks every process sleeping on chan as RUNNABLE.
func Wakeup(chanv interface{}) {
	for _, p := range ptable.proc {
		if p == Myproc() {
			continue
		}
		p.Lock.Lock()
		if p.Status == SLEEPING && p.Chan == chanv {
			p.Status = RUNNABLE
		}
		p.Lock.Unlock()
	}
}

// Yield gives up the CPU for one scheduling round.
func Yield() {
	p := Myproc()
	p.Lock.Lock()
	if p.Status == RUNNING {
		p.Status = RUNNABLE
	}
	sched()
	p.Lock.Unlock()
}

// sched switches from the current process's context to the scheduler's,
// requiring the caller to hold p.Lock (and nothing else), to have
// already set a non-RUNNING status, and to have interrupts disabled.
func sched() {
	c := Mycpu()
	p := c.Proc
	if !p.Lock.Holding() {
		panic("proc.sched: process lock not held")
	}
	if spinlock.Noff() != 1 {
		panic("proc.sched: other locks held across a switch")
	}
	if p.Status == RUNNING {
		panic("proc.sched: process still RUNNING")
	}
	if riscv.IntrGet() {
		panic("proc.sched: interruptible")
	}

	ena := spinlock.Intena()
	Swtch(&p.Context, &c.Context)
	spinlock.SetIntena(ena)
}

// Scheduler is the per-hart idle loop: each hart runs this forever,
// picking a RUNNABLE process, context-switching into it, and reclaiming
// control when that process yields or blocks.
func Scheduler() {
	c := Mycpu()
	for {
		riscv.IntrOn()

		ran := false
		for _, p := range ptable.proc {
			p.Lock.Lock()
			if p.Status == RUNNABLE {
				p.Status = RUNNING
				c.Proc = p
				Swtch(&c.Context, &p.Context)
				c.Proc = nil
				ran = true
			}
			p.Lock.Unlock()
		}
		if !ran {
			riscv.Wfi()
		}
	}
}

// Fork creates a child of parent with a duplicated address space, a copy
// of its trapframe (so the child returns from the same fork syscall with
// a zero return value), and inherited accounting/limit quotas.
func Fork(parent *Proc_t) (int, defs.Err_t) {
	child, err := allocproc()
	if err != 0 {
		return -1, err
	}

	if cerr := vm.UvmCopy(parent.Pagetable, child.Pagetable, parent.Sz); cerr != 0 {
		freeprocLocked(child)
		child.Lock.Unlock()
		return -1, cerr
	}
	child.Sz = parent.Sz

	*child.Trapframe = *parent.Trapframe
	child.Trapframe.A0 = 0 // fork() returns 0 in the child

	child.Name = parent.Name
	child.User.Uid = parent.User.Uid
	child.User.Gid = parent.User.Gid
	child.Limit = parent.Limit
	child.Cwd = append(ustr.Ustr(nil), parent.Cwd...)

	pid := child.Pid
	child.Lock.Unlock()

	// the child is USED but not yet RUNNABLE, so no other hart can run it
	// while the hook copies the parent's open files into it
	if ForkHook != nil {
		ForkHook(parent, child)
	}

	// ptable.lock doubles as the wait lock: Wait and reparent scan
	// Parent links under it
	ptable.lock.Lock()
	child.Parent = parent
	ptable.lock.Unlock()

	child.Lock.Lock()
	child.Status = RUNNABLE
	child.Lock.Unlock()

	return pid, 0
}

// Exit tears down the calling process's address space, reparents its
// children to the root process, and becomes a ZOMBIE for its parent to
// Wait() on. It never returns.
func Exit(status int) {
	p := Myproc()
	if p == rootProc {
		panic("proc.Exit: root process exiting")
	}

	if ExitHook != nil {
		ExitHook(p)
	}

	ptable.lock.Lock()
	reparent(p)
	wakeupParentLocked(p)

	p.Lock.Lock()
	p.xstate = int32(status)
	p.Status = ZOMBIE
	ptable.lock.Unlock()

	sched()
	panic("proc.Exit: zombie process rescheduled")
}

func reparent(p *Proc_t) {
	for _, c := range ptable.proc {
		if c.Parent == p {
			c.Parent = rootProc
			Wakeup(rootProc)
		}
	}
}

func wakeupParentLocked(p *Proc_t) {
	if p.Parent != nil {
		Wakeup(p.Parent)
	}
}

// Wait blocks until a child of the calling process exits, reaps it, and
// reports its pid and exit status via *status (copied out by the caller
// at the syscall boundary, not here; Wait has no vm dependency of its
// own on purpose).
func Wait(status *int) (int, defs.Err_t) {
	p := Myproc()

	ptable.lock.Lock()
	for {
		haveChild := false
		for _, c := range ptable.proc {
			if c.Parent != p {
				continue
			}
			haveChild = true
			c.Lock.Lock()
			if c.Status == ZOMBIE {
				pid := c.Pid
				*status = int(c.xstate)
				freeprocLocked(c)
				c.Lock.Unlock()
				ptable.lock.Unlock()
				return pid, 0
			}
			c.Lock.Unlock()
		}
		if !haveChild || Killed(p) {
			ptable.lock.Unlock()
			return -1, -defs.ECHILD
		}
		Sleep(p, ptable.lock)
	}
}

// Grow adjusts the calling process's address-space size by n bytes
// (n may be negative) and returns the resulting size.
func Grow(p *Proc_t, n int) (uint64, defs.Err_t) {
	sz := p.Sz
	if n > 0 {
		newsz, err := vm.UvmAlloc(p.Pagetable, sz, sz+uint64(n), riscv.PTE_W)
		if err != 0 {
			return sz, err
		}
		sz = newsz
	} else if n < 0 {
		sz = vm.UvmDealloc(p.Pagetable, sz, sz+uint64(n))
	}
	p.Sz = sz
	return sz, 0
}

// Kill marks pid as killed and, if it is sleeping, wakes it so it can
// notice and unwind to exit.
func Kill(pid int) defs.Err_t {
	for _, p := range ptable.proc {
		p.Lock.Lock()
		if p.Pid == pid {
			atomic.StoreInt32(&p.killed, 1)
			if p.Status == SLEEPING {
				p.Status = RUNNABLE
			}
			p.Lock.Unlock()
			return 0
		}
		p.Lock.Unlock()
	}
	return -defs.ESRCH
}

// Killed reports whether p has been marked for death. A nil p (a kernel
// context with no process, e.g. the scheduler loop or a hosted test)
// cannot be killed.
func Killed(p *Proc_t) bool {
	return p != nil && atomic.LoadInt32(&p.killed) != 0
}

// SetKilled marks p for death without waking it; used when a trap
// handler discovers a fault it cannot service.
func SetKilled(p *Proc_t) {
	atomic.StoreInt32(&p.killed, 1)
}

// EitherCopyout copies src into either user memory (via the process's
// page table) or, when userDst is false, directly into kernel memory at
// dst. Used by syscalls like sys_write whose destination may be a kernel
// buffer (console) or a user buffer depending on the caller.
func EitherCopyout(p *Proc_t, userDst bool, dst uint64, src []byte) defs.Err_t {
	if userDst {
		return vm.CopyOut(p.Pagetable, dst, src)
	}
	copy(kernelBytesAt(dst, len(src)), src)
	return 0
}

// EitherCopyin is EitherCopyout's mirror for reads.
func EitherCopyin(p *Proc_t, dst []byte, userSrc bool, src uint64) defs.Err_t {
	if userSrc {
		return vm.CopyIn(p.Pagetable, dst, src)
	}
	copy(dst, kernelBytesAt(src, len(dst)))
	return 0
}

// kernelBytesAt reinterprets a kernel virtual address as a byte slice of
// length n, for the kernel-destination branch of EitherCopyout/in.
func kernelBytesAt(addr uint64, n int) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)
}

