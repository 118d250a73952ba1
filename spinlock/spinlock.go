// Package spinlock implements the kernel's non-sleeping mutual-exclusion
// primitive together with the per-hart interrupt push/pop-off
// bookkeeping that acquiring and releasing one requires.
//
// In classic xv6 this bookkeeping (noff/intena) lives on the per-CPU
// struct the scheduler owns, which works in C because C has no notion of
// an import cycle. Go does: proc needs
// spinlock to protect its run queue, and the natural place to track "did
// this hart already have interrupts enabled before it entered its
// outermost spinlock" is exactly that per-CPU struct. Keeping it there
// would make spinlock import proc and proc import spinlock. Instead this
// package owns a small fixed-size per-hart array of its own, indexed by
// riscv.Tp(), so spinlock has no dependency on proc at all and proc can
// depend on spinlock the ordinary way.
package spinlock

import (
	"sync/atomic"

	"riscv"
)

const maxHarts = 8

// pushState tracks one hart's interrupt-disable nesting depth and whether
// interrupts were enabled before the outermost Lock call on that hart.
type pushState struct {
	noff   int
	intena bool
}

var harts [maxHarts]pushState

// hartID returns the current hart's index. It is a variable rather than a
// direct call to riscv.Tp() so package tests, which run under a hosted Go
// runtime with no meaningful tp register, can substitute a fake.
var hartID = func() int {
	id := int(riscv.Tp())
	if id < 0 || id >= maxHarts {
		panic("spinlock: hart id out of range")
	}
	return id
}

func myHart() int {
	return hartID()
}

// PushOff disables interrupts, recording the pre-existing interrupt state
// the first time it is called on a given hart so a matching sequence of
// PopOff calls restores it exactly once, at depth zero. Exported so
// callers outside this package (proc.Myproc, most notably) can read
// per-hart state without racing an interrupt handler.
func PushOff() {
	old := riscv.IntrGet()
	riscv.IntrOff()
	h := &harts[myHart()]
	if h.noff == 0 {
		h.intena = old
	}
	h.noff++
}

// PopOff is PushOff's inverse. It is a fatal misuse to call it with
// interrupts already enabled or with no matching PushOff outstanding.
func PopOff() {
	h := &harts[myHart()]
	if riscv.IntrGet() {
		panic("spinlock: PopOff with interrupts already enabled")
	}
	if h.noff < 1 {
		panic("spinlock: PopOff without matching PushOff")
	}
	h.noff--
	if h.noff == 0 && h.intena {
		riscv.IntrOn()
	}
}

// Noff reports the calling hart's push-off nesting depth. The scheduler
// asserts it is exactly 1 before a context switch: the process lock and
// nothing else.
func Noff() int {
	return harts[myHart()].noff
}

// Intena reports whether interrupts were enabled before this hart's
// outermost PushOff; SetIntena restores it. The pair exists because a
// context switch moves a kernel thread between harts, so the saved
// enable state must travel with the thread, not stay on the hart.
func Intena() bool {
	return harts[myHart()].intena
}

func SetIntena(v bool) {
	harts[myHart()].intena = v
}

// Spinlock_t is a test-and-test-and-set spinlock. name is purely
// diagnostic: it never affects locking behavior, only panic messages.
type Spinlock_t struct {
	locked uint32
	name   string
	// cpu records which hart holds the lock, for Holding()'s sake. It is
	// only meaningful while locked == 1.
	cpu int32
}

// MkLock constructs a named, initially-unlocked spinlock.
func MkLock(name string) *Spinlock_t {
	return &Spinlock_t{name: name, cpu: -1}
}

// Lock spins until it acquires l. Interrupts are disabled for the
// duration a hart holds any spinlock, on this hart or any nesting of
// them, to keep an interrupt handler from trying to reacquire a lock its
// own interrupted code already holds.
func (l *Spinlock_t) Lock() {
	PushOff()
	if l.Holding() {
		panic("spinlock: " + l.name + " already held by this hart")
	}
	for !atomic.CompareAndSwapUint32(&l.locked, 0, 1) {
	}
	atomic.StoreInt32(&l.cpu, int32(myHart()))
}

// Unlock releases l, which the calling hart must currently hold.
func (l *Spinlock_t) Unlock() {
	if !l.Holding() {
		panic("spinlock: " + l.name + " release by non-holder")
	}
	atomic.StoreInt32(&l.cpu, -1)
	atomic.StoreUint32(&l.locked, 0)
	PopOff()
}

// Holding reports whether the calling hart currently holds l.
func (l *Spinlock_t) Holding() bool {
	return atomic.LoadUint32(&l.locked) == 1 && atomic.LoadInt32(&l.cpu) == int32(myHart())
}
