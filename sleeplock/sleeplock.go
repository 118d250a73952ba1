// Package sleeplock implements the kernel's blocking mutual-exclusion
// primitive: a lock that may be held across disk I/O, built on
// top of a spinlock plus proc's sleep/wakeup rendezvous instead of busy
// waiting. Every cached inode and buffer is guarded by exactly this
// shape of lock.
package sleeplock

import (
	"spinlock"

	"proc"
)

// Sleeplock_t carries an embedded spinlock that protects its own state,
// plus a locked flag and the pid of the current holder (diagnostic only).
type Sleeplock_t struct {
	mu     *spinlock.Spinlock_t
	locked bool
	pid    int
	name   string
}

// MkLock constructs a named, initially-unlocked sleeplock.
func MkLock(name string) *Sleeplock_t {
	return &Sleeplock_t{mu: spinlock.MkLock(name + ".inner"), name: name}
}

// Acquire blocks the calling process until it holds l. The outer spinlock
// is only ever held across the bookkeeping before and after the sleep
// itself, never across the sleep; that is the whole point of layering a
// sleeplock on top of a spinlock rather than just using the spinlock
// directly.
func (l *Sleeplock_t) Acquire() {
	l.mu.Lock()
	for l.locked {
		proc.Sleep(l, l.mu)
	}
	l.locked = true
	l.pid = currentPid()
	l.mu.Unlock()
}

// Release gives up l and wakes any process sleeping on it.
func (l *Sleeplock_t) Release() {
	l.mu.Lock()
	l.locked = false
	l.pid = 0
	l.mu.Unlock()
	proc.Wakeup(l)
}

// Holding reports whether l is currently held by the calling process.
func (l *Sleeplock_t) Holding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked && l.pid == currentPid()
}

func currentPid() int {
	p := proc.Myproc()
	if p == nil {
		return -1
	}
	return p.Pid
}
