// Package accnt accumulates per-process CPU accounting: user and system
// time consumed, with hooks to discount time spent blocked on I/O or
// asleep, so wait4-style reporting and `ps` have something to show.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

/// Accnt_t accumulates per-process accounting information.
///
/// Both Userns and Sysns are nanoseconds. The embedded mutex lets callers
/// take a consistent snapshot of both fields when exporting usage stats.
type Accnt_t struct {
	/// Nanoseconds of user-mode time consumed.
	Userns int64
	/// Nanoseconds of kernel-mode time consumed.
	Sysns int64
	sync.Mutex
}

/// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

/// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

/// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

/// Io_time removes time spent waiting on I/O from the system-time counter,
/// so blocked time is not billed as CPU time.
func (a *Accnt_t) Io_time(since int) {
	a.Systadd(-(a.Now() - since))
}

/// Sleep_time removes time spent blocked in proc.Sleep from system time.
func (a *Accnt_t) Sleep_time(since int) {
	a.Systadd(-(a.Now() - since))
}

/// Snapshot returns a consistent (Userns, Sysns) pair.
func (a *Accnt_t) Snapshot() (int64, int64) {
	a.Lock()
	defer a.Unlock()
	return atomic.LoadInt64(&a.Userns), atomic.LoadInt64(&a.Sysns)
}
