package proc

import "spinlock"

// Ticks counts timer interrupts since boot. It lives here rather than in
// package trap (which increments it) or syscall (which reads it for
// sys_sleep/sys_uptime) because both of those already depend on proc and
// putting it anywhere else would cycle, the same reasoning behind ForkHook
// and ExitHook above.
var Ticks uint64
var TicksLock = spinlock.MkLock("time")

// TickInterrupt runs once per timer interrupt and
// wakes anything sleeping on a deadline.
func TickInterrupt() {
	TicksLock.Lock()
	Ticks++
	Wakeup(&Ticks)
	TicksLock.Unlock()
}

// Uptime reports the tick count, the unit sys_uptime returns to user space.
func Uptime() uint64 {
	TicksLock.Lock()
	defer TicksLock.Unlock()
	return Ticks
}
