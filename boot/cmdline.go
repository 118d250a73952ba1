// Package boot is the boot sequencer: the per-hart
// entry point every hart reaches after the externally supplied start()
// assembly drops it into supervisor mode, and the one place in the
// module allowed to wire every other package together (the kernel page
// table, the device table, proc's ForkHook/ExitHook/FirstReturnHook, and
// the embedded initcode image that becomes pid 1's first instructions).
//
// It is also where the kernel's one piece of "configuration", the boot
// command line the loader hands it, gets parsed, with
// github.com/google/shlex handling the shell-style quoting.
package boot

import "github.com/google/shlex"

// ParseCmdline splits the kernel command line the bootloader hands
// start() into an argv-like slice, the same shape sys_exec expects for a
// user program's argv. A malformed command line (e.g. an
// unterminated quote) is reported rather than panicking; boot can fall
// back to an empty argument list and keep going.
func ParseCmdline(line string) ([]string, error) {
	return shlex.Split(line)
}
