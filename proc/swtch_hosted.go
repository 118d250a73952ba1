//go:build !riscv64

package proc

import "riscv"

// Swtch cannot be emulated under a hosted test runtime: there is no
// kernel stack to switch to. Tests exercise everything up to the switch
// boundary (allocproc, status transitions, table scans) but never cross
// it.
func Swtch(old, new_ *riscv.Context_t) {
	panic("proc.Swtch: context switch on a hosted build")
}
