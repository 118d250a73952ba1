//go:build riscv64

package proc

import "riscv"

// Swtch saves the caller's callee-saved registers into old and restores
// them from new. It has no Go body: the implementation is the same
// hand-written assembly stub every xv6-lineage kernel supplies alongside
// the trampoline, linked in from the platform's boot object rather than
// built from source in this module (see swtch_riscv64.s).
func Swtch(old, new_ *riscv.Context_t)
