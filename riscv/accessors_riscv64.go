//go:build riscv64

package riscv

// Single-instruction CSR accessors, implemented in riscv_asm.s.

//go:noescape
func IntrOn()

//go:noescape
func IntrOff()

//go:noescape
func IntrGet() bool

//go:noescape
func SfenceVMA()

// Fence is a full memory barrier (fence iorw,iorw), bracketing VirtIO
// ring publication and any other lock-free device handoff.
//
//go:noescape
func Fence()

//go:noescape
func Wfi()

//go:noescape
func SetSATP(satp uint64)

//go:noescape
func Tp() uint64 // current hart id, stashed in tp at boot by the external start() routine

//go:noescape
func GetSepc() uint64

//go:noescape
func SetSepc(v uint64)

//go:noescape
func GetScause() uint64

//go:noescape
func GetStval() uint64

//go:noescape
func GetSstatus() uint64

//go:noescape
func SetSstatus(v uint64)

//go:noescape
func SetStvec(addr uint64)

//go:noescape
func GetTime() uint64 // the time CSR: a free-running counter, read-only from S-mode

//go:noescape
func SetStimecmp(v uint64) // the Sstc extension's stimecmp CSR: fires the next timer interrupt at time==v
