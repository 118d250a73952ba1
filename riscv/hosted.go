//go:build !riscv64

package riscv

// Hosted (non-riscv64) builds exist only so package tests can run under a
// development toolchain: control-register state is emulated with plain
// variables on a single fake hart. None of this file is reachable in the
// kernel image.

var (
	hostIntr    = true
	hostSstatus uint64
	hostSepc    uint64
	hostStvec   uint64
	hostTime    uint64
)

func IntrOn()       { hostIntr = true }
func IntrOff()      { hostIntr = false }
func IntrGet() bool { return hostIntr }

func SfenceVMA() {}
func Fence()     {}
func Wfi()       {}

func SetSATP(uint64) {}

func Tp() uint64 { return 0 }

func GetSepc() uint64   { return hostSepc }
func SetSepc(v uint64)  { hostSepc = v }
func GetScause() uint64 { return 0 }
func GetStval() uint64  { return 0 }

func GetSstatus() uint64  { return hostSstatus }
func SetSstatus(v uint64) { hostSstatus = v }
func SetStvec(a uint64)   { hostStvec = a }

func GetTime() uint64 {
	hostTime++
	return hostTime
}

func SetStimecmp(uint64) {}
