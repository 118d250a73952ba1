// Command kernel is the freestanding RISC-V64 image QEMU's virt machine
// loads. Its func main is not the first instruction executed: the
// externally supplied start() routine does the M-mode setup (PMP,
// delegating traps/interrupts to S-mode, stashing the hart id in tp,
// arming the first stimecmp) and only then drops into S-mode and calls
// here, once per hart.
package main

import (
	"boot"
	"riscv"
)

// Cmdline is the kernel command line boot.ParseCmdline tokenizes. A real
// boot would read this out of the devicetree blob QEMU hands off in a1;
// devicetree parsing is out of scope, so it is a
// fixed default here.
var Cmdline = "root=virtio0 console=uart0"

func main() {
	boot.Start(int(riscv.Tp()), Cmdline)
}
