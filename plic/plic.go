// Package plic drives the platform-level interrupt controller on the QEMU
// virt board: it enables the two external interrupt
// sources this kernel cares about, and lets the trap handler claim and
// complete them each time devintr fires.
//
// The kernel page table identity-maps this MMIO window, so a register
// access is a direct load/store through an unsafe.Pointer rather than a
// translated access, the same convention mem.Dmap establishes for RAM.
package plic

import "unsafe"

// Base is PLIC's MMIO window on the QEMU virt board.
const Base uintptr = 0x0c000000

// UartIRQ and VirtioIRQ are the two external interrupt sources this kernel
// services.
const (
	UartIRQ   = 10
	VirtioIRQ = 1
)

func reg32(off uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(Base + off))
}

func priority(irq int) uintptr   { return uintptr(irq) * 4 }
func senable(hart int) uintptr   { return 0x2080 + uintptr(hart)*0x100 }
func spriority(hart int) uintptr { return 0x201000 + uintptr(hart)*0x2000 }
func sclaim(hart int) uintptr    { return 0x201004 + uintptr(hart)*0x2000 }

// Init gives every source this kernel uses a nonzero priority, the
// precondition for the PLIC to ever raise it.
func Init() {
	*reg32(priority(UartIRQ)) = 1
	*reg32(priority(VirtioIRQ)) = 1
}

// InitHart enables the two sources for hart and sets its priority
// threshold to 0 (accept everything). Called once per hart at boot.
func InitHart(hart int) {
	*reg32(senable(hart)) = (1 << UartIRQ) | (1 << VirtioIRQ)
	*reg32(spriority(hart)) = 0
}

// Claim returns the next pending interrupt ID for hart, or 0 if none.
func Claim(hart int) int {
	return int(*reg32(sclaim(hart)))
}

// Complete tells the PLIC hart has finished servicing irq.
func Complete(hart int, irq int) {
	*reg32(sclaim(hart)) = uint32(irq)
}
