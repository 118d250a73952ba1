// Package uart drives the 16550-compatible UART on the QEMU virt board
//: a transmit ring buffer that blocks a sleeping writer when
// full, a synchronous path for panic/top-half prints, and a receive path
// that hands each incoming character to whatever package registers itself
// via RxHook (console, at boot), the same hook-registration pattern
// proc.ForkHook uses to let file avoid an import cycle.
package uart

import (
	"unsafe"

	"spinlock"

	"proc"
)

// Base is the UART's MMIO window on the QEMU virt board.
const Base uintptr = 0x10000000

// 16550 register offsets.
const (
	regRHR = 0 // receive holding register (DLAB=0)
	regTHR = 0 // transmit holding register (DLAB=0)
	regIER = 1 // interrupt enable
	regFCR = 2 // FIFO control
	regISR = 2 // interrupt status (read)
	regLCR = 3 // line control
	regLSR = 5 // line status
	regDLL = 0 // divisor latch low (DLAB=1)
	regDLM = 1 // divisor latch high (DLAB=1)
)

const (
	ierRxEnable   = 1 << 0
	ierTxEnable   = 1 << 1
	lcrEightBits  = 3
	lcrBaudLatch  = 1 << 7
	fcrFifoEnable = 1 << 0
	fcrFifoClear  = 3 << 1
	lsrRxReady    = 1 << 0
	lsrTxIdle     = 1 << 5
)

func reg(off uintptr) *uint8 {
	return (*uint8)(unsafe.Pointer(Base + off))
}

// TxBufSize bounds the transmit ring.
const TxBufSize = 32

var tx struct {
	lk   *spinlock.Spinlock_t
	buf  [TxBufSize]uint8
	w, r uint64
}

// RxHook receives each character the UART's interrupt handler drains from
// the RX FIFO. Package console registers itself here at boot.
var RxHook func(c uint8)

// Init programs the UART for 8-N-1 with both RX and TX interrupts
// enabled.
func Init() {
	tx.lk = spinlock.MkLock("uart_tx")

	*reg(regIER) = 0
	*reg(regLCR) = lcrBaudLatch
	*reg(regDLL) = 0x03 // 38.4K baud at a 1.8432 MHz input clock, qemu's default
	*reg(regDLM) = 0x00
	*reg(regLCR) = lcrEightBits
	*reg(regFCR) = fcrFifoEnable | fcrFifoClear
	*reg(regIER) = ierRxEnable | ierTxEnable
}

// Putc queues c for transmission, blocking (via proc.Sleep) while the ring
// buffer is full. This is the path normal kernel and user writes take.
func Putc(c uint8) {
	tx.lk.Lock()
	defer tx.lk.Unlock()
	for tx.w-tx.r == TxBufSize {
		proc.Sleep(&tx.r, tx.lk)
	}
	tx.buf[tx.w%TxBufSize] = c
	tx.w++
	startTxLocked()
}

// Kputc writes c synchronously, busy-waiting on the transmitter-idle bit
// with interrupts disabled. Used from panic and other contexts where
// sleeping is unsafe.
func Kputc(c uint8) {
	spinlock.PushOff()
	for *reg(regLSR)&lsrTxIdle == 0 {
	}
	*reg(regTHR) = c
	spinlock.PopOff()
}

// startTxLocked feeds the hardware FIFO from the ring buffer while data is
// queued and the transmitter is idle. Caller holds tx.lk.
func startTxLocked() {
	for tx.w != tx.r {
		if *reg(regLSR)&lsrTxIdle == 0 {
			return
		}
		c := tx.buf[tx.r%TxBufSize]
		tx.r++
		proc.Wakeup(&tx.r)
		*reg(regTHR) = c
	}
}

// Intr is the UART's interrupt handler: it drains every character waiting
// in the RX FIFO, feeding each to RxHook, then kicks the transmitter in
// case the hardware interrupt arrived because THR emptied.
func Intr() {
	for *reg(regLSR)&lsrRxReady != 0 {
		c := *reg(regRHR)
		if RxHook != nil {
			RxHook(c)
		}
	}

	tx.lk.Lock()
	startTxLocked()
	tx.lk.Unlock()
}
