// Package console implements the line-disciplined character device sitting
// on top of the UART: a 128-byte input ring with edit/commit
// semantics (^U line-kill, ^H/^? backspace, newline/^D commit), and the
// read/write entry points D_CONSOLE wires into the file layer.
//
// uart cannot import this package back (that would cycle, since this
// package already imports uart for Putc/Kputc), so the one call that has
// to run the other way (the UART's interrupt handler feeding each
// received character here) goes through uart.RxHook, the same
// hook-registration pattern proc.ForkHook uses for file.
package console

import (
	"spinlock"

	"proc"
	"uart"
)

// bufSize is the console's fixed input buffer capacity.
const bufSize = 128

const (
	ctrlD = 0x04
	ctrlH = 0x08
	ctrlU = 0x15
	del   = 0x7f
)

// cons holds the three indices into buf: everything before r has been
// consumed by a reader, [r, w) is committed but unread, [w, e) is the
// in-progress edit region the user is still typing into.
var cons struct {
	lk      *spinlock.Spinlock_t
	buf     [bufSize]uint8
	r, w, e uint64
}

// Init wires the console into the UART's receive path.
func Init() {
	cons.lk = spinlock.MkLock("console")
	uart.RxHook = Intr
}

// Intr processes one character arriving from the UART, echoing it and
// updating the edit/commit indices.
func Intr(c uint8) {
	cons.lk.Lock()
	defer cons.lk.Unlock()

	switch c {
	case ctrlU:
		for cons.e != cons.w && cons.buf[(cons.e-1)%bufSize] != '\n' {
			cons.e--
			echoBackspace()
		}
	case ctrlH, del:
		if cons.e != cons.w {
			cons.e--
			echoBackspace()
		}
	default:
		if c != 0 && cons.e-cons.r < bufSize {
			if c == '\r' {
				c = '\n'
			}
			// echo synchronously: this runs from the UART interrupt
			// handler, which must never sleep on a full TX ring
			uart.Kputc(c)
			cons.buf[cons.e%bufSize] = c
			cons.e++
			if c == '\n' || c == ctrlD || cons.e-cons.r == bufSize {
				cons.w = cons.e
				proc.Wakeup(&cons.r)
			}
		}
	}
}

func echoBackspace() {
	uart.Kputc(ctrlH)
	uart.Kputc(' ')
	uart.Kputc(ctrlH)
}

// Read blocks until at least one committed character is available, then
// copies up to n of them into the destination described by copyout one at
// a time, stopping at a newline or ^D (pushed back, uncommitted, if it
// ends the read before n bytes are satisfied). copyout is a single-byte
// callback, since console has no vm dependency of its own.
func Read(copyout func(off int, c uint8) bool, n int) int {
	cons.lk.Lock()
	for cons.r == cons.w {
		if proc.Killed(proc.Myproc()) {
			cons.lk.Unlock()
			return -1
		}
		proc.Sleep(&cons.r, cons.lk)
	}

	got := 0
	for got < n && cons.r != cons.w {
		c := cons.buf[cons.r%bufSize]
		cons.r++
		if c == ctrlD {
			if got > 0 {
				cons.r-- // push back for the next read
			}
			break
		}
		cons.lk.Unlock()
		ok := copyout(got, c)
		cons.lk.Lock()
		if !ok {
			break
		}
		got++
		if c == '\n' {
			break
		}
	}
	cons.lk.Unlock()
	return got
}

// Write writes n bytes from src to the terminal through uart.Putc.
func Write(src []uint8) int {
	for _, c := range src {
		uart.Putc(c)
	}
	return len(src)
}
