package boot

import (
	"sync/atomic"
	"unsafe"

	"bio"
	"console"
	"defs"
	"file"
	"fs"
	"klog"
	"mem"
	"plic"
	"proc"
	"riscv"
	"trap"
	"uart"
	"virtio"
	"vm"
)

// kernelImageEnd is the first physical address past the kernel's own
// image (text, data, bss), mem.Kinit's "end" parameter. A real boot
// supplies this as a linker symbol; absent a
// linker in this module, it is a fixed offset from mem.KernelBase sized
// generously for the kernel image plus its static allocations.
const kernelImageEnd = mem.KernelBase + 16*1024*1024

// mmioWindow bounds how much of an MMIO device's register space boot
// identity-maps. A single page is enough for the UART and VirtIO windows;
// the PLIC's per-hart enable/threshold/claim registers are spread across
// a much larger window, so it gets its own larger constant below.
const mmioWindow = riscv.PGSIZE

// plicWindow covers the PLIC's priority array plus the per-hart S-mode
// enable/threshold/claim blocks for up to proc.NCPU harts.
const plicWindow = 0x400000

var started int32

// Start is every hart's entry point once the externally supplied start()
// routine has dropped it into supervisor mode and called into Go code.
// hart 0 brings up every subsystem; the rest wait for hart 0 to finish,
// then join with just the
// per-hart pieces (page table install, trap vector, PLIC enable) before
// falling into the scheduler.
func Start(hart int, cmdline string) {
	if hart == 0 {
		start0(cmdline)
		atomic.StoreInt32(&started, 1)
	} else {
		for atomic.LoadInt32(&started) == 0 {
			riscv.Wfi()
		}
		riscv.SfenceVMA()
		vm.InitHart(kernelPagetable)
		trap.InitHart()
		plic.InitHart(hart)
	}
	proc.Scheduler()
}

var kernelPagetable *vm.Pagetable_t

// start0 performs the one-time, hart-0-only bring-up sequence. It
// panics on any failure: every step here runs before the first process
// exists, so there is no caller left to report a reportable error to.
func start0(cmdline string) {
	uart.Init()
	console.Init()
	klog.Init(consoleWriter{}, klog.INFO)
	klog.Infof("console init successful")

	args, err := ParseCmdline(cmdline)
	if err != nil {
		klog.Warnf("boot: ignoring malformed command line: %v", err)
		args = nil
	}
	klog.Infof("boot: command line args=%v boot-id=%s", args, klog.BootID())

	mem.Kinit(kernelImageEnd)

	kernelPagetable = buildKernelPagetable()
	vm.InitHart(kernelPagetable)
	trap.KernelSatp = riscv.MakeSatp(uint64(uintptr(unsafe.Pointer(kernelPagetable))))

	proc.Init()
	if err := proc.MapStacks(kernelPagetable); err != 0 {
		panic("boot: out of memory mapping kernel stacks")
	}

	trap.Init()
	plic.Init()
	plic.InitHart(0)

	bio.Init()
	virtio.Init()

	wireHooks()
	file.RegisterDevice(defs.D_CONSOLE, consoleDevRead, consoleDevWrite)

	if ierr := proc.UserInit(Initcode()); ierr != 0 {
		panic("boot: failed to create init process")
	}
	klog.Infof("init process start")
}

// buildKernelPagetable constructs the kernel's own address space: every
// MMIO window this kernel's drivers touch, identity-mapped RAM for
// everything mem.Dmap assumes is directly addressable, and the
// trampoline page at the fixed TRAMPOLINE virtual address every process's
// address space also maps.
func buildKernelPagetable() *vm.Pagetable_t {
	pt, perr := vm.UvmCreate()
	if perr != 0 {
		panic("boot: out of memory for kernel page table")
	}

	must := func(err defs.Err_t, what string) {
		if err != 0 {
			panic("boot: " + what)
		}
	}

	must(vm.MapPages(pt, uint64(uart.Base), mem.Pa_t(uart.Base), mmioWindow, riscv.PTE_R|riscv.PTE_W), "mapping UART")
	must(vm.MapPages(pt, uint64(virtio.Base), mem.Pa_t(virtio.Base), mmioWindow, riscv.PTE_R|riscv.PTE_W), "mapping VirtIO")
	must(vm.MapPages(pt, uint64(plic.Base), mem.Pa_t(plic.Base), plicWindow, riscv.PTE_R|riscv.PTE_W), "mapping PLIC")

	// Identity-map the kernel image and every frame the physical allocator
	// may ever hand out, matching mem.Dmap's documented assumption that
	// [KernelBase, PhyEnd) is directly addressable from kernel code.
	kernSize := uint64(mem.PhyEnd - mem.KernelBase)
	must(vm.MapPages(pt, uint64(mem.KernelBase), mem.KernelBase, kernSize, riscv.PTE_R|riscv.PTE_W|riscv.PTE_X), "identity-mapping RAM")

	trampolinePa, ok := mem.Kalloc()
	if !ok {
		panic("boot: out of memory for trampoline page")
	}
	proc.TrampolinePa = trampolinePa
	must(vm.MapPages(pt, riscv.Trampoline(), trampolinePa, riscv.PGSIZE, riscv.PTE_R|riscv.PTE_X), "mapping trampoline")

	return pt
}

// wireHooks connects proc's cycle-breaking hook variables to the packages
// that actually own the state those hooks touch: file for per-process
// open-file tables, fs for first-boot filesystem initialization, the way
// proc.go's package comment describes.
func wireHooks() {
	proc.ForkHook = func(parent, child *proc.Proc_t) {
		file.ForkProc(parent.Pid, child.Pid)
	}
	proc.ExitHook = func(p *proc.Proc_t) {
		file.ExitProc(p.Pid)
	}
	proc.FirstReturnHook = func() {
		fs.Init(fs.Rootdev)
	}
}

// consoleWriter adapts console.Write to io.Writer so klog can log through
// the same synchronous UART path the rest of boot's prints use.
type consoleWriter struct{}

func (consoleWriter) Write(p []byte) (int, error) {
	buf := make([]uint8, len(p))
	copy(buf, p)
	return console.Write(buf), nil
}

// consoleDevRead and consoleDevWrite adapt console.Read/Write to
// file.DevFunc's fs.Uio_t-based signature, registered into the device
// table under defs.D_CONSOLE.
// file.CopyOutUio/CopyInUio exist specifically for this adaptation; see
// their doc comments in package file.
func consoleDevRead(uio *fs.Uio_t, n int) (int, defs.Err_t) {
	var ferr defs.Err_t
	got := console.Read(func(off int, c uint8) bool {
		if e := file.CopyOutUio(uio, off, []byte{c}); e != 0 {
			ferr = e
			return false
		}
		return true
	}, n)
	if got < 0 {
		return 0, -defs.EINTR
	}
	if ferr != 0 {
		return 0, ferr
	}
	return got, 0
}

func consoleDevWrite(uio *fs.Uio_t, n int) (int, defs.Err_t) {
	buf := make([]uint8, n)
	if err := file.CopyInUio(buf, uio, 0); err != 0 {
		return 0, err
	}
	return console.Write(buf), 0
}
