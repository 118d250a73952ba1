// Package file implements the open-file abstraction: a fixed-size
// system-wide file table whose entries dispatch read/write/stat/close
// over pipes, inodes, and devices, plus each process's private fd array.
//
// This package is keyed on pid, not *proc.Proc_t, and never imports proc:
// the same cycle-avoidance proc.go documents for ForkHook/ExitHook applies
// here (file needs fs needs sleeplock needs proc, so file importing proc
// directly would close the loop). Package boot bridges the two, wiring
// proc.ForkHook/ExitHook to ForkProc/ExitProc below by pid.
//
// A file-table entry is a type tag plus a union of the backing object
// (pipe, inode, or device major); read/write/stat/close dispatch on the
// tag rather than through an interface, keeping the set of file kinds
// closed and visible in one switch.
package file

import (
	"sync"

	"defs"
	"fs"
	"fslog"
	"pipe"
	"spinlock"
	"stat"
	"vm"
)

// NOFILE bounds how many files one process may have open at once.
const NOFILE = 16

// NFILE is the system-wide file-table capacity.
const NFILE = 100

// File_t is one open-file-table entry.
type File_t struct {
	mu sync.Mutex

	Typ       defs.Ftype_t
	ref       int
	Readable  bool
	Writable  bool
	Off       uint64
	Ip        *fs.Inode_t
	Pi        *pipe.Pipe_t
	pipeWrite bool // this handle is the pipe's write end, for Close's CloseRead/CloseWrite choice
	Major     int16
}

var ftable struct {
	mu   *spinlock.Spinlock_t
	file [NFILE]*File_t
}

func init() {
	ftable.mu = spinlock.MkLock("ftable")
	for i := range ftable.file {
		ftable.file[i] = &File_t{}
	}
}

// Alloc claims an unused system-wide file-table slot with ref == 1 and
// Typ == FD_NONE; the caller fills in the rest before publishing it into
// any process's fd table.
func Alloc() (*File_t, defs.Err_t) {
	ftable.mu.Lock()
	defer ftable.mu.Unlock()
	for _, f := range ftable.file {
		f.mu.Lock()
		if f.ref == 0 {
			f.ref = 1
			f.mu.Unlock()
			return f, 0
		}
		f.mu.Unlock()
	}
	return nil, -defs.ENFILE
}

// Dup bumps f's reference count, for fd table entries (dup(2), fork)
// that now share the same underlying open-file state.
func Dup(f *File_t) *File_t {
	f.mu.Lock()
	f.ref++
	f.mu.Unlock()
	return f
}

// Close drops a reference to f, releasing its backing pipe end or inode
// once the last reference is gone.
func Close(f *File_t) {
	f.mu.Lock()
	if f.ref < 1 {
		panic("file.Close: double close")
	}
	f.ref--
	if f.ref > 0 {
		f.mu.Unlock()
		return
	}
	typ, ip, pi, pipeWrite := f.Typ, f.Ip, f.Pi, f.pipeWrite
	f.Typ = defs.FD_NONE
	f.Ip = nil
	f.Pi = nil
	f.mu.Unlock()

	switch typ {
	case defs.FD_PIPE:
		if pipeWrite {
			pi.CloseWrite()
		} else {
			pi.CloseRead()
		}
	case defs.FD_INODE, defs.FD_DEVICE:
		fslog.BeginOp()
		fs.Iput(ip)
		fslog.EndOp()
	}
}

// MakePipe allocates a fresh pipe and a read/write File_t pair bound to
// its two ends.
func MakePipe() (*File_t, *File_t, defs.Err_t) {
	pi := pipe.MkPipe()

	rf, err := Alloc()
	if err != 0 {
		return nil, nil, err
	}
	wf, err := Alloc()
	if err != 0 {
		Close(rf)
		return nil, nil, err
	}

	rf.mu.Lock()
	rf.Typ, rf.Readable, rf.Writable, rf.Pi, rf.pipeWrite = defs.FD_PIPE, true, false, pi, false
	rf.mu.Unlock()

	wf.mu.Lock()
	wf.Typ, wf.Readable, wf.Writable, wf.Pi, wf.pipeWrite = defs.FD_PIPE, false, true, pi, true
	wf.mu.Unlock()

	return rf, wf, 0
}

// OpenInode builds a File_t over an already-Ilock'd inode ip (the caller
// still owns ip's reference and lock; OpenInode only records it). Device
// inodes become FD_DEVICE entries keyed by their major number; everything
// else is FD_INODE.
func OpenInode(ip *fs.Inode_t, readable, writable bool) (*File_t, defs.Err_t) {
	f, err := Alloc()
	if err != 0 {
		return nil, err
	}
	f.mu.Lock()
	if ip.Type == defs.T_DEVICE {
		f.Typ = defs.FD_DEVICE
		f.Major = ip.Major
	} else {
		f.Typ = defs.FD_INODE
	}
	f.Ip = ip
	f.Readable = readable
	f.Writable = writable
	f.Off = 0
	f.mu.Unlock()
	return f, 0
}

// DevFunc is a device driver's read or write entry point, registered into
// the device table by major number.
type DevFunc func(uio *fs.Uio_t, n int) (int, defs.Err_t)

type devsw struct {
	Read  DevFunc
	Write DevFunc
}

var devList [defs.D_LAST + 1]devsw

// RegisterDevice wires read/write handlers for major, called once at boot
// per live driver. Console is the only one this kernel implements; the
// rest of the major-number space is reserved but inert.
func RegisterDevice(major int, read, write DevFunc) {
	devList[major] = devsw{Read: read, Write: write}
}

// Read dispatches a read of at most n bytes into dst through whichever
// backing store f names.
func Read(f *File_t, dst *fs.Uio_t, n int) (int, defs.Err_t) {
	f.mu.Lock()
	if !f.Readable {
		f.mu.Unlock()
		return 0, -defs.EBADF
	}
	typ := f.Typ
	f.mu.Unlock()

	switch typ {
	case defs.FD_PIPE:
		buf := make([]byte, n)
		got, err := f.Pi.Read(buf)
		if err != 0 {
			return 0, err
		}
		if cerr := CopyOutUio(dst, 0, buf[:got]); cerr != 0 {
			return 0, cerr
		}
		return got, 0
	case defs.FD_DEVICE:
		d := devList[int(f.Major)]
		if d.Read == nil {
			return 0, -defs.ENXIO
		}
		return d.Read(dst, n)
	case defs.FD_INODE:
		fs.Ilock(f.Ip)
		got, err := fs.Readi(f.Ip, dst, int(f.Off), n)
		if err == 0 {
			f.mu.Lock()
			f.Off += uint64(got)
			f.mu.Unlock()
		}
		fs.Iunlock(f.Ip)
		return got, err
	default:
		panic("file.Read: FD_NONE")
	}
}

// Write dispatches a write of n bytes from src through whichever backing
// store f names.
func Write(f *File_t, src *fs.Uio_t, n int) (int, defs.Err_t) {
	f.mu.Lock()
	if !f.Writable {
		f.mu.Unlock()
		return 0, -defs.EBADF
	}
	typ := f.Typ
	f.mu.Unlock()

	switch typ {
	case defs.FD_PIPE:
		buf := make([]byte, n)
		if cerr := CopyInUio(buf, src, 0); cerr != 0 {
			return 0, cerr
		}
		return f.Pi.Write(buf)
	case defs.FD_DEVICE:
		d := devList[int(f.Major)]
		if d.Write == nil {
			return 0, -defs.ENXIO
		}
		return d.Write(src, n)
	case defs.FD_INODE:
		// Every write is its own small transaction, bounded by
		// fslog.MAXOPBLOCKS, rather than one big one.
		fslog.BeginOp()
		fs.Ilock(f.Ip)
		got, err := fs.Writei(f.Ip, src, int(f.Off), n)
		if err == 0 {
			f.mu.Lock()
			f.Off += uint64(got)
			f.mu.Unlock()
		}
		fs.Iunlock(f.Ip)
		fslog.EndOp()
		return got, err
	default:
		panic("file.Write: FD_NONE")
	}
}

// Stat fills dst with f's inode metadata. Only
// FD_INODE and FD_DEVICE files have metadata to report.
func Stat(f *File_t, dst *fs.Uio_t) defs.Err_t {
	f.mu.Lock()
	typ, ip := f.Typ, f.Ip
	f.mu.Unlock()
	if typ != defs.FD_INODE && typ != defs.FD_DEVICE {
		return -defs.EINVAL
	}
	var st stat.Stat_t
	fs.Ilock(ip)
	fs.Stat(ip, &st)
	fs.Iunlock(ip)
	return CopyOutUio(dst, 0, st.Bytes())
}

// CopyOutUio and CopyInUio adapt fs.Uio_t's user-or-kernel destination to
// a plain byte slice, the same either_copyout/in idiom fs.Readi/Writei
// use internally, exported here for device adapters (package boot's
// console wiring) that need the same plumbing without reaching into fs's
// unexported helpers.
func CopyOutUio(dst *fs.Uio_t, off int, src []byte) defs.Err_t {
	if dst.Pt != nil {
		return vm.CopyOut(dst.Pt, dst.Addr+uint64(off), src)
	}
	copy(dst.KernBuf[off:off+len(src)], src)
	return 0
}

func CopyInUio(dst []byte, src *fs.Uio_t, off int) defs.Err_t {
	if src.Pt != nil {
		return vm.CopyIn(src.Pt, dst, src.Addr+uint64(off))
	}
	copy(dst, src.KernBuf[off:off+len(dst)])
	return 0
}

// openFiles is one process's private fd table.
type openFiles struct {
	mu    sync.Mutex
	ofile [NOFILE]*File_t
}

var (
	procMu   sync.Mutex
	procFile = make(map[int]*openFiles)
)

func tableFor(pid int) *openFiles {
	procMu.Lock()
	defer procMu.Unlock()
	of, ok := procFile[pid]
	if !ok {
		of = &openFiles{}
		procFile[pid] = of
	}
	return of
}

// FdAlloc installs f into pid's lowest free fd slot.
func FdAlloc(pid int, f *File_t) (int, defs.Err_t) {
	of := tableFor(pid)
	of.mu.Lock()
	defer of.mu.Unlock()
	for i, e := range of.ofile {
		if e == nil {
			of.ofile[i] = f
			return i, 0
		}
	}
	return -1, -defs.EMFILE
}

// GetFile returns pid's File_t at fd, or EBADF if fd names nothing open.
func GetFile(pid, fd int) (*File_t, defs.Err_t) {
	of := tableFor(pid)
	of.mu.Lock()
	defer of.mu.Unlock()
	if fd < 0 || fd >= NOFILE || of.ofile[fd] == nil {
		return nil, -defs.EBADF
	}
	return of.ofile[fd], 0
}

// CloseFd clears pid's fd slot and releases the underlying File_t.
func CloseFd(pid, fd int) defs.Err_t {
	of := tableFor(pid)
	of.mu.Lock()
	if fd < 0 || fd >= NOFILE || of.ofile[fd] == nil {
		of.mu.Unlock()
		return -defs.EBADF
	}
	f := of.ofile[fd]
	of.ofile[fd] = nil
	of.mu.Unlock()
	Close(f)
	return 0
}

// ForkProc duplicates parentPid's open-file table into childPid's, run
// from proc.ForkHook by package boot's wiring.
func ForkProc(parentPid, childPid int) {
	pof := tableFor(parentPid)
	pof.mu.Lock()
	defer pof.mu.Unlock()

	cof := tableFor(childPid)
	for i, f := range pof.ofile {
		if f != nil {
			cof.ofile[i] = Dup(f)
		}
	}
}

// ExitProc closes every fd still open in pid's table and discards the
// table itself, run from proc.ExitHook by package boot's wiring.
func ExitProc(pid int) {
	procMu.Lock()
	of, ok := procFile[pid]
	delete(procFile, pid)
	procMu.Unlock()
	if !ok {
		return
	}
	for _, f := range of.ofile {
		if f != nil {
			Close(f)
		}
	}
}
