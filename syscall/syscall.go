// Package syscall is the kernel-side dispatch table a user-mode ecall
// traps into: a numbered table, argInt/argStr/argAddr helpers reading the
// trapframe, and one sys* function per call. User pointers enter the
// kernel only through vm.CopyIn/CopyInStr/CopyOut.
package syscall

import (
	"encoding/binary"

	"defs"
	"elf"
	"file"
	"fs"
	"fslog"
	"klog"
	"proc"
	"ustr"
	"vm"
)

// Numbers are part of the user ABI; binaries bake them into ecall stubs,
// so the values here must never be renumbered.
const (
	SysFork   = 1
	SysExit   = 2
	SysWait   = 3
	SysPipe   = 4
	SysRead   = 5
	SysKill   = 6
	SysExec   = 7
	SysFstat  = 8
	SysChdir  = 9
	SysDup    = 10
	SysGetpid = 11
	SysSbrk   = 12
	SysSleep  = 13
	SysUptime = 14
	SysOpen   = 15
	SysWrite  = 16
	SysMknod  = 17
	SysUnlink = 18
	SysLink   = 19
	SysMkdir  = 20
	SysClose  = 21
	SysSetuid = 22
	SysSetgid = 23
)

// argInt fetches the i'th syscall argument as a plain integer.
func argInt(p *proc.Proc_t, i int) int {
	return int(p.Trapframe.Arg(i))
}

// argAddr fetches the i'th syscall argument as a raw user-space address.
func argAddr(p *proc.Proc_t, i int) uint64 {
	return p.Trapframe.Arg(i)
}

// argFd fetches the i'th syscall argument as a file descriptor and
// resolves it to its File_t, failing with EBADF if it names nothing open.
func argFd(p *proc.Proc_t, i int) (int, *file.File_t, defs.Err_t) {
	fd := argInt(p, i)
	f, err := file.GetFile(p.Pid, fd)
	if err != 0 {
		return 0, nil, err
	}
	return fd, f, 0
}

// argStr copies a NUL-terminated path argument out of user space.
func argStr(p *proc.Proc_t, i int) (ustr.Ustr, defs.Err_t) {
	buf := make([]byte, defs.MAXPATH)
	if err := vm.CopyInStr(p.Pagetable, buf, argAddr(p, i), defs.MAXPATH); err != 0 {
		return nil, err
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return ustr.MkUstrRaw(buf[:n]), 0
}

// Syscall is the trap handler's entry point: it reads the syscall number
// out of a7, dispatches, and writes the result into a0. An
// unrecognized number or an accounting clock lookup failure both resolve
// to -1, matching what a user-space libc sees from any failed call.
func Syscall(p *proc.Proc_t) {
	num := int(p.Trapframe.A7)
	since := p.Accnt.Now()

	var ret int
	switch num {
	case SysFork:
		ret = sysFork(p)
	case SysExit:
		sysExit(p) // never returns
	case SysWait:
		ret = sysWait(p)
	case SysPipe:
		ret = sysPipe(p)
	case SysRead:
		ret = sysRead(p)
	case SysKill:
		ret = sysKill(p)
	case SysExec:
		ret = sysExec(p)
	case SysFstat:
		ret = sysFstat(p)
	case SysChdir:
		ret = sysChdir(p)
	case SysDup:
		ret = sysDup(p)
	case SysGetpid:
		ret = p.Pid
	case SysSbrk:
		ret = sysSbrk(p)
	case SysSleep:
		ret = sysSleep(p)
	case SysUptime:
		ret = int(proc.Uptime())
	case SysOpen:
		ret = sysOpen(p)
	case SysWrite:
		ret = sysWrite(p)
	case SysMknod:
		ret = sysMknod(p)
	case SysUnlink:
		ret = sysUnlink(p)
	case SysLink:
		ret = sysLink(p)
	case SysMkdir:
		ret = sysMkdir(p)
	case SysClose:
		ret = sysClose(p)
	case SysSetuid:
		ret = sysSetuid(p)
	case SysSetgid:
		ret = sysSetgid(p)
	default:
		klog.Warnf("pid %d (%s): unknown syscall %d", p.Pid, p.Name, num)
		ret = -1
	}

	p.Accnt.Systadd(int(p.Accnt.Now()) - since)
	p.Trapframe.A0 = uint64(int64(ret))
}

func sysFork(p *proc.Proc_t) int {
	// the fd-table copy happens inside proc.Fork, via the hook package
	// boot wires to file.ForkProc, before the child is ever runnable
	pid, err := proc.Fork(p)
	if err != 0 {
		return -1
	}
	return pid
}

func sysExit(p *proc.Proc_t) {
	proc.Exit(argInt(p, 0))
}

func sysWait(p *proc.Proc_t) int {
	var status int
	pid, err := proc.Wait(&status)
	if err != 0 {
		return -1
	}
	if addr := argAddr(p, 0); addr != 0 {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(int32(status)))
		vm.CopyOut(p.Pagetable, addr, buf[:])
	}
	return pid
}

func sysPipe(p *proc.Proc_t) int {
	rf, wf, err := file.MakePipe()
	if err != 0 {
		return -1
	}
	rfd, err := file.FdAlloc(p.Pid, rf)
	if err != 0 {
		file.Close(rf)
		file.Close(wf)
		return -1
	}
	wfd, err := file.FdAlloc(p.Pid, wf)
	if err != 0 {
		file.CloseFd(p.Pid, rfd)
		file.Close(wf)
		return -1
	}
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rfd))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wfd))
	if cerr := vm.CopyOut(p.Pagetable, argAddr(p, 0), buf[:]); cerr != 0 {
		file.CloseFd(p.Pid, rfd)
		file.CloseFd(p.Pid, wfd)
		return -1
	}
	return 0
}

func sysRead(p *proc.Proc_t) int {
	_, f, err := argFd(p, 0)
	if err != 0 {
		return -1
	}
	n := argInt(p, 2)
	uio := &fs.Uio_t{Pt: p.Pagetable, Addr: argAddr(p, 1)}
	got, rerr := file.Read(f, uio, n)
	if rerr != 0 {
		return -1
	}
	return got
}

func sysWrite(p *proc.Proc_t) int {
	_, f, err := argFd(p, 0)
	if err != 0 {
		return -1
	}
	n := argInt(p, 2)
	uio := &fs.Uio_t{Pt: p.Pagetable, Addr: argAddr(p, 1)}
	got, werr := file.Write(f, uio, n)
	if werr != 0 {
		return -1
	}
	return got
}

func sysKill(p *proc.Proc_t) int {
	if err := proc.Kill(argInt(p, 0)); err != 0 {
		return -1
	}
	return 0
}

func sysExec(p *proc.Proc_t) int {
	path, err := argStr(p, 0)
	if err != 0 {
		return -1
	}
	argvAddr := argAddr(p, 1)

	var argv []ustr.Ustr
	for i := 0; ; i++ {
		var ptrBuf [8]byte
		if cerr := vm.CopyIn(p.Pagetable, ptrBuf[:], argvAddr+uint64(i*8)); cerr != 0 {
			return -1
		}
		uptr := binary.LittleEndian.Uint64(ptrBuf[:])
		if uptr == 0 {
			break
		}
		if i >= defs.MAXARGV {
			return -1
		}
		buf := make([]byte, defs.MAXARGLEN)
		if serr := vm.CopyInStr(p.Pagetable, buf, uptr, defs.MAXARGLEN); serr != 0 {
			return -1
		}
		n := 0
		for n < len(buf) && buf[n] != 0 {
			n++
		}
		argv = append(argv, ustr.MkUstrRaw(buf[:n]))
	}

	argc, eerr := elf.Exec(p, path, argv)
	if eerr != 0 {
		return -1
	}
	return argc
}

func sysFstat(p *proc.Proc_t) int {
	_, f, err := argFd(p, 0)
	if err != 0 {
		return -1
	}
	uio := &fs.Uio_t{Pt: p.Pagetable, Addr: argAddr(p, 1)}
	if serr := file.Stat(f, uio); serr != 0 {
		return -1
	}
	return 0
}

func sysChdir(p *proc.Proc_t) int {
	path, err := argStr(p, 0)
	if err != 0 {
		return -1
	}
	fslog.BeginOp()
	ip, nerr := fs.Namei(fs.Rootdev, p.Cwd, path)
	if nerr != 0 {
		fslog.EndOp()
		return -1
	}
	fs.Ilock(ip)
	if ip.Type != defs.T_DIR {
		fs.IunlockPut(ip)
		fslog.EndOp()
		return -1
	}
	fs.IunlockPut(ip)
	fslog.EndOp()
	p.Cwd = path
	return 0
}

func sysDup(p *proc.Proc_t) int {
	_, f, err := argFd(p, 0)
	if err != 0 {
		return -1
	}
	fd, derr := file.FdAlloc(p.Pid, file.Dup(f))
	if derr != 0 {
		file.Close(f)
		return -1
	}
	return fd
}

func sysSbrk(p *proc.Proc_t) int {
	n := argInt(p, 0)
	oldsz, err := proc.Grow(p, n)
	if err != 0 {
		return -1
	}
	return int(oldsz)
}

func sysSleep(p *proc.Proc_t) int {
	n := argInt(p, 0)
	target := proc.Uptime() + uint64(n)
	proc.TicksLock.Lock()
	for proc.Uptime() < target {
		if proc.Killed(p) {
			proc.TicksLock.Unlock()
			return -1
		}
		proc.Sleep(&proc.Ticks, proc.TicksLock)
	}
	proc.TicksLock.Unlock()
	return 0
}

func sysOpen(p *proc.Proc_t) int {
	path, err := argStr(p, 0)
	if err != 0 {
		return -1
	}
	flags := argInt(p, 1)

	fslog.BeginOp()
	var ip *fs.Inode_t
	if flags&defs.O_CREAT != 0 {
		ip, err = fs.Create(fs.Rootdev, p.Cwd, path, defs.T_FILE, 0, 0, p.User.Uid, p.User.Gid)
		if err != 0 {
			fslog.EndOp()
			return -1
		}
	} else {
		ip, err = fs.Namei(fs.Rootdev, p.Cwd, path)
		if err != 0 {
			fslog.EndOp()
			return -1
		}
		fs.Ilock(ip)
		if ip.Type == defs.T_DIR && flags != defs.O_RDONLY {
			fs.IunlockPut(ip)
			fslog.EndOp()
			return -1
		}
	}

	writable := flags&defs.O_WRONLY != 0 || flags&defs.O_RDWR != 0
	readable := flags&defs.O_WRONLY == 0 || flags&defs.O_RDWR != 0

	var need uint8
	if readable {
		need |= 4
	}
	// O_TRUNC destroys contents even on an O_RDONLY open, so it demands
	// write permission without making the returned fd writable
	if writable || flags&defs.O_TRUNC != 0 {
		need |= 2
	}
	if !ip.Permitted(p.User.Uid, p.User.Gid, need) {
		fs.IunlockPut(ip)
		fslog.EndOp()
		return -1
	}

	if flags&defs.O_TRUNC != 0 && ip.Type == defs.T_FILE {
		fs.Itrunc(ip)
	}

	f, ferr := file.OpenInode(ip, readable, writable)
	if ferr != 0 {
		fs.IunlockPut(ip)
		fslog.EndOp()
		return -1
	}
	fs.Iunlock(ip)
	fslog.EndOp()

	fd, aerr := file.FdAlloc(p.Pid, f)
	if aerr != 0 {
		file.Close(f)
		return -1
	}
	return fd
}

func sysMknod(p *proc.Proc_t) int {
	path, err := argStr(p, 0)
	if err != 0 {
		return -1
	}
	major := int16(argInt(p, 1))
	minor := int16(argInt(p, 2))

	fslog.BeginOp()
	ip, cerr := fs.Create(fs.Rootdev, p.Cwd, path, defs.T_DEVICE, major, minor, p.User.Uid, p.User.Gid)
	if cerr != 0 {
		fslog.EndOp()
		return -1
	}
	fs.IunlockPut(ip)
	fslog.EndOp()
	return 0
}

func sysUnlink(p *proc.Proc_t) int {
	path, err := argStr(p, 0)
	if err != 0 {
		return -1
	}

	fslog.BeginOp()
	var name ustr.Ustr
	dp, perr := fs.NameiParent(fs.Rootdev, p.Cwd, path, &name)
	if perr != 0 {
		fslog.EndOp()
		return -1
	}

	if name.Eq(ustr.MkUstr(".")) || name.Eq(ustr.MkUstr("..")) {
		fs.IunlockPut(dp)
		fslog.EndOp()
		return -1
	}

	ip, off, lerr := fs.DirLookup(dp, name)
	if lerr != 0 {
		fs.IunlockPut(dp)
		fslog.EndOp()
		return -1
	}
	fs.Ilock(ip)

	if ip.Type == defs.T_DIR && !fs.IsDirEmpty(ip) {
		fs.IunlockPut(ip)
		fs.IunlockPut(dp)
		fslog.EndOp()
		return -1
	}

	if derr := fs.DirUnlink(dp, off); derr != 0 {
		fs.IunlockPut(ip)
		fs.IunlockPut(dp)
		fslog.EndOp()
		return -1
	}
	if ip.Type == defs.T_DIR {
		// the removed directory's ".." no longer references dp
		dp.Nlink--
		fs.Iupdate(dp)
	}
	fs.IunlockPut(dp)
	ip.Nlink--
	fs.Iupdate(ip)
	fs.IunlockPut(ip)
	fslog.EndOp()
	return 0
}

func sysLink(p *proc.Proc_t) int {
	oldPath, err := argStr(p, 0)
	if err != 0 {
		return -1
	}
	newPath, err := argStr(p, 1)
	if err != 0 {
		return -1
	}

	fslog.BeginOp()
	ip, nerr := fs.Namei(fs.Rootdev, p.Cwd, oldPath)
	if nerr != 0 {
		fslog.EndOp()
		return -1
	}
	fs.Ilock(ip)
	if ip.Type == defs.T_DIR {
		fs.IunlockPut(ip)
		fslog.EndOp()
		return -1
	}
	ip.Nlink++
	fs.Iupdate(ip)
	fs.Iunlock(ip)

	var name ustr.Ustr
	dp, perr := fs.NameiParent(fs.Rootdev, p.Cwd, newPath, &name)
	if perr != 0 {
		fs.Ilock(ip)
		ip.Nlink--
		fs.Iupdate(ip)
		fs.IunlockPut(ip)
		fslog.EndOp()
		return -1
	}
	lerr := fs.DirLink(dp, name, ip.Inum, p.User.Uid, p.User.Gid, 6, 6, 6)
	fs.IunlockPut(dp)
	if lerr != 0 {
		fs.Ilock(ip)
		ip.Nlink--
		fs.Iupdate(ip)
		fs.IunlockPut(ip)
		fslog.EndOp()
		return -1
	}
	fs.Iput(ip)
	fslog.EndOp()
	return 0
}

func sysMkdir(p *proc.Proc_t) int {
	path, err := argStr(p, 0)
	if err != 0 {
		return -1
	}
	fslog.BeginOp()
	ip, cerr := fs.Create(fs.Rootdev, p.Cwd, path, defs.T_DIR, 0, 0, p.User.Uid, p.User.Gid)
	if cerr != 0 {
		fslog.EndOp()
		return -1
	}
	fs.IunlockPut(ip)
	fslog.EndOp()
	return 0
}

func sysClose(p *proc.Proc_t) int {
	fd := argInt(p, 0)
	if err := file.CloseFd(p.Pid, fd); err != 0 {
		return -1
	}
	return 0
}

func sysSetuid(p *proc.Proc_t) int {
	p.User.Uid = uint32(argInt(p, 0))
	return 0
}

func sysSetgid(p *proc.Proc_t) int {
	p.User.Gid = uint32(argInt(p, 0))
	return 0
}
