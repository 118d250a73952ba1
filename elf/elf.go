// Package elf loads a 64-bit RISC-V ELF executable into a fresh address
// space and replaces the calling process's image with it: resolve the
// path under an active log transaction, parse headers, map one segment
// at a time, build the argv stack, then swap page tables. Static non-PIE
// binaries only; there is no interpreter or dynamic-linker handling.
package elf

import (
	"encoding/binary"

	"defs"
	"fs"
	"fslog"
	"mem"
	"proc"
	"riscv"
	"ustr"
	"vm"
)

const (
	elfMagic = 0x464c457f // "\x7fELF", little-endian

	etExec = 2
	emRiscv = 243

	ptLoad = 1

	pfX = 1
	pfW = 2
	pfR = 4
)

// ehdr mirrors Elf64_Ehdr's fields this loader needs; unused fields in the
// real header are skipped over rather than modeled.
type ehdr struct {
	Magic     uint32
	_         [12]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

const ehdrSize = 64

// phdr mirrors Elf64_Phdr.
type phdr struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

const phdrSize = 56

func decodeEhdr(b []byte) ehdr {
	var h ehdr
	h.Magic = binary.LittleEndian.Uint32(b[0:4])
	h.Type = binary.LittleEndian.Uint16(b[16:18])
	h.Machine = binary.LittleEndian.Uint16(b[18:20])
	h.Version = binary.LittleEndian.Uint32(b[20:24])
	h.Entry = binary.LittleEndian.Uint64(b[24:32])
	h.Phoff = binary.LittleEndian.Uint64(b[32:40])
	h.Shoff = binary.LittleEndian.Uint64(b[40:48])
	h.Flags = binary.LittleEndian.Uint32(b[48:52])
	h.Ehsize = binary.LittleEndian.Uint16(b[52:54])
	h.Phentsize = binary.LittleEndian.Uint16(b[54:56])
	h.Phnum = binary.LittleEndian.Uint16(b[56:58])
	h.Shentsize = binary.LittleEndian.Uint16(b[58:60])
	h.Shnum = binary.LittleEndian.Uint16(b[60:62])
	h.Shstrndx = binary.LittleEndian.Uint16(b[62:64])
	return h
}

func decodePhdr(b []byte) phdr {
	var p phdr
	p.Type = binary.LittleEndian.Uint32(b[0:4])
	p.Flags = binary.LittleEndian.Uint32(b[4:8])
	p.Off = binary.LittleEndian.Uint64(b[8:16])
	p.Vaddr = binary.LittleEndian.Uint64(b[16:24])
	p.Paddr = binary.LittleEndian.Uint64(b[24:32])
	p.Filesz = binary.LittleEndian.Uint64(b[32:40])
	p.Memsz = binary.LittleEndian.Uint64(b[40:48])
	p.Align = binary.LittleEndian.Uint64(b[48:56])
	return p
}

func permToPte(flags uint32) vm.Pte_t {
	var perm vm.Pte_t
	if flags&pfX != 0 {
		perm |= riscv.PTE_X
	}
	if flags&pfW != 0 {
		perm |= riscv.PTE_W
	}
	return perm
}

// loadseg reads filesz bytes of a PT_LOAD segment's file contents into
// the already-mapped pages at vaddr. Sv39 pages are zeroed on
// vm.UvmAlloc, so the tail of a segment whose memsz exceeds its filesz
// (.bss) is correct without a separate zero-fill step.
func loadseg(pt *vm.Pagetable_t, ip *fs.Inode_t, vaddr, off uint64, filesz uint64) defs.Err_t {
	for i := uint64(0); i < filesz; i += riscv.PGSIZE {
		pa, ok := vm.Walkaddr(pt, vaddr+i)
		if !ok {
			return -defs.EFAULT
		}
		n := uint64(riscv.PGSIZE)
		if filesz-i < n {
			n = filesz - i
		}
		uio := &fs.Uio_t{KernBuf: mem.Dmap8(pa)[:n]}
		got, err := fs.Readi(ip, uio, int(off+i), int(n))
		if err != 0 {
			return err
		}
		if uint64(got) != n {
			return -defs.EIO
		}
	}
	return 0
}

// Exec replaces p's address space with the program at path, laying out
// argv on the new stack per the usual System V convention. On
// success it returns argc in a0 via the caller's trapframe write, the
// same way sys_exec reports its result; on failure p's existing image is
// left untouched and returns are propagated via defs.Err_t.
func Exec(p *proc.Proc_t, path ustr.Ustr, argv []ustr.Ustr) (int, defs.Err_t) {
	fslog.BeginOp()
	defer fslog.EndOp()

	ip, err := fs.Namei(fs.Rootdev, p.Cwd, path)
	if err != 0 {
		return -1, err
	}
	fs.Ilock(ip)
	defer fs.IunlockPut(ip)

	if ip.Type != defs.T_FILE && ip.Type != defs.T_DEVICE {
		return -1, -defs.EACCES
	}
	if !ip.Permitted(p.User.Uid, p.User.Gid, 1) {
		return -1, -defs.EACCES
	}

	hdrbuf := make([]byte, ehdrSize)
	huio := &fs.Uio_t{KernBuf: hdrbuf}
	if n, rerr := fs.Readi(ip, huio, 0, ehdrSize); rerr != 0 || n != ehdrSize {
		return -1, -defs.ENOEXEC
	}
	eh := decodeEhdr(hdrbuf)
	if eh.Magic != elfMagic || eh.Type != etExec || eh.Machine != emRiscv {
		return -1, -defs.ENOEXEC
	}

	pt, err := proc.AllocPagetable(p)
	if err != 0 {
		return -1, err
	}
	var sz uint64

	ok := true
	for i := 0; i < int(eh.Phnum) && ok; i++ {
		phbuf := make([]byte, phdrSize)
		puio := &fs.Uio_t{KernBuf: phbuf}
		n, rerr := fs.Readi(ip, puio, int(eh.Phoff)+i*phdrSize, phdrSize)
		if rerr != 0 || n != phdrSize {
			ok = false
			break
		}
		ph := decodePhdr(phbuf)
		if ph.Type != ptLoad {
			continue
		}
		if ph.Memsz < ph.Filesz || ph.Vaddr%riscv.PGSIZE != 0 {
			ok = false
			break
		}
		newsz, aerr := vm.UvmAlloc(pt, sz, ph.Vaddr+ph.Memsz, permToPte(ph.Flags))
		if aerr != 0 {
			ok = false
			break
		}
		sz = newsz
		if lerr := loadseg(pt, ip, ph.Vaddr, ph.Off, ph.Filesz); lerr != 0 {
			ok = false
			break
		}
	}
	if !ok {
		proc.FreePagetable(pt, sz)
		return -1, -defs.ENOEXEC
	}

	// Two guard-page-bracketed stack pages: a redzone below the one the
	// process actually uses, caught by UvmClear so overflow faults rather
	// than corrupts the next mapping down.
	sz = (sz + riscv.PGSIZE - 1) / riscv.PGSIZE * riscv.PGSIZE
	sz, err = vm.UvmAlloc(pt, sz, sz+2*riscv.PGSIZE, riscv.PTE_W)
	if err != 0 {
		proc.FreePagetable(pt, sz)
		return -1, err
	}
	vm.UvmClear(pt, sz-2*riscv.PGSIZE)
	sp := sz
	stackBase := sp - riscv.PGSIZE

	if len(argv) > defs.MAXARGV {
		proc.FreePagetable(pt, sz)
		return -1, -defs.E2BIG
	}

	ustack := make([]uint64, len(argv)+1)
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i].String()
		n := uint64(len(s) + 1)
		sp -= n
		sp -= sp % 16
		if sp < stackBase {
			proc.FreePagetable(pt, sz)
			return -1, -defs.E2BIG
		}
		buf := make([]byte, n)
		copy(buf, s)
		if cerr := vm.CopyOut(pt, sp, buf); cerr != 0 {
			proc.FreePagetable(pt, sz)
			return -1, cerr
		}
		ustack[i] = sp
	}
	ustack[len(argv)] = 0

	argvBytes := len(ustack) * 8
	sp -= uint64(argvBytes)
	sp -= sp % 16
	if sp < stackBase {
		proc.FreePagetable(pt, sz)
		return -1, -defs.E2BIG
	}
	argvBuf := make([]byte, argvBytes)
	for i, v := range ustack {
		binary.LittleEndian.PutUint64(argvBuf[i*8:i*8+8], v)
	}
	if cerr := vm.CopyOut(pt, sp, argvBuf); cerr != 0 {
		proc.FreePagetable(pt, sz)
		return -1, cerr
	}

	oldpt, oldsz := p.Pagetable, p.Sz
	p.Name = basename(path)
	p.Pagetable = pt
	p.Sz = sz
	p.Trapframe.Epc = eh.Entry
	p.Trapframe.Sp = sp
	p.Trapframe.A1 = sp // argv base; a0 carries argc via the syscall return
	proc.FreePagetable(oldpt, oldsz)

	return len(argv), 0
}

// basename returns the path component after the last '/', the name the
// process table reports for this image from now on.
func basename(path ustr.Ustr) string {
	last := 0
	for i, c := range path {
		if c == '/' {
			last = i + 1
		}
	}
	return path[last:].String()
}
