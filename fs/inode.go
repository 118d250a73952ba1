package fs

import (
	"sleeplock"
	"spinlock"
	"stat"
	"util"
	"vm"

	"bio"
	"fslog"

	"defs"
)

// NDIRECT, NINDIRECT, MAXFILE bound an inode's direct and single-indirect
// address slots.
const (
	NDIRECT   = 10
	NINDIRECT = BSIZE / 4
	MAXFILE   = NDIRECT + NINDIRECT
)

// dinodeSize is the fixed on-disk size of one inode record; Sb.Inodestart
// blocks hold BSIZE/dinodeSize of them each, with a few trailing bytes per
// block unused since dinodeSize does not evenly divide BSIZE.
const dinodeSize = 68

const ipb = BSIZE / dinodeSize

func inodeBlock(inum int) int {
	return int(Sb.Inodestart) + inum/ipb
}

// dinode is the on-disk inode record.
type dinode struct {
	typ       int16
	major     int16
	minor     int16
	nlink     int16
	uid       uint32
	gid       uint32
	maskUser  uint8
	maskGroup uint8
	maskOther uint8
	size      uint32
	addrs     [NDIRECT + 1]uint32
}

func decodeDinode(d []uint8) dinode {
	var di dinode
	di.typ = int16(util.Readn(d, 2, 0))
	di.major = int16(util.Readn(d, 2, 2))
	di.minor = int16(util.Readn(d, 2, 4))
	di.nlink = int16(util.Readn(d, 2, 6))
	di.uid = uint32(util.Readn(d, 4, 8))
	di.gid = uint32(util.Readn(d, 4, 12))
	di.maskUser = uint8(util.Readn(d, 1, 16))
	di.maskGroup = uint8(util.Readn(d, 1, 17))
	di.maskOther = uint8(util.Readn(d, 1, 18))
	di.size = uint32(util.Readn(d, 4, 20))
	for i := range di.addrs {
		di.addrs[i] = uint32(util.Readn(d, 4, 24+4*i))
	}
	return di
}

func encodeDinode(di dinode, d []uint8) {
	util.Writen(d, 2, 0, int(di.typ))
	util.Writen(d, 2, 2, int(di.major))
	util.Writen(d, 2, 4, int(di.minor))
	util.Writen(d, 2, 6, int(di.nlink))
	util.Writen(d, 4, 8, int(di.uid))
	util.Writen(d, 4, 12, int(di.gid))
	util.Writen(d, 1, 16, int(di.maskUser))
	util.Writen(d, 1, 17, int(di.maskGroup))
	util.Writen(d, 1, 18, int(di.maskOther))
	util.Writen(d, 4, 20, int(di.size))
	for i, a := range di.addrs {
		util.Writen(d, 4, 24+4*i, int(a))
	}
}

func dinodeOffset(inum int) int {
	return (inum % ipb) * dinodeSize
}

// Inode_t is an in-memory cached inode.
type Inode_t struct {
	Dev   int
	Inum  int
	ref   int
	valid bool
	lk    *sleeplock.Sleeplock_t

	Type      int16
	Major     int16
	Minor     int16
	Nlink     int16
	Uid       uint32
	Gid       uint32
	MaskUser  uint8
	MaskGroup uint8
	MaskOther uint8
	Size      uint64
	addrs     [NDIRECT + 1]uint32
}

const NINODE = 50

var itable struct {
	mu    *spinlock.Spinlock_t
	inode [NINODE]*Inode_t
}

func initItable() {
	itable.mu = spinlock.MkLock("itable")
	for i := range itable.inode {
		itable.inode[i] = &Inode_t{lk: sleeplock.MkLock("inode")}
	}
}

// Ialloc scans the inode blocks for the first on-disk inode with type ==
// 0, writes a fresh inode of the given type under the log, and returns an
// in-memory handle to it via Iget.
func Ialloc(dev int, typ int16) (*Inode_t, defs.Err_t) {
	for inum := 1; uint32(inum) < Sb.Ninodes; inum++ {
		b := bio.Bread(dev, inodeBlock(inum))
		off := dinodeOffset(inum)
		di := decodeDinode(b.Data[off : off+dinodeSize])
		if di.typ == 0 {
			var fresh dinode
			fresh.typ = typ
			encodeDinode(fresh, b.Data[off:off+dinodeSize])
			fslog.Lwrite(b)
			bio.Brelse(b)
			return Iget(dev, inum), 0
		}
		bio.Brelse(b)
	}
	return nil, -defs.ENOSPC
}

// Iget finds or creates an in-memory slot for (dev, inum) and bumps its
// reference count. It does not read the disk; that is Ilock's job.
func Iget(dev, inum int) *Inode_t {
	itable.mu.Lock()
	defer itable.mu.Unlock()

	var free *Inode_t
	for _, ip := range itable.inode {
		if ip.ref > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.ref++
			return ip
		}
		if free == nil && ip.ref == 0 {
			free = ip
		}
	}
	if free == nil {
		panic("fs.Iget: no free inode slots")
	}
	free.Dev = dev
	free.Inum = inum
	free.ref = 1
	free.valid = false
	return free
}

// Idup bumps ip's reference count and returns it, for callers (fork, dup)
// that need a second independent handle to an already-held inode.
func Idup(ip *Inode_t) *Inode_t {
	itable.mu.Lock()
	defer itable.mu.Unlock()
	ip.ref++
	return ip
}

// Ilock acquires ip's sleeplock and, the first time, reads its fields
// from the containing disk block. Calling Ilock on a ref == 0 inode is a
// fatal misuse.
func Ilock(ip *Inode_t) {
	if ip.ref < 1 {
		panic("fs.Ilock: inode not referenced")
	}
	ip.lk.Acquire()
	if !ip.valid {
		b := bio.Bread(ip.Dev, inodeBlock(ip.Inum))
		off := dinodeOffset(ip.Inum)
		di := decodeDinode(b.Data[off : off+dinodeSize])
		bio.Brelse(b)

		if di.typ == 0 {
			panic("fs.Ilock: inode has no type")
		}
		ip.Type = di.typ
		ip.Major = di.major
		ip.Minor = di.minor
		ip.Nlink = di.nlink
		ip.Uid = di.uid
		ip.Gid = di.gid
		ip.MaskUser = di.maskUser
		ip.MaskGroup = di.maskGroup
		ip.MaskOther = di.maskOther
		ip.Size = uint64(di.size)
		ip.addrs = di.addrs
		ip.valid = true
	}
}

// Permitted reports whether a caller with (uid, gid) has every bit set in
// need (4=read, 2=write, 1=execute) against whichever of ip's three
// permission nibbles applies, picked the usual owner/group/other way.
func (ip *Inode_t) Permitted(uid, gid uint32, need uint8) bool {
	var mask uint8
	switch {
	case ip.Uid == uid:
		mask = ip.MaskUser
	case ip.Gid == gid:
		mask = ip.MaskGroup
	default:
		mask = ip.MaskOther
	}
	return mask&need == need
}

// Iunlock releases ip's sleeplock.
func Iunlock(ip *Inode_t) {
	if !ip.lk.Holding() {
		panic("fs.Iunlock: not held")
	}
	ip.lk.Release()
}

// Iupdate writes ip's in-memory fields back to its on-disk block under
// the current transaction.
func Iupdate(ip *Inode_t) {
	b := bio.Bread(ip.Dev, inodeBlock(ip.Inum))
	off := dinodeOffset(ip.Inum)
	di := dinode{
		typ: ip.Type, major: ip.Major, minor: ip.Minor, nlink: ip.Nlink,
		uid: ip.Uid, gid: ip.Gid,
		maskUser: ip.MaskUser, maskGroup: ip.MaskGroup, maskOther: ip.MaskOther,
		size: uint32(ip.Size), addrs: ip.addrs,
	}
	encodeDinode(di, b.Data[off:off+dinodeSize])
	fslog.Lwrite(b)
	bio.Brelse(b)
}

// Iput drops a reference to ip. If this was the last reference and the
// inode has no remaining links, it is truncated and freed on disk.
func Iput(ip *Inode_t) {
	itable.mu.Lock()
	if ip.ref == 1 && ip.valid && ip.Nlink == 0 {
		itable.mu.Unlock()
		ip.lk.Acquire()
		itable.mu.Lock()
		ip.ref--
		if ip.ref == 0 {
			itable.mu.Unlock()
			Itrunc(ip)
			ip.Type = 0
			Iupdate(ip)
			ip.valid = false
			ip.lk.Release()
			return
		}
		itable.mu.Unlock()
		ip.lk.Release()
		return
	}
	ip.ref--
	itable.mu.Unlock()
}

// IunlockPut is the common Iunlock+Iput sequence at the end of a syscall
// path holding a single inode reference.
func IunlockPut(ip *Inode_t) {
	Iunlock(ip)
	Iput(ip)
}

// bmap returns the data block number backing logical block bn of ip,
// allocating it on demand. bn beyond MAXFILE is a fatal misuse.
func bmap(ip *Inode_t, bn int) int {
	if bn < NDIRECT {
		addr := ip.addrs[bn]
		if addr == 0 {
			addr = uint32(balloc(ip.Dev))
			ip.addrs[bn] = addr
		}
		return int(addr)
	}
	bn -= NDIRECT
	if bn >= NINDIRECT {
		panic("fs.bmap: logical block out of range")
	}

	indAddr := ip.addrs[NDIRECT]
	if indAddr == 0 {
		indAddr = uint32(balloc(ip.Dev))
		ip.addrs[NDIRECT] = indAddr
	}
	ib := bio.Bread(ip.Dev, int(indAddr))
	off := bn * 4
	addr := uint32(util.Readn(ib.Data[:], 4, off))
	if addr == 0 {
		addr = uint32(balloc(ip.Dev))
		util.Writen(ib.Data[:], 4, off, int(addr))
		fslog.Lwrite(ib)
	}
	bio.Brelse(ib)
	return int(addr)
}

// Itrunc frees every block owned by ip (direct and single-indirect) and
// resets its size to zero.
func Itrunc(ip *Inode_t) {
	for i := 0; i < NDIRECT; i++ {
		if ip.addrs[i] != 0 {
			bfree(ip.Dev, int(ip.addrs[i]))
			ip.addrs[i] = 0
		}
	}
	if ip.addrs[NDIRECT] != 0 {
		ib := bio.Bread(ip.Dev, int(ip.addrs[NDIRECT]))
		for i := 0; i < NINDIRECT; i++ {
			addr := uint32(util.Readn(ib.Data[:], 4, i*4))
			if addr != 0 {
				bfree(ip.Dev, int(addr))
			}
		}
		bio.Brelse(ib)
		bfree(ip.Dev, int(ip.addrs[NDIRECT]))
		ip.addrs[NDIRECT] = 0
	}
	ip.Size = 0
	Iupdate(ip)
}

// either copies to/from a user or kernel destination, matching the
// original's either_copyout/either_copyin naming.
type Uio_t struct {
	Pt      *vm.Pagetable_t // nil when writing to/from kernel memory
	Addr    uint64
	KernBuf []byte
}

func eitherCopyout(dst *Uio_t, off int, src []byte) defs.Err_t {
	if dst.Pt != nil {
		return vm.CopyOut(dst.Pt, dst.Addr+uint64(off), src)
	}
	copy(dst.KernBuf[off:off+len(src)], src)
	return 0
}

func eitherCopyin(dst []byte, src *Uio_t, off int) defs.Err_t {
	if src.Pt != nil {
		return vm.CopyIn(src.Pt, dst, src.Addr+uint64(off))
	}
	copy(dst, src.KernBuf[off:off+len(dst)])
	return 0
}

// Readi copies n bytes starting at file offset off out of ip into dst.
func Readi(ip *Inode_t, dst *Uio_t, off, n int) (int, defs.Err_t) {
	if off > int(ip.Size) {
		return 0, -defs.EINVAL
	}
	if off+n > int(ip.Size) {
		n = int(ip.Size) - off
	}
	if n <= 0 {
		return 0, 0
	}

	total := 0
	for total < n {
		bn := (off + total) / BSIZE
		boff := (off + total) % BSIZE
		chunk := util.Min(n-total, BSIZE-boff)

		b := bio.Bread(ip.Dev, bmap(ip, bn))
		if err := eitherCopyout(dst, total, b.Data[boff:boff+chunk]); err != 0 {
			bio.Brelse(b)
			return total, err
		}
		bio.Brelse(b)
		total += chunk
	}
	return total, 0
}

// Writei copies n bytes from src into ip at file offset off, extending
// ip.Size and calling Iupdate when done.
func Writei(ip *Inode_t, src *Uio_t, off, n int) (int, defs.Err_t) {
	if off < 0 || int64(off)+int64(n) < int64(off) {
		return 0, -defs.EINVAL
	}
	if off+n > MAXFILE*BSIZE {
		return 0, -defs.ENOSPC
	}

	total := 0
	for total < n {
		bn := (off + total) / BSIZE
		boff := (off + total) % BSIZE
		chunk := util.Min(n-total, BSIZE-boff)

		b := bio.Bread(ip.Dev, bmap(ip, bn))
		if err := eitherCopyin(b.Data[boff:boff+chunk], src, total); err != 0 {
			bio.Brelse(b)
			break
		}
		fslog.Lwrite(b)
		bio.Brelse(b)
		total += chunk
	}

	if off+total > int(ip.Size) {
		ip.Size = uint64(off + total)
	}
	Iupdate(ip)
	return total, 0
}

// Stat fills st with ip's metadata, packing the three permission nibbles
// the way stat.Stat_t.Wmode expects.
func Stat(ip *Inode_t, st *stat.Stat_t) {
	st.Wdev(uint32(ip.Dev))
	st.Wino(uint32(ip.Inum))
	st.Wtype(ip.Type)
	st.Wnlink(ip.Nlink)
	st.Wsize(ip.Size)
	st.Wuid(ip.Uid)
	st.Wgid(ip.Gid)
	st.Wmode(ip.MaskUser, ip.MaskGroup, ip.MaskOther)
}
