// Package main (mkfs) builds a bootable fs.img from a host skeleton
// directory: boot block, superblock, log, inode table, free-block
// bitmap, then data. It cannot link the kernel's own fs/bio/fslog
// stack (those packages reach the riscv CSR-accessor assembly and so
// only ever build into a riscv64 freestanding binary, never a host
// tool), so this file duplicates just the on-disk encoding those
// packages define (fs/fs.go's Superblock_t, fs/inode.go's dinode and
// bmap addressing, fs/dir.go's Dirent_t) with the same field widths
// and byte offsets, building the image with nothing but defs, ustr,
// and util, all three riscv-free.
package main

import (
	"fmt"

	"defs"
	"ustr"
	"util"
)

// bsize, dinodeSize, direntSize and the direct/indirect addressing
// constants below must match fs/inode.go and fs/dir.go exactly; see this
// file's package comment for why they are duplicated here rather than
// imported.
const (
	bsize      = 1024
	ndirect    = 10
	nindirect  = bsize / 4
	maxfile    = ndirect + nindirect
	dinodeSize = 68
	ipb        = bsize / dinodeSize
	direntSize = 2 + 2 + 2 + 1 + 1 + 1 + 1 + defs.DIRSIZ
	rootino    = 1
)

type superblock struct {
	magic      uint32
	size       uint32
	nblocks    uint32
	ninodes    uint32
	nlog       uint32
	logstart   uint32
	inodestart uint32
	bmapstart  uint32
}

const fsmagic = 0x10203040

func (sb *superblock) encode(d []uint8) {
	util.Writen(d, 4, 0, int(sb.magic))
	util.Writen(d, 4, 4, int(sb.size))
	util.Writen(d, 4, 8, int(sb.nblocks))
	util.Writen(d, 4, 12, int(sb.ninodes))
	util.Writen(d, 4, 16, int(sb.nlog))
	util.Writen(d, 4, 20, int(sb.logstart))
	util.Writen(d, 4, 24, int(sb.inodestart))
	util.Writen(d, 4, 28, int(sb.bmapstart))
}

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
	addrs     [ndirect + 1]uint32
}

func (di *dinode) encode(d []uint8) {
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

func (di *dinode) decode(d []uint8) {
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
}

type dirent struct {
	inum      uint16
	uid       uint16
	gid       uint16
	maskUser  uint8
	maskGroup uint8
	maskOther uint8
	name      [defs.DIRSIZ]uint8
}

func (de *dirent) encode(d []uint8) {
	util.Writen(d, 2, 0, int(de.inum))
	util.Writen(d, 2, 2, int(de.uid))
	util.Writen(d, 2, 4, int(de.gid))
	util.Writen(d, 1, 6, int(de.maskUser))
	util.Writen(d, 1, 7, int(de.maskGroup))
	util.Writen(d, 1, 8, int(de.maskOther))
	copy(d[9:9+defs.DIRSIZ], de.name[:])
}

// image is the in-memory block-addressable backing store for the disk
// image under construction; writeOut (in main.go) flushes it to the host
// file system, optionally gzip-compressed.
type image struct {
	data   []byte
	nblock int
}

func newImage(nblock int) *image {
	return &image{data: make([]byte, nblock*bsize), nblock: nblock}
}

func (im *image) block(n int) []byte {
	if n < 0 || n >= im.nblock {
		panic(fmt.Sprintf("mkfs: block %d out of range (%d total)", n, im.nblock))
	}
	return im.data[n*bsize : (n+1)*bsize]
}

// builder lays out a fresh image following the same region order
// fs.Init/fs.Ialloc/fs.balloc assume: boot block, superblock, log,
// inodes, free-block bitmap, data.
type builder struct {
	im       *image
	sb       superblock
	nextInum int
	nextData int
}

// newBuilder computes a layout for nblock total blocks and ninodes inode
// slots, zeroes the image, and writes the superblock.
func newBuilder(nblock, ninodes, nlog int) *builder {
	ninodeblocks := util.Roundup(ninodes, ipb) / ipb
	inodestart := 2 + nlog // block 0 boot, block 1 superblock
	bmapstart := inodestart + ninodeblocks
	nbitmapblocks := util.Roundup(nblock, bsize*8) / (bsize * 8)
	firstData := bmapstart + nbitmapblocks

	b := &builder{
		im: newImage(nblock),
		sb: superblock{
			magic:      fsmagic,
			size:       uint32(nblock),
			nblocks:    uint32(nblock - firstData),
			ninodes:    uint32(ninodes),
			nlog:       uint32(nlog),
			logstart:   2,
			inodestart: uint32(inodestart),
			bmapstart:  uint32(bmapstart),
		},
		nextInum: 1,
		nextData: firstData,
	}
	b.sb.encode(b.im.block(1))
	for i := 0; i < firstData; i++ {
		b.markUsed(i)
	}
	return b
}

func (b *builder) markUsed(blockno int) {
	bm := b.im.block(int(b.sb.bmapstart) + blockno/(bsize*8))
	bi := blockno % (bsize * 8)
	bm[bi/8] |= 1 << uint(bi%8)
}

func (b *builder) allocData() int {
	if b.nextData >= int(b.sb.size) {
		panic("mkfs: image too small for skeleton contents")
	}
	bn := b.nextData
	b.nextData++
	b.markUsed(bn)
	return bn
}

func (b *builder) inodeBlock(inum int) int { return int(b.sb.inodestart) + inum/ipb }
func (b *builder) inodeOff(inum int) int   { return (inum % ipb) * dinodeSize }

func (b *builder) readInode(inum int) dinode {
	var di dinode
	off := b.inodeOff(inum)
	di.decode(b.im.block(b.inodeBlock(inum))[off : off+dinodeSize])
	return di
}

func (b *builder) writeInode(inum int, di dinode) {
	off := b.inodeOff(inum)
	di.encode(b.im.block(b.inodeBlock(inum))[off : off+dinodeSize])
}

// allocInode reserves the next inode slot and writes a fresh dinode of
// typ into it.
func (b *builder) allocInode(typ int16) int {
	if uint32(b.nextInum) >= b.sb.ninodes {
		panic("mkfs: out of inodes for skeleton contents")
	}
	inum := b.nextInum
	b.nextInum++
	b.writeInode(inum, dinode{typ: typ})
	return inum
}

// bmap returns the data block number backing logical block bn of an
// inode, allocating it (and, if needed, its indirect block) on first
// touch, the mkfs-time analog of fs/inode.go's bmap, used here only to
// grow a file monotonically as writeData appends to it.
func (b *builder) bmap(di *dinode, bn int) int {
	if bn < ndirect {
		if di.addrs[bn] == 0 {
			di.addrs[bn] = uint32(b.allocData())
		}
		return int(di.addrs[bn])
	}
	bn -= ndirect
	if bn >= nindirect {
		panic("mkfs: file exceeds maxfile")
	}
	if di.addrs[ndirect] == 0 {
		di.addrs[ndirect] = uint32(b.allocData())
	}
	ind := b.im.block(int(di.addrs[ndirect]))
	off := bn * 4
	addr := uint32(util.Readn(ind, 4, off))
	if addr == 0 {
		addr = uint32(b.allocData())
		util.Writen(ind, 4, off, int(addr))
	}
	return int(addr)
}

// writeAt writes data into inum's byte stream starting at off, growing
// the inode's size and block list as needed.
func (b *builder) writeAt(inum int, off int, data []byte) {
	di := b.readInode(inum)
	end := off + len(data)
	written := 0
	for written < len(data) {
		bn := (off + written) / bsize
		boff := (off + written) % bsize
		dataBlock := b.bmap(&di, bn)
		n := util.Min(bsize-boff, len(data)-written)
		copy(b.im.block(dataBlock)[boff:boff+n], data[written:written+n])
		written += n
	}
	if uint32(end) > di.size {
		di.size = uint32(end)
	}
	b.writeInode(inum, di)
}

// appendDirEntry scans dirInum's existing entries for a free (inum == 0)
// slot, falling back to appending past its current size.
func (b *builder) appendDirEntry(dirInum int, name string, targetInum int, uid, gid uint32, mu, mg, mo uint8) {
	di := b.readInode(dirInum)
	buf := make([]byte, direntSize)
	off := 0
	for ; uint32(off) < di.size; off += direntSize {
		b.readAt(dirInum, off, buf)
		if util.Readn(buf, 2, 0) == 0 {
			break
		}
	}
	var de dirent
	de.inum = uint16(targetInum)
	de.uid = uint16(uid)
	de.gid = uint16(gid)
	de.maskUser, de.maskGroup, de.maskOther = mu, mg, mo
	truncated := ustr.MkUstr(name).Truncate()
	copy(de.name[:], truncated[:])
	entry := make([]byte, direntSize)
	de.encode(entry)
	b.writeAt(dirInum, off, entry)
}

func (b *builder) readAt(inum int, off int, dst []byte) {
	di := b.readInode(inum)
	bn := off / bsize
	boff := off % bsize
	if bn >= ndirect && b.bmapReadOnly(&di, bn) == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	dataBlock := b.bmap(&di, bn)
	copy(dst, b.im.block(dataBlock)[boff:boff+len(dst)])
}

// bmapReadOnly mirrors bmap without allocating, used only to probe
// whether an indirect block already exists before readAt forces one into
// being.
func (b *builder) bmapReadOnly(di *dinode, bn int) int {
	if bn < ndirect {
		return int(di.addrs[bn])
	}
	bn -= ndirect
	if di.addrs[ndirect] == 0 {
		return 0
	}
	ind := b.im.block(int(di.addrs[ndirect]))
	return int(util.Readn(ind, 4, bn*4))
}

const (
	permUser  = 7
	permGroup = 5
	permOther = 5
)

// makeRoot bootstraps the root directory at rootino, the one inode
// Create cannot produce because it has no parent to link it into.
func (b *builder) makeRoot(uid, gid uint32) int {
	inum := b.allocInode(defs.T_DIR)
	if inum != rootino {
		panic("mkfs: root inode did not land at inum 1")
	}
	b.appendDirEntry(inum, ".", inum, uid, gid, permUser, permGroup, permOther)
	b.appendDirEntry(inum, "..", inum, uid, gid, permUser, permGroup, permOther)
	di := b.readInode(inum)
	di.nlink = 2
	di.uid, di.gid = uid, gid
	di.maskUser, di.maskGroup, di.maskOther = permUser, permGroup, permOther
	b.writeInode(inum, di)
	return inum
}

// makeDir creates a subdirectory named name under parentInum, the mkfs
// analog of fs.Create(typ=T_DIR).
func (b *builder) makeDir(parentInum int, name string, uid, gid uint32) int {
	inum := b.allocInode(defs.T_DIR)
	b.appendDirEntry(inum, ".", inum, uid, gid, permUser, permGroup, permOther)
	b.appendDirEntry(inum, "..", parentInum, uid, gid, permUser, permGroup, permOther)
	di := b.readInode(inum)
	di.nlink = 1
	di.uid, di.gid = uid, gid
	di.maskUser, di.maskGroup, di.maskOther = permUser, permGroup, permOther
	b.writeInode(inum, di)

	parent := b.readInode(parentInum)
	parent.nlink++
	b.writeInode(parentInum, parent)

	b.appendDirEntry(parentInum, name, inum, uid, gid, permUser, permGroup, permOther)
	return inum
}

// makeFile creates a regular file named name under parentInum and copies
// content into it.
func (b *builder) makeFile(parentInum int, name string, uid, gid uint32, content []byte) int {
	inum := b.allocInode(defs.T_FILE)
	di := b.readInode(inum)
	di.nlink = 1
	di.uid, di.gid = uid, gid
	di.maskUser, di.maskGroup, di.maskOther = permUser, permGroup, permOther
	b.writeInode(inum, di)

	if len(content) > 0 {
		b.writeAt(inum, 0, content)
	}

	b.appendDirEntry(parentInum, name, inum, uid, gid, permUser, permGroup, permOther)
	return inum
}
