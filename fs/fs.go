// Package fs is the on-disk file system: superblock, free-block bitmap,
// inode layer, and directory/path lookup.
// On-disk structures are codec'd field by field with util.Readn/Writen
// over raw block bytes, so the disk format is explicit here rather than
// implied by struct layout; all block access goes through the bio cache.
package fs

import (
	"bio"
	"fslog"
	"util"
)

// FSMAGIC identifies a formatted disk image.
const FSMAGIC = 0x10203040

const BSIZE = bio.BSIZE

// Sb is the in-memory copy of the mounted file system's superblock,
// populated once by Init.
var Sb Superblock_t

// Superblock_t mirrors the on-disk superblock block.
type Superblock_t struct {
	Magic      uint32
	Size       uint32 // total blocks on disk
	Nblocks    uint32 // data blocks
	Ninodes    uint32
	Nlog       uint32
	Logstart   uint32
	Inodestart uint32
	Bmapstart  uint32
}

const sbFieldSize = 4

func (sb *Superblock_t) decode(d []uint8) {
	sb.Magic = uint32(util.Readn(d, sbFieldSize, 0))
	sb.Size = uint32(util.Readn(d, sbFieldSize, 4))
	sb.Nblocks = uint32(util.Readn(d, sbFieldSize, 8))
	sb.Ninodes = uint32(util.Readn(d, sbFieldSize, 12))
	sb.Nlog = uint32(util.Readn(d, sbFieldSize, 16))
	sb.Logstart = uint32(util.Readn(d, sbFieldSize, 20))
	sb.Inodestart = uint32(util.Readn(d, sbFieldSize, 24))
	sb.Bmapstart = uint32(util.Readn(d, sbFieldSize, 28))
}

func (sb *Superblock_t) encode(d []uint8) {
	util.Writen(d, sbFieldSize, 0, int(sb.Magic))
	util.Writen(d, sbFieldSize, 4, int(sb.Size))
	util.Writen(d, sbFieldSize, 8, int(sb.Nblocks))
	util.Writen(d, sbFieldSize, 12, int(sb.Ninodes))
	util.Writen(d, sbFieldSize, 16, int(sb.Nlog))
	util.Writen(d, sbFieldSize, 20, int(sb.Logstart))
	util.Writen(d, sbFieldSize, 24, int(sb.Inodestart))
	util.Writen(d, sbFieldSize, 28, int(sb.Bmapstart))
}

// EncodeSuperblockForTest exposes Superblock_t's on-disk encoding to tests
// building a synthetic disk image; non-test callers have no reason to
// construct a superblock by hand.
func EncodeSuperblockForTest(sb *Superblock_t) []uint8 {
	d := make([]uint8, 32)
	sb.encode(d)
	return d
}

// Rootdev and Rootino name the boot device and its root directory inode.
// There is no mount table: this kernel supports exactly one mounted
// device, so both are fixed well-known identifiers.
const (
	Rootdev = 1
	Rootino = 1
)

// Init reads the superblock from dev, validates its magic, and
// brings up the write-ahead log and inode table above it.
func Init(dev int) {
	b := bio.Bread(dev, 1)
	Sb.decode(b.Data[:32])
	bio.Brelse(b)

	if Sb.Magic != FSMAGIC {
		panic("fs.Init: bad superblock magic")
	}

	fslog.Init(dev, int(Sb.Logstart))
	initItable()
}

// balloc scans the free-block bitmap for the first clear bit, sets it
// under the log, zeros the new block, and returns its number. Returns 0
// and logs a warning if the device is full.
func balloc(dev int) int {
	for b := 0; uint32(b) < Sb.Size; b += BSIZE * 8 {
		bp := bio.Bread(dev, int(Sb.Bmapstart)+b/(BSIZE*8))
		for bi := 0; bi < BSIZE*8 && uint32(b+bi) < Sb.Size; bi++ {
			m := uint8(1 << (uint(bi) % 8))
			byteOff := bi / 8
			if bp.Data[byteOff]&m == 0 {
				bp.Data[byteOff] |= m
				fslog.Lwrite(bp)
				bio.Brelse(bp)
				zeroBlock(dev, b+bi)
				return b + bi
			}
		}
		bio.Brelse(bp)
	}
	return 0
}

// bfree clears b's bit in the free-block bitmap. Freeing an already-free
// block is a fatal misuse.
func bfree(dev, b int) {
	bp := bio.Bread(dev, int(Sb.Bmapstart)+b/(BSIZE*8))
	bi := b % (BSIZE * 8)
	m := uint8(1 << (uint(bi) % 8))
	byteOff := bi / 8
	if bp.Data[byteOff]&m == 0 {
		panic("fs.bfree: freeing already-free block")
	}
	bp.Data[byteOff] &^= m
	fslog.Lwrite(bp)
	bio.Brelse(bp)
}

func zeroBlock(dev, b int) {
	bp := bio.Bread(dev, b)
	for i := range bp.Data {
		bp.Data[i] = 0
	}
	fslog.Lwrite(bp)
	bio.Brelse(bp)
}
