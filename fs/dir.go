package fs

import (
	"ustr"
	"util"

	"defs"
)

// direntSize is the fixed on-disk width of one directory entry. It need
// not divide BSIZE evenly: directory contents are read through the
// ordinary Readi/Writei byte stream, not block by block, exactly like
// any other file's data.
const direntSize = 2 + 2 + 2 + 1 + 1 + 1 + 1 + defs.DIRSIZ

// Dirent_t is one directory entry.
type Dirent_t struct {
	Inum      uint16
	Uid       uint16
	Gid       uint16
	MaskUser  uint8
	MaskGroup uint8
	MaskOther uint8
	Name      [defs.DIRSIZ]uint8
}

func decodeDirent(d []uint8) Dirent_t {
	var de Dirent_t
	de.Inum = uint16(util.Readn(d, 2, 0))
	de.Uid = uint16(util.Readn(d, 2, 2))
	de.Gid = uint16(util.Readn(d, 2, 4))
	de.MaskUser = uint8(util.Readn(d, 1, 6))
	de.MaskGroup = uint8(util.Readn(d, 1, 7))
	de.MaskOther = uint8(util.Readn(d, 1, 8))
	copy(de.Name[:], d[9:9+defs.DIRSIZ])
	return de
}

func encodeDirent(de Dirent_t, d []uint8) {
	util.Writen(d, 2, 0, int(de.Inum))
	util.Writen(d, 2, 2, int(de.Uid))
	util.Writen(d, 2, 4, int(de.Gid))
	util.Writen(d, 1, 6, int(de.MaskUser))
	util.Writen(d, 1, 7, int(de.MaskGroup))
	util.Writen(d, 1, 8, int(de.MaskOther))
	copy(d[9:9+defs.DIRSIZ], de.Name[:])
}

// DirLookup scans dp (which must be a locked, valid T_DIR inode) for
// name, returning the matching inode (via Iget, not yet locked) and the
// byte offset of its directory entry. dir_lookup on a non-directory
// inode is a fatal misuse.
func DirLookup(dp *Inode_t, name ustr.Ustr) (*Inode_t, int, defs.Err_t) {
	if dp.Type != defs.T_DIR {
		panic("fs.DirLookup: not a directory")
	}

	uio := &Uio_t{KernBuf: make([]byte, direntSize)}
	for off := 0; off < int(dp.Size); off += direntSize {
		n, err := Readi(dp, uio, off, direntSize)
		if err != 0 {
			return nil, 0, err
		}
		if n != direntSize {
			panic("fs.DirLookup: short directory read")
		}
		de := decodeDirent(uio.KernBuf)
		if de.Inum == 0 {
			continue
		}
		if ustr.MkUstrRaw(de.Name[:]).Eq(name) {
			return Iget(dp.Dev, int(de.Inum)), off, 0
		}
	}
	return nil, 0, -defs.ENOENT
}

// DirLink writes a new directory entry named name pointing at inum into
// dp, reusing an empty (inum == 0) slot if one exists or extending the
// directory's data otherwise. Linking a name that already exists returns
// -1.
func DirLink(dp *Inode_t, name ustr.Ustr, inum int, uid, gid uint32, mUser, mGroup, mOther uint8) defs.Err_t {
	if existing, _, err := DirLookup(dp, name); err == 0 {
		Iput(existing)
		return -defs.EEXIST
	}

	uio := &Uio_t{KernBuf: make([]byte, direntSize)}
	off := 0
	for ; off < int(dp.Size); off += direntSize {
		n, err := Readi(dp, uio, off, direntSize)
		if err != 0 {
			return err
		}
		if n != direntSize {
			panic("fs.DirLink: short directory read")
		}
		de := decodeDirent(uio.KernBuf)
		if de.Inum == 0 {
			break
		}
	}
	// off now points at either a free slot or dp.Size (append)

	de := Dirent_t{Inum: uint16(inum), Uid: uint16(uid), Gid: uint16(gid),
		MaskUser: mUser, MaskGroup: mGroup, MaskOther: mOther}
	tr := name.Truncate()
	copy(de.Name[:], tr[:])

	buf := make([]byte, direntSize)
	encodeDirent(de, buf)
	wio := &Uio_t{KernBuf: buf}
	n, err := Writei(dp, wio, off, direntSize)
	if err != 0 || n != direntSize {
		if err == 0 {
			err = -defs.EIO
		}
		return err
	}
	return 0
}

// DirUnlink zeroes the directory entry at byte offset off within dp,
// matching DirLink's slot convention (Inum == 0 marks an entry free). The
// caller is responsible for the target inode's nlink bookkeeping.
func DirUnlink(dp *Inode_t, off int) defs.Err_t {
	buf := make([]byte, direntSize)
	encodeDirent(Dirent_t{}, buf)
	wio := &Uio_t{KernBuf: buf}
	n, err := Writei(dp, wio, off, direntSize)
	if err != 0 {
		return err
	}
	if n != direntSize {
		return -defs.EIO
	}
	return 0
}

// IsDirEmpty reports whether dp contains only "." and ".." entries.
func IsDirEmpty(dp *Inode_t) bool {
	uio := &Uio_t{KernBuf: make([]byte, direntSize)}
	for off := 2 * direntSize; off < int(dp.Size); off += direntSize {
		n, err := Readi(dp, uio, off, direntSize)
		if err != 0 || n != direntSize {
			panic("fs.IsDirEmpty: short directory read")
		}
		de := decodeDirent(uio.KernBuf)
		if de.Inum != 0 {
			return false
		}
	}
	return true
}
