package fs

import (
	"ustr"

	"defs"
)

// Skipelem consumes one '/'-delimited path component from path, returning
// the component and the unconsumed remainder.
func Skipelem(path ustr.Ustr) (ustr.Ustr, ustr.Ustr) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if len(path) == 0 {
		return nil, nil
	}
	i := 0
	for i < len(path) && path[i] != '/' {
		i++
	}
	name := path[:i]
	for i < len(path) && path[i] == '/' {
		i++
	}
	return name, path[i:]
}

// Namex walks path starting from root (if absolute) or cwd (if relative),
// ilocking each directory only while looking up its next component:
// one level locked at a time, never the whole ancestor chain. If
// parentOnly is true, the walk stops one component short and returns the
// parent directory still
// ilocked (one reference held), with the final component's name written
// to *last. Keeping the parent locked closes the window where another
// process could unlink or relink the final component between lookup and
// the caller's modification. Otherwise it returns the fully resolved
// inode, unlocked, one reference held.
func Namex(dev int, cwd ustr.Ustr, path ustr.Ustr, parentOnly bool, last *ustr.Ustr) (*Inode_t, defs.Err_t) {
	var ip *Inode_t
	if len(path) > 0 && path[0] == '/' {
		ip = Iget(dev, Rootino)
	} else {
		root, err := resolveCwd(dev, cwd)
		if err != 0 {
			return nil, err
		}
		ip = root
	}

	name, rest := Skipelem(path)
	for name != nil {
		Ilock(ip)
		if ip.Type != defs.T_DIR {
			IunlockPut(ip)
			return nil, -defs.ENOTDIR
		}
		if parentOnly && len(rest) == 0 {
			*last = name
			return ip, 0
		}
		next, _, err := DirLookup(ip, name)
		if err != 0 {
			IunlockPut(ip)
			return nil, -defs.ENOENT
		}
		IunlockPut(ip)
		ip = next
		name, rest = Skipelem(rest)
	}
	if parentOnly {
		Iput(ip)
		return nil, -defs.ENOENT
	}
	return ip, 0
}

// resolveCwd returns a ref-counted handle on the inode the process's
// absolute cwd path names, so Namex always starts a relative walk from a
// real inode rather than a bare path string.
func resolveCwd(dev int, cwd ustr.Ustr) (*Inode_t, defs.Err_t) {
	if len(cwd) == 0 {
		return Iget(dev, Rootino), 0
	}
	var last ustr.Ustr
	return Namex(dev, nil, cwd, false, &last)
}

// Namei resolves path to its inode (unlocked, one reference held).
func Namei(dev int, cwd, path ustr.Ustr) (*Inode_t, defs.Err_t) {
	var last ustr.Ustr
	return Namex(dev, cwd, path, false, &last)
}

// NameiParent resolves path's parent directory (locked, one reference
// held) and writes the final path component to *name.
func NameiParent(dev int, cwd, path ustr.Ustr, name *ustr.Ustr) (*Inode_t, defs.Err_t) {
	return Namex(dev, cwd, path, true, name)
}

// Create implements the shared core of sys_open(O_CREATE), sys_mkdir,
// and sys_mknod: resolve path's parent, fail if the name already exists
// with a type mismatch, otherwise allocate a fresh inode of typ and link
// it into the parent.
func Create(dev int, cwd, path ustr.Ustr, typ int16, major, minor int16, uid, gid uint32) (*Inode_t, defs.Err_t) {
	var name ustr.Ustr
	dp, err := NameiParent(dev, cwd, path, &name)
	if err != 0 {
		return nil, err
	}

	if existing, _, eerr := DirLookup(dp, name); eerr == 0 {
		IunlockPut(dp)
		Ilock(existing)
		if typ == defs.T_FILE && (existing.Type == defs.T_FILE || existing.Type == defs.T_DEVICE) {
			return existing, 0
		}
		IunlockPut(existing)
		return nil, -defs.EEXIST
	}

	ip, err := Ialloc(dev, typ)
	if err != 0 {
		IunlockPut(dp)
		return nil, err
	}
	Ilock(ip)
	ip.Major = major
	ip.Minor = minor
	ip.Nlink = 1
	ip.Uid = uid
	ip.Gid = gid
	ip.MaskUser, ip.MaskGroup, ip.MaskOther = 7, 5, 5
	Iupdate(ip)

	if typ == defs.T_DIR {
		dp.Nlink++
		Iupdate(dp)
		if derr := DirLink(ip, ustr.MkUstr("."), ip.Inum, uid, gid, 7, 5, 5); derr != 0 {
			panic("fs.Create: dirlink . failed")
		}
		if derr := DirLink(ip, ustr.MkUstr(".."), dp.Inum, uid, gid, 7, 5, 5); derr != 0 {
			panic("fs.Create: dirlink .. failed")
		}
	}

	if derr := DirLink(dp, name, ip.Inum, uid, gid, 7, 5, 5); derr != 0 {
		panic("fs.Create: dirlink failed")
	}

	IunlockPut(dp)
	return ip, 0
}
