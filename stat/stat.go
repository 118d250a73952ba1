// Package stat mirrors the fixed-layout struct returned by fstat(2) to user
// space. Fields are unexported behind accessor methods so nothing
// outside this package can perturb the wire layout by accident.
package stat

import "unsafe"

// Stat_t is the user-visible file-status record. Field order and width
// match what user-space litc expects to unmarshal from the fd.Fstat
// syscall; Bytes exposes the raw encoding.
type Stat_t struct {
	dev    uint32
	ino    uint32
	typ    int16
	nlink  int16
	size   uint64
	uid    uint32
	gid    uint32
	mode   uint32 // packed mask_user<<6 | mask_group<<3 | mask_other
}

/// Wdev stores the device ID.
func (st *Stat_t) Wdev(v uint32) { st.dev = v }

/// Wino stores the inode number.
func (st *Stat_t) Wino(v uint32) { st.ino = v }

/// Wtype stores the inode type tag.
func (st *Stat_t) Wtype(v int16) { st.typ = v }

/// Wnlink stores the hard-link count.
func (st *Stat_t) Wnlink(v int16) { st.nlink = v }

/// Wsize stores the file size in bytes.
func (st *Stat_t) Wsize(v uint64) { st.size = v }

/// Wuid stores the owning user id.
func (st *Stat_t) Wuid(v uint32) { st.uid = v }

/// Wgid stores the owning group id.
func (st *Stat_t) Wgid(v uint32) { st.gid = v }

/// Wmode packs the three 3-bit permission fields into one word.
func (st *Stat_t) Wmode(user, group, other uint8) {
	st.mode = uint32(user&7)<<6 | uint32(group&7)<<3 | uint32(other&7)
}

/// Dev returns the stored device id.
func (st *Stat_t) Dev() uint32 { return st.dev }

/// Ino returns the stored inode number.
func (st *Stat_t) Ino() uint32 { return st.ino }

/// Type returns the stored inode type tag.
func (st *Stat_t) Type() int16 { return st.typ }

/// Size returns the stored size.
func (st *Stat_t) Size() uint64 { return st.size }

/// Uid returns the stored owner id.
func (st *Stat_t) Uid() uint32 { return st.uid }

/// Gid returns the stored group id.
func (st *Stat_t) Gid() uint32 { return st.gid }

/// Mode returns the packed permission mask.
func (st *Stat_t) Mode() uint32 { return st.mode }

/// Bytes exposes the raw little-endian-on-this-arch bytes of the structure
/// so the syscall layer can copyout it verbatim into user memory.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(Stat_t{})
	sl := (*[sz]uint8)(unsafe.Pointer(st))
	return sl[:]
}
