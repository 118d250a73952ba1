// Package virtio drives the VirtIO MMIO block device on the QEMU virt
// board: legacy-free VirtIO 1.1 initialization, a single
// split virtqueue of NUM descriptors, and the disk_rw/interrupt pair that
// the buffer cache (package bio) and the trap dispatcher (package trap)
// call into.
//
// The MMIO register window and the three descriptor/avail/used pages
// are reached through mem's identity-mapped physical addressing; the
// driver implements bio.Disk_i so package boot can wire bio.Disk to a
// live device.
package virtio

import (
	"unsafe"

	"spinlock"

	"bio"
	"mem"
	"proc"
	"riscv"
)

// Base is the VirtIO MMIO disk's window on the QEMU virt board.
const Base uintptr = 0x10001000

const (
	regMagic          = 0x000
	regVersion        = 0x004
	regDeviceID       = 0x008
	regDeviceFeatures = 0x010
	regDriverFeatures = 0x020
	regQueueSel       = 0x030
	regQueueNumMax    = 0x034
	regQueueNum       = 0x038
	regQueueReady     = 0x044
	regQueueNotify    = 0x050
	regInterruptStat  = 0x060
	regInterruptAck   = 0x064
	regStatus         = 0x070
	regQueueDescLow   = 0x080
	regQueueDescHigh  = 0x084
	regQueueAvailLow  = 0x090
	regQueueAvailHigh = 0x094
	regQueueUsedLow   = 0x0a0
	regQueueUsedHigh  = 0x0a4
)

const (
	statusAcknowledge = 1
	statusDriver      = 2
	statusFailed      = 128
	statusFeaturesOK  = 8
	statusDriverOK    = 4
)

const (
	featureRO           = 1 << 5
	featureSCSI         = 1 << 7
	featureConfigWCE    = 1 << 11
	featureMQ           = 1 << 12
	featureAnyLayout    = 1 << 27
	featureRingIndirect = 1 << 28
	featureRingEventIdx = 1 << 29
)

const expectedMagic = 0x74726976
const expectedVersion = 2
const expectedDeviceID = 2

// NUM is the fixed descriptor-ring size.
const NUM = 8

const (
	descFNext  = 1
	descFWrite = 2
)

type vringDesc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

type vringAvail struct {
	Flags uint16
	Idx   uint16
	Ring  [NUM]uint16
}

type vringUsedElem struct {
	ID  uint32
	Len uint32
}

type vringUsed struct {
	Flags uint16
	Idx   uint16
	Ring  [NUM]vringUsedElem
}

type blkReq struct {
	Type     uint32
	Reserved uint32
	Sector   uint64
}

const (
	blkReqIn  = 0 // read from device
	blkReqOut = 1 // write to device
)

func reg32(off uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(Base + off))
}

var disk struct {
	lk    *spinlock.Spinlock_t
	desc  *[NUM]vringDesc
	avail *vringAvail
	used  *vringUsed

	free    [NUM]bool
	usedIdx uint16

	info [NUM]struct {
		b      *bio.Buf_t
		status uint8
	}
	ops [NUM]blkReq
}

// Init brings up the device following the VirtIO 1.1 legacy-free MMIO
// negotiation sequence exactly.
func Init() {
	if *reg32(regMagic) != expectedMagic || *reg32(regVersion) != expectedVersion || *reg32(regDeviceID) != expectedDeviceID {
		panic("virtio.Init: unrecognized device")
	}

	*reg32(regStatus) = 0
	*reg32(regStatus) |= statusAcknowledge
	*reg32(regStatus) |= statusDriver

	features := *reg32(regDeviceFeatures)
	features &^= featureRO | featureSCSI | featureConfigWCE | featureMQ
	features &^= featureAnyLayout | featureRingIndirect | featureRingEventIdx
	*reg32(regDriverFeatures) = features
	*reg32(regStatus) |= statusFeaturesOK
	if *reg32(regStatus)&statusFeaturesOK == 0 {
		panic("virtio.Init: FEATURES_OK rejected by device")
	}

	*reg32(regQueueSel) = 0
	if *reg32(regQueueReady) != 0 {
		panic("virtio.Init: queue 0 already in use")
	}
	max := *reg32(regQueueNumMax)
	if max == 0 || max < NUM {
		panic("virtio.Init: queue too small")
	}

	descPa, ok1 := mem.Kalloc()
	availPa, ok2 := mem.Kalloc()
	usedPa, ok3 := mem.Kalloc()
	if !ok1 || !ok2 || !ok3 {
		panic("virtio.Init: out of memory for virtqueue")
	}
	zeroPage(descPa)
	zeroPage(availPa)
	zeroPage(usedPa)

	disk.lk = spinlock.MkLock("virtio_disk")
	disk.desc = (*[NUM]vringDesc)(unsafe.Pointer(mem.Dmap(descPa)))
	disk.avail = (*vringAvail)(unsafe.Pointer(mem.Dmap(availPa)))
	disk.used = (*vringUsed)(unsafe.Pointer(mem.Dmap(usedPa)))
	for i := range disk.free {
		disk.free[i] = true
	}

	*reg32(regQueueNum) = NUM
	*reg32(regQueueDescLow) = uint32(descPa)
	*reg32(regQueueDescHigh) = uint32(uint64(descPa) >> 32)
	*reg32(regQueueAvailLow) = uint32(availPa)
	*reg32(regQueueAvailHigh) = uint32(uint64(availPa) >> 32)
	*reg32(regQueueUsedLow) = uint32(usedPa)
	*reg32(regQueueUsedHigh) = uint32(uint64(usedPa) >> 32)
	*reg32(regQueueReady) = 1

	*reg32(regStatus) |= statusDriverOK

	bio.Disk = diskDev{}
}

func zeroPage(pa mem.Pa_t) {
	pg := mem.Dmap8(pa)
	for i := range pg {
		pg[i] = 0
	}
}

// diskDev implements bio.Disk_i.
type diskDev struct{}

func (diskDev) Rw(b *bio.Buf_t, write bool) { Rw(b, write) }

// allocDesc claims a free descriptor slot. The only recovery for an
// exhausted ring is sleeping until a slot frees up, which allocChain's
// caller handles.
func allocDesc() (int, bool) {
	for i := range disk.free {
		if disk.free[i] {
			disk.free[i] = false
			return i, true
		}
	}
	return 0, false
}

func freeDesc(i int) {
	disk.desc[i] = vringDesc{}
	disk.free[i] = true
	proc.Wakeup(&disk.free)
}

func allocChain(n int) []int {
	idxs := make([]int, n)
	for i := 0; i < n; i++ {
		idx, ok := allocDesc()
		if !ok {
			for _, prev := range idxs[:i] {
				freeDesc(prev)
			}
			return nil
		}
		idxs[i] = idx
	}
	return idxs
}

// Rw performs a synchronous (from the caller's point of view, blocking via
// proc.Sleep) single-block read or write.
func Rw(b *bio.Buf_t, write bool) {
	sector := uint64(b.Block) * (bio.BSIZE / 512)

	disk.lk.Lock()

	var idxs []int
	for {
		idxs = allocChain(3)
		if idxs != nil {
			break
		}
		proc.Sleep(&disk.free, disk.lk)
	}

	req := blkReq{Sector: sector}
	if write {
		req.Type = blkReqOut
	} else {
		req.Type = blkReqIn
	}
	disk.ops[idxs[0]] = req

	disk.desc[idxs[0]] = vringDesc{
		Addr:  uint64(uintptr(unsafe.Pointer(&disk.ops[idxs[0]]))),
		Len:   uint32(unsafe.Sizeof(blkReq{})),
		Flags: descFNext,
		Next:  uint16(idxs[1]),
	}

	dataFlags := uint16(descFNext)
	if !write {
		dataFlags |= descFWrite
	}
	disk.desc[idxs[1]] = vringDesc{
		Addr:  uint64(uintptr(unsafe.Pointer(&b.Data[0]))),
		Len:   uint32(len(b.Data)),
		Flags: dataFlags,
		Next:  uint16(idxs[2]),
	}

	disk.info[idxs[0]].status = 0xff
	disk.desc[idxs[2]] = vringDesc{
		Addr:  uint64(uintptr(unsafe.Pointer(&disk.info[idxs[0]].status))),
		Len:   1,
		Flags: descFWrite,
	}

	disk.info[idxs[0]].b = b
	b.Disk = true

	disk.avail.Ring[disk.avail.Idx%NUM] = uint16(idxs[0])
	riscv.Fence() // descriptor chain and ring slot visible before idx moves
	disk.avail.Idx++
	riscv.Fence() // idx visible before the device is kicked
	*reg32(regQueueNotify) = 0

	for b.Disk {
		proc.Sleep(b, disk.lk)
	}

	disk.info[idxs[0]].b = nil
	freeDesc(idxs[2])
	freeDesc(idxs[1])
	freeDesc(idxs[0])

	disk.lk.Unlock()
}

// Intr acknowledges the interrupt and retires every newly completed
// request in the used ring.
func Intr() {
	*reg32(regInterruptAck) = *reg32(regInterruptStat) & 0x3

	disk.lk.Lock()
	riscv.Fence() // used ring contents visible before idx is compared
	for disk.usedIdx != disk.used.Idx {
		riscv.Fence()
		elem := disk.used.Ring[disk.usedIdx%NUM]
		id := int(elem.ID)
		if disk.info[id].status != 0 {
			panic("virtio.Intr: device reported request failure")
		}
		b := disk.info[id].b
		if b != nil {
			b.Disk = false
			proc.Wakeup(b)
		}
		disk.usedIdx++
	}
	disk.lk.Unlock()
}
