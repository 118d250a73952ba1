package fslog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bio"
)

// fakeDisk is an in-memory block device standing in for virtio, the same
// bio.Disk_i seam the fs package tests use.
type fakeDisk struct {
	blocks map[int][bio.BSIZE]byte
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{blocks: make(map[int][bio.BSIZE]byte)}
}

func (d *fakeDisk) Rw(b *bio.Buf_t, write bool) {
	if write {
		d.blocks[b.Block] = b.Data
	} else {
		b.Data = d.blocks[b.Block]
	}
}

const testLogStart = 2

func logSetup(t *testing.T) *fakeDisk {
	t.Helper()
	d := newFakeDisk()
	bio.Init()
	bio.Disk = d
	return d
}

func payloadBlock(fill byte) [bio.BSIZE]byte {
	var blk [bio.BSIZE]byte
	for i := range blk {
		blk[i] = fill
	}
	return blk
}

// writeRawHeader stamps a committed-transaction header directly onto the
// fake disk, simulating a crash that happened after the commit point but
// before install_trans finished.
func (d *fakeDisk) writeRawHeader(n int, homes ...int) {
	var blk [bio.BSIZE]byte
	putLe32(blk[:4], uint32(n))
	for i, h := range homes {
		putLe32(blk[4+4*i:], uint32(h))
	}
	d.blocks[testLogStart] = blk
}

func TestRecoveryReplaysCommittedTransaction(t *testing.T) {
	d := logSetup(t)

	logged := payloadBlock(0xaa)
	stale := payloadBlock(0x11)
	d.blocks[testLogStart+1] = logged // log slot 0
	d.blocks[100] = stale             // home block, pre-crash contents
	d.writeRawHeader(1, 100)

	Init(1, testLogStart)

	require.Equal(t, logged, d.blocks[100], "home block must hold the logged contents after replay")
	hdr := d.blocks[testLogStart]
	require.EqualValues(t, 0, le32(hdr[:4]), "header must be zeroed once recovery installs")
}

func TestRecoveryOnCleanDiskIsNoop(t *testing.T) {
	d := logSetup(t)

	content := payloadBlock(0x42)
	d.blocks[100] = content

	Init(1, testLogStart)
	require.Equal(t, content, d.blocks[100])

	// replaying recovery on an already-recovered disk changes nothing:
	// the header starts zero, so install_trans loops zero times.
	Init(1, testLogStart)
	require.Equal(t, content, d.blocks[100])
}

func TestEndOpCommitsToHomeBlocks(t *testing.T) {
	d := logSetup(t)
	Init(1, testLogStart)

	payload := payloadBlock(0x5c)

	BeginOp()
	b := bio.Bread(1, 100)
	b.Data = payload
	Lwrite(b)
	bio.Brelse(b)
	EndOp()

	require.Equal(t, payload, d.blocks[100], "committed data must reach the home block")
	hdr := d.blocks[testLogStart]
	require.EqualValues(t, 0, le32(hdr[:4]), "log must be empty after a full commit")
	require.Equal(t, 0, theLog.lh.n)
	require.Equal(t, 0, theLog.outstanding)
}

func TestLwriteAbsorbsRepeatedBlocks(t *testing.T) {
	logSetup(t)
	Init(1, testLogStart)

	BeginOp()
	b := bio.Bread(1, 100)
	b.Data[0] = 1
	Lwrite(b)
	b.Data[0] = 2
	Lwrite(b)
	require.Equal(t, 1, theLog.lh.n, "rewrites of one block reserve a single log slot")
	bio.Brelse(b)
	EndOp()
}

func TestLwriteOutsideTransactionPanics(t *testing.T) {
	logSetup(t)
	Init(1, testLogStart)

	b := bio.Bread(1, 100)
	defer bio.Brelse(b)
	require.Panics(t, func() { Lwrite(b) })
}
