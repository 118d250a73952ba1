package spinlock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func withFakeHart(t *testing.T, id int) {
	t.Helper()
	prev := hartID
	hartID = func() int { return id }
	t.Cleanup(func() { hartID = prev })
}

func TestLockUnlockRoundtrip(t *testing.T) {
	withFakeHart(t, 0)
	l := MkLock("test")
	require.False(t, l.Holding())
	l.Lock()
	require.True(t, l.Holding())
	l.Unlock()
	require.False(t, l.Holding())
}

func TestDoubleLockPanics(t *testing.T) {
	withFakeHart(t, 0)
	l := MkLock("test")
	l.Lock()
	defer l.Unlock()
	require.Panics(t, func() { l.Lock() })
}

func TestUnlockByNonHolderPanics(t *testing.T) {
	l := MkLock("test")
	withFakeHart(t, 0)
	l.Lock()

	// Unlock must panic when attempted as a different hart, since Holding()
	// checks hart identity, not just the locked bit.
	hartID = func() int { return 1 }
	require.Panics(t, func() { l.Unlock() })

	hartID = func() int { return 0 }
	l.Unlock()
}

func TestNestedPushOffRestoresInterruptState(t *testing.T) {
	withFakeHart(t, 2)
	a := MkLock("outer")
	b := MkLock("inner")
	a.Lock()
	b.Lock()
	require.True(t, a.Holding())
	require.True(t, b.Holding())
	b.Unlock()
	a.Unlock()
	require.False(t, a.Holding())
	require.False(t, b.Holding())
}
