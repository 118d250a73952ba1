package sleeplock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundtrip(t *testing.T) {
	l := MkLock("test")
	require.False(t, l.Holding())
	l.Acquire()
	require.True(t, l.Holding())
	l.Release()
	require.False(t, l.Holding())
}
