package ustr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"defs"
)

func TestEqBoundsComparisonAtDirsiz(t *testing.T) {
	a := MkUstr("a-very-long-component-name")
	b := MkUstr("a-very-long-co_DIFFERENT_TAIL")
	// both agree through the first DIRSIZ bytes, so namecmp-style
	// comparison treats them as the same directory entry.
	require.True(t, a.Eq(b))

	c := MkUstr("b-very-long-component-name")
	require.False(t, a.Eq(c))
}

func TestEqHandlesUnterminatedNames(t *testing.T) {
	var raw [defs.DIRSIZ]uint8
	copy(raw[:], "exactly14bytes")
	require.True(t, MkUstrRaw(raw[:]).Eq(MkUstr("exactly14bytes")))
}

func TestStringStopsAtNul(t *testing.T) {
	u := MkUstrRaw([]uint8{'i', 'n', 'i', 't', 0, 'x', 'x'})
	require.Equal(t, "init", u.String())
}

func TestTruncateSilentlyCapsAtDirsiz(t *testing.T) {
	long := MkUstr("this-name-is-much-longer-than-fits")
	out := long.Truncate()
	require.Equal(t, defs.DIRSIZ, len(out))
	require.Equal(t, []uint8(long[:defs.DIRSIZ]), out[:])
}
