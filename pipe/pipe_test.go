package pipe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundtrip(t *testing.T) {
	p := MkPipe()
	n, err := p.Write([]byte("hello"))
	require.Equal(t, 0, int(err))
	require.Equal(t, 5, n)

	dst := make([]byte, 5)
	n2, err2 := p.Read(dst)
	require.Equal(t, 0, int(err2))
	require.Equal(t, 5, n2)
	require.Equal(t, []byte("hello"), dst)
}

func TestReadAfterWriteCloseReturnsEOF(t *testing.T) {
	p := MkPipe()
	_, err := p.Write([]byte("x"))
	require.Equal(t, 0, int(err))
	p.CloseWrite()

	buf := make([]byte, 1)
	n, err := p.Read(buf)
	require.Equal(t, 0, int(err))
	require.Equal(t, 1, n)

	// buffer now drained and the write end closed: next read is EOF.
	n2, err2 := p.Read(buf)
	require.Equal(t, 0, int(err2))
	require.Equal(t, 0, n2)
}

func TestWriteAfterReadCloseFails(t *testing.T) {
	p := MkPipe()
	p.CloseRead()
	n, err := p.Write([]byte("x"))
	require.Equal(t, 0, n)
	require.Equal(t, -32, int(err))
}

func TestPartialReadLeavesRemainderBuffered(t *testing.T) {
	p := MkPipe()
	_, err := p.Write([]byte("abcdef"))
	require.Equal(t, 0, int(err))

	first := make([]byte, 3)
	n, err := p.Read(first)
	require.Equal(t, 0, int(err))
	require.Equal(t, 3, n)
	require.Equal(t, []byte("abc"), first)

	second := make([]byte, 3)
	n2, err2 := p.Read(second)
	require.Equal(t, 0, int(err2))
	require.Equal(t, 3, n2)
	require.Equal(t, []byte("def"), second)
}
