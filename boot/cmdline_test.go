package boot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCmdlineSplitsWords(t *testing.T) {
	args, err := ParseCmdline("root=virtio0 console=uart0 loglevel=debug")
	require.NoError(t, err)
	require.Equal(t, []string{"root=virtio0", "console=uart0", "loglevel=debug"}, args)
}

func TestParseCmdlineHonorsQuoting(t *testing.T) {
	args, err := ParseCmdline(`init=/bin/sh initarg="hello world"`)
	require.NoError(t, err)
	require.Equal(t, []string{"init=/bin/sh", "initarg=hello world"}, args)
}

func TestParseCmdlineRejectsUnterminatedQuote(t *testing.T) {
	_, err := ParseCmdline(`console="uart0`)
	require.Error(t, err)
}

func TestParseCmdlineEmpty(t *testing.T) {
	args, err := ParseCmdline("")
	require.NoError(t, err)
	require.Empty(t, args)
}
