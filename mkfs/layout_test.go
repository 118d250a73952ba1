package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"defs"
)

func TestMakeRootLandsAtRootino(t *testing.T) {
	b := newBuilder(512, 64, defaultNlog)
	root := b.makeRoot(0, 0)
	require.Equal(t, rootino, root)

	di := b.readInode(root)
	require.Equal(t, defs.T_DIR, di.typ)
	require.EqualValues(t, 2, di.nlink)
}

func TestMakeDirLinksIntoParent(t *testing.T) {
	b := newBuilder(512, 64, defaultNlog)
	root := b.makeRoot(0, 0)

	sub := b.makeDir(root, "bin", 0, 0)

	parent := b.readInode(root)
	require.EqualValues(t, 3, parent.nlink)

	child := b.readInode(sub)
	require.Equal(t, defs.T_DIR, child.typ)
	require.EqualValues(t, 1, child.nlink)
}

func TestMakeFileRoundtripsContent(t *testing.T) {
	b := newBuilder(512, 64, defaultNlog)
	root := b.makeRoot(0, 0)

	content := []byte("#!/bin/sh\necho hi\n")
	inum := b.makeFile(root, "hello.sh", 0, 0, content)

	di := b.readInode(inum)
	require.Equal(t, defs.T_FILE, di.typ)
	require.EqualValues(t, len(content), di.size)

	got := make([]byte, len(content))
	b.readAt(inum, 0, got)
	require.Equal(t, content, got)
}

func TestMakeFileSpansMultipleBlocks(t *testing.T) {
	b := newBuilder(4096, 64, defaultNlog)
	root := b.makeRoot(0, 0)

	content := make([]byte, bsize*3+17)
	for i := range content {
		content[i] = byte(i)
	}
	inum := b.makeFile(root, "big", 0, 0, content)

	got := make([]byte, len(content))
	for off := 0; off < len(content); off += bsize {
		n := bsize
		if off+n > len(content) {
			n = len(content) - off
		}
		b.readAt(inum, off, got[off:off+n])
	}
	require.Equal(t, content, got)
}
