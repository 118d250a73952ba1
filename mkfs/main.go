package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
)

// Default layout sizes, generous enough for a small skeleton tree without
// forcing every invocation to size its own image.
const (
	defaultNblock  = 8192
	defaultNinodes = 800
	defaultNlog    = 30 // matches fslog.LOGSIZE
)

var (
	flagOut      string
	flagSkel     string
	flagNblock   int
	flagNinodes  int
	flagCompress bool
	flagUid      uint32
	flagGid      uint32
)

func main() {
	root := &cobra.Command{
		Use:   "mkfs",
		Short: "build a bootable fs.img from a host skeleton directory",
		Long: "mkfs lays out a fresh on-disk filesystem image (superblock, log, " +
			"inode table, free-block bitmap, root directory) and copies a host " +
			"directory tree into it, producing the fs.img the kernel's virtio " +
			"disk is backed by.",
		RunE: runMkfs,
	}
	flags := root.Flags()
	flags.StringVar(&flagOut, "out", "fs.img", "output image path")
	flags.StringVar(&flagSkel, "skel", "", "host directory to copy into the image root (optional)")
	flags.IntVar(&flagNblock, "nblock", defaultNblock, "total blocks in the image")
	flags.IntVar(&flagNinodes, "ninodes", defaultNinodes, "number of inode slots")
	flags.BoolVar(&flagCompress, "compress", false, "gzip the output image (written as <out>.gz)")
	flags.Uint32Var(&flagUid, "uid", 0, "owner uid stamped on every created inode")
	flags.Uint32Var(&flagGid, "gid", 0, "owner gid stamped on every created inode")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMkfs(cmd *cobra.Command, args []string) error {
	buildID := uuid.New()
	fmt.Fprintf(cmd.OutOrStdout(), "mkfs: build %s, writing %s (%d blocks, %d inodes)\n",
		buildID, flagOut, flagNblock, flagNinodes)

	lock := flock.New(flagOut + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("mkfs: locking %s: %w", flagOut, err)
	}
	if !locked {
		return fmt.Errorf("mkfs: %s is locked by another mkfs run", flagOut)
	}
	defer lock.Unlock()

	b := newBuilder(flagNblock, flagNinodes, defaultNlog)
	root := b.makeRoot(flagUid, flagGid)

	if flagSkel != "" {
		if err := addSkeleton(b, root, flagSkel); err != nil {
			return err
		}
	}

	return writeOut(b.im)
}

// addSkeleton walks skelDir and replicates its directory/file structure
// under parentInum.
func addSkeleton(b *builder, rootInum int, skelDir string) error {
	dirInums := map[string]int{".": rootInum}

	return filepath.WalkDir(skelDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("mkfs: walking %q: %w", path, err)
		}
		rel := strings.TrimPrefix(path, skelDir)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
		if rel == "" {
			return nil
		}

		parentRel := filepath.Dir(rel)
		parentInum, ok := dirInums[parentRel]
		if !ok {
			return fmt.Errorf("mkfs: %q has no known parent directory", rel)
		}
		name := filepath.Base(rel)

		if d.IsDir() {
			inum := b.makeDir(parentInum, name, flagUid, flagGid)
			dirInums[rel] = inum
			return nil
		}

		content, rerr := os.ReadFile(path)
		if rerr != nil {
			return fmt.Errorf("mkfs: reading %q: %w", path, rerr)
		}
		b.makeFile(parentInum, name, flagUid, flagGid, content)
		return nil
	})
}

// writeOut flushes im to flagOut, gzip-compressing to <out>.gz instead
// when --compress is set.
func writeOut(im *image) error {
	path := flagOut
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("mkfs: creating %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz io.WriteCloser
	if flagCompress {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if _, err := w.Write(im.data); err != nil {
		return fmt.Errorf("mkfs: writing %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("mkfs: finishing gzip stream for %s: %w", path, err)
		}
	}
	return nil
}
