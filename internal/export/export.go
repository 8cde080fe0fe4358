// Package export packs archived findings into a single compressed
// bundle for hand-off to a bug report or another machine.
package export

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"icehunt/internal/errors"
	"icehunt/internal/logging"
)

// Bundler writes zstd-compressed tar bundles of an archive root.
type Bundler struct {
	archiveRoot string
	logger      *logging.Logger
}

// NewBundler creates a bundler over the given archive root.
func NewBundler(archiveRoot string, logger *logging.Logger) *Bundler {
	return &Bundler{archiveRoot: archiveRoot, logger: logger}
}

// Write bundles every file under the archive root into outPath and
// returns the number of files packed. Paths inside the bundle are
// relative to the archive root, so findings unpack into the same
// mirrored layout they were archived in.
func (b *Bundler) Write(outPath string) (int, error) {
	info, err := os.Stat(b.archiveRoot)
	if err != nil || !info.IsDir() {
		return 0, errors.New(errors.ArchiveFailed, "archive root not found", err)
	}

	tmpPath := outPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, errors.New(errors.ArchiveFailed, "failed to create bundle", err)
	}

	count, err := b.pack(out)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, errors.New(errors.ArchiveFailed, "failed to write bundle", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return 0, errors.New(errors.ArchiveFailed, "failed to finalize bundle", err)
	}

	b.logger.Info("Findings bundle written", map[string]interface{}{
		"path":  outPath,
		"files": count,
	})
	return count, nil
}

func (b *Bundler) pack(out io.Writer) (int, error) {
	zw, err := zstd.NewWriter(out)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(zw)

	count := 0
	walkErr := filepath.WalkDir(b.archiveRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.archiveRoot, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(tw, f)
		f.Close()
		if copyErr != nil {
			return copyErr
		}
		count++
		return nil
	})
	if walkErr != nil {
		tw.Close()
		zw.Close()
		return count, walkErr
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return count, err
	}
	return count, zw.Close()
}
