// Package archive persists crash-triggering source units together with
// their raw diagnostic output, mirroring the sweep tree's layout.
package archive

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"icehunt/internal/errors"
)

// errLogSuffix is appended to the unit's stem for the diagnostic file.
const errLogSuffix = ".err.log"

// Archiver mirrors sweep-relative paths under an archive root.
type Archiver struct {
	sweepRoot   string
	archiveRoot string
}

// NewArchiver creates an archiver mirroring paths relative to sweepRoot
// under archiveRoot.
func NewArchiver(sweepRoot, archiveRoot string) *Archiver {
	return &Archiver{
		sweepRoot:   sweepRoot,
		archiveRoot: archiveRoot,
	}
}

// Archive copies the unit's source verbatim into the mirrored location and
// writes the diagnostic text to a sibling <stem>.err.log. Re-archiving the
// same unit overwrites the prior report. The two writes are not
// transactional: a crash in between can leave a source copy without its
// log, which a later sweep will not retry since the unit stays ledgered.
func (a *Archiver) Archive(unitPath, diagnosticText string) error {
	rel, err := filepath.Rel(a.sweepRoot, unitPath)
	if err != nil {
		return errors.New(errors.ArchiveFailed, "relativizing "+unitPath, err)
	}

	targetDir := filepath.Join(a.archiveRoot, filepath.Dir(rel))
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return errors.New(errors.ArchiveFailed, "creating archive directory", err)
	}

	name := filepath.Base(unitPath)
	if err := copyFile(unitPath, filepath.Join(targetDir, name)); err != nil {
		return errors.New(errors.ArchiveFailed, "copying source for "+rel, err)
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	logPath := filepath.Join(targetDir, stem+errLogSuffix)
	if err := os.WriteFile(logPath, []byte(diagnosticText), 0644); err != nil {
		return errors.New(errors.ArchiveFailed, "writing diagnostic log for "+rel, err)
	}

	return nil
}

// copyFile copies src to dst, carrying over the source's mode and mtime.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
