// Package coverage folds raw per-process coverage fragments into one
// cumulative profdata index, batching merges to bound tool invocations.
package coverage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"icehunt/internal/errors"
	"icehunt/internal/logging"
)

// fragmentPattern is the LLVM_PROFILE_FILE template. %p expands to the
// writing process id and %m to a binary signature, so concurrent compiler
// processes never collide on fragment names.
const fragmentPattern = "cov_%p_%m.profraw"

// fragmentGlob matches every pending fragment in the incoming directory.
const fragmentGlob = "*.profraw"

// Merger accumulates fragments under FragmentDir and merges them into the
// index at IndexPath once Threshold of them are pending.
type Merger struct {
	FragmentDir  string
	IndexPath    string
	Threshold    int
	ProfdataTool string

	logger *logging.Logger
}

// NewMerger creates a merger. The fragment directory is created if absent.
func NewMerger(fragmentDir, indexPath, profdataTool string, threshold int, logger *logging.Logger) (*Merger, error) {
	if err := os.MkdirAll(fragmentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating fragment directory: %w", err)
	}
	return &Merger{
		FragmentDir:  fragmentDir,
		IndexPath:    indexPath,
		Threshold:    threshold,
		ProfdataTool: profdataTool,
		logger:       logger,
	}, nil
}

// ProfileEnv returns the LLVM_PROFILE_FILE environment entry that routes a
// compiler process's coverage output into the fragment directory.
func (m *Merger) ProfileEnv() (string, error) {
	abs, err := filepath.Abs(m.FragmentDir)
	if err != nil {
		return "", err
	}
	return "LLVM_PROFILE_FILE=" + filepath.Join(abs, fragmentPattern), nil
}

// PendingFragments enumerates the fragments currently awaiting a merge.
func (m *Merger) PendingFragments() ([]string, error) {
	return filepath.Glob(filepath.Join(m.FragmentDir, fragmentGlob))
}

// MaybeMerge is called after every processed unit; it is a no-op until the
// pending fragment count reaches the threshold.
func (m *Merger) MaybeMerge(ctx context.Context) error {
	fragments, err := m.PendingFragments()
	if err != nil {
		return err
	}
	if len(fragments) < m.Threshold {
		return nil
	}
	return m.merge(ctx, fragments)
}

// Merge folds every currently pending fragment into the index, regardless
// of the threshold. Called once at sweep end so nothing is left behind.
func (m *Merger) Merge(ctx context.Context) error {
	fragments, err := m.PendingFragments()
	if err != nil {
		return err
	}
	if len(fragments) == 0 {
		return nil
	}
	return m.merge(ctx, fragments)
}

// merge runs the external merge tool over the snapshot of fragments taken
// by the caller plus the existing index, writing a replacement index that
// is renamed into place only on success. Fragments created after the
// snapshot are untouched and picked up by a later merge. On tool failure
// all fragments are retained for retry.
func (m *Merger) merge(ctx context.Context, fragments []string) error {
	m.logger.Progress("[merge] folding %d coverage fragments...", len(fragments))

	tmpPath := m.IndexPath + ".tmp"

	args := []string{"merge", "-sparse"}
	if _, err := os.Stat(m.IndexPath); err == nil {
		// Incremental update: the cumulative index joins the inputs.
		args = append(args, m.IndexPath)
	}
	args = append(args, fragments...)
	args = append(args, "-o", tmpPath)

	cmd := exec.CommandContext(ctx, m.ProfdataTool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.New(errors.MergeFailed,
			fmt.Sprintf("merging %d fragments: %s", len(fragments), stderr.String()), err)
	}

	if err := os.Rename(tmpPath, m.IndexPath); err != nil {
		_ = os.Remove(tmpPath)
		return errors.New(errors.MergeFailed, "replacing coverage index", err)
	}

	for _, f := range fragments {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("Failed to delete merged fragment", map[string]interface{}{
				"fragment": f, "error": err.Error(),
			})
		}
	}

	size := int64(0)
	if info, err := os.Stat(m.IndexPath); err == nil {
		size = info.Size()
	}
	m.logger.Info("Coverage fragments merged", map[string]interface{}{
		"fragments": len(fragments),
		"index":     m.IndexPath,
		"sizeBytes": size,
	})
	return nil
}
