package similarity

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"icehunt/internal/logging"
)

// MatchResult records one corpus file that reached the threshold.
type MatchResult struct {
	Path      string  // path relative to the corpus root
	Score     float64 // best subtree cosine similarity
	SavedPath string  // where the full source was persisted
}

// BatchOptions configures a corpus-wide matching run.
type BatchOptions struct {
	CorpusRoot string
	OutputRoot string
	FileSuffix string
	Threshold  float64
	Workers    int
}

// MatchDirectory scores every candidate file under the corpus root against
// the snippet and persists full sources for files reaching the threshold.
// Each query is self-contained, so candidate files are scored in parallel
// on a fixed-size worker pool. A candidate that fails to parse is skipped
// and counts as no-match.
func MatchDirectory(ctx context.Context, snippetCode []byte, opts BatchOptions, logger *logging.Logger) ([]MatchResult, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FileSuffix == "" {
		opts.FileSuffix = ".rs"
	}

	var files []string
	err := filepath.WalkDir(opts.CorpusRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), opts.FileSuffix) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []MatchResult
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(opts.Workers)

	// Matchers are pooled rather than shared: the underlying parser keeps
	// per-parse state.
	matcherPool := sync.Pool{
		New: func() interface{} { return NewMatcher(opts.Threshold) },
	}

	for _, path := range files {
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}

			code, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("Skipping unreadable candidate", map[string]interface{}{
					"path": path, "error": err.Error(),
				})
				return nil
			}

			matcher := matcherPool.Get().(*Matcher)
			defer matcherPool.Put(matcher)

			matched, score, err := matcher.Matches(groupCtx, snippetCode, code)
			if err != nil {
				// Malformed candidate source is fatal to this unit only.
				logger.Warn("Skipping unparseable candidate", map[string]interface{}{
					"path": path, "error": err.Error(),
				})
				return nil
			}
			if !matched {
				return nil
			}

			saved, err := Persist(code, opts.CorpusRoot, path, opts.OutputRoot)
			if err != nil {
				logger.Error("Failed to persist match", map[string]interface{}{
					"path": path, "error": err.Error(),
				})
				return nil
			}

			rel, _ := filepath.Rel(opts.CorpusRoot, path)
			mu.Lock()
			results = append(results, MatchResult{Path: rel, Score: score, SavedPath: saved})
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}
