// Package sweep walks a source tree, drives the compiler runner over every
// unit not yet ledgered, and archives crash findings. Interrupted sweeps
// resume from the ledger with no duplicate work.
package sweep

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"icehunt/internal/archive"
	"icehunt/internal/compiler"
	"icehunt/internal/logging"
)

// FragmentMerger is the coverage hook: threshold-gated after every unit,
// unconditional at sweep end. Nil disables coverage bookkeeping.
type FragmentMerger interface {
	MaybeMerge(ctx context.Context) error
	Merge(ctx context.Context) error
}

// ICEObserver is notified of each archived finding. Used to persist run
// history; failures there never affect the sweep.
type ICEObserver func(relPath, signature string)

// Options configures one sweep.
type Options struct {
	Root       string
	FileSuffix string
	Workers    int
}

// Stats summarizes one sweep run.
type Stats struct {
	Total         int           // units found under the root
	Skipped       int           // already ledgered
	Processed     int           // newly processed this run
	Successes     int
	CompileErrors int
	Timeouts      int
	ICEFound      int
	SpawnFailures int // not ledgered; retried on the next run
	Duration      time.Duration
}

// Controller owns one sweep run over a source tree.
type Controller struct {
	opts     Options
	compiler compiler.Compiler
	ledger   *Ledger
	archiver *archive.Archiver
	merger   FragmentMerger
	logger   *logging.Logger

	// OnICE, when set, observes every archived finding.
	OnICE ICEObserver
}

// NewController wires a sweep over root. merger may be nil.
func NewController(opts Options, comp compiler.Compiler, ledger *Ledger, archiver *archive.Archiver, merger FragmentMerger, logger *logging.Logger) *Controller {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FileSuffix == "" {
		opts.FileSuffix = ".rs"
	}
	return &Controller{
		opts:     opts,
		compiler: comp,
		ledger:   ledger,
		archiver: archiver,
		merger:   merger,
		logger:   logger,
	}
}

var iceBanner = color.New(color.FgRed, color.Bold)

// Run executes the sweep. Per-unit work runs on a fixed-size worker pool;
// the ledger append and archive write are the only shared mutable
// resources and stay serialized behind one mutex. The ledger's last
// partial batch is flushed even when the run is cancelled, so a resumed
// sweep never repeats work recorded up to the last flush.
func (c *Controller) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	units, err := c.enumerate()
	if err != nil {
		return nil, err
	}
	stats.Total = len(units)

	c.logger.Info("Sweep starting", map[string]interface{}{
		"root":     c.opts.Root,
		"units":    len(units),
		"ledgered": c.ledger.Len(),
		"workers":  c.opts.Workers,
	})

	var (
		mu       sync.Mutex // serializes ledger, archive, merger, stats
		position atomic.Int64
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.opts.Workers)

	for _, rel := range units {
		if c.ledger.Contains(rel) {
			stats.Skipped++
			continue
		}

		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}

			idx := position.Add(1)
			c.logger.Progress("[%d/%d] checking %s", idx, stats.Total, truncatePath(rel, 50))

			result, err := c.compiler.Compile(groupCtx, filepath.Join(c.opts.Root, rel))
			if err != nil {
				// A compile killed by cancellation is neither processed
				// nor a spawn failure; the unit stays unledgered and the
				// next run retries it.
				if stderrors.Is(err, context.Canceled) {
					return err
				}
				// Spawn failures are not classifications: the unit is
				// not counted as processed and will be retried next run.
				mu.Lock()
				stats.SpawnFailures++
				mu.Unlock()
				c.logger.Error("Compiler invocation failed", map[string]interface{}{
					"unit": rel, "error": err.Error(),
				})
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			if result.IsICE() {
				c.logger.EndProgress()
				iceBanner.Fprintf(os.Stderr, "[ICE] %s (%s)\n", rel, result.MatchedSignature)
				if archiveErr := c.archiver.Archive(filepath.Join(c.opts.Root, rel), result.Output); archiveErr != nil {
					// The unit still counts as processed; the raw output
					// stays in the log for a manual re-archive.
					c.logger.Error("Failed to archive ICE report", map[string]interface{}{
						"unit": rel, "error": archiveErr.Error(), "output": result.Output,
					})
				} else {
					stats.ICEFound++
					if c.OnICE != nil {
						c.OnICE(rel, result.MatchedSignature)
					}
				}
			}

			// Every classified outcome is ledgered, timeouts included:
			// a pathologically slow unit must never be retried forever.
			if err := c.ledger.Append(rel); err != nil {
				return err
			}

			stats.Processed++
			switch result.Classification {
			case compiler.Success:
				stats.Successes++
			case compiler.CompileError:
				stats.CompileErrors++
			case compiler.Timeout:
				stats.Timeouts++
			}
			c.logger.Debug("Unit classified", map[string]interface{}{
				"unit":     rel,
				"outcome":  string(result.Classification),
				"duration": result.Duration.String(),
			})

			if c.merger != nil {
				if mergeErr := c.merger.MaybeMerge(groupCtx); mergeErr != nil {
					// Fragments are retained; retried at the next trigger.
					c.logger.Warn("Coverage merge failed", map[string]interface{}{
						"error": mergeErr.Error(),
					})
				}
			}
			return nil
		})
	}

	runErr := group.Wait()
	c.logger.EndProgress()

	if flushErr := c.ledger.Flush(); flushErr != nil && runErr == nil {
		runErr = flushErr
	}

	if c.merger != nil {
		if mergeErr := c.merger.Merge(context.WithoutCancel(ctx)); mergeErr != nil {
			c.logger.Warn("Final coverage merge failed", map[string]interface{}{
				"error": mergeErr.Error(),
			})
		}
	}

	stats.Duration = time.Since(start)
	return stats, runErr
}

// enumerate lists unit paths relative to the root, in walk order. Order is
// not stable across runs; the ledger is what guarantees exactly-once.
func (c *Controller) enumerate() ([]string, error) {
	var units []string
	err := filepath.WalkDir(c.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), c.opts.FileSuffix) {
			return nil
		}
		rel, err := filepath.Rel(c.opts.Root, path)
		if err != nil {
			return err
		}
		units = append(units, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

func truncatePath(path string, max int) string {
	if len(path) <= max {
		return path
	}
	return "..." + path[len(path)-max+3:]
}
