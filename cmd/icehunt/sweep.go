package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"icehunt/internal/archive"
	"icehunt/internal/compiler"
	"icehunt/internal/config"
	"icehunt/internal/coverage"
	"icehunt/internal/errors"
	"icehunt/internal/history"
	"icehunt/internal/sweep"
)

var (
	sweepRoot      string
	sweepLedger    string
	sweepArchive   string
	sweepBatchSize int
	sweepTimeout   int
	sweepWorkers   int
	sweepToolchain string
	sweepSigs      string // Path to a YAML crash-signature file
	sweepCoverage  bool   // Force coverage mode on regardless of config
	sweepNoHistory bool   // Skip run-history recording
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Compile every pending source file and archive compiler crashes",
	Long: `Walks the sweep root, compiles every source file not yet recorded in
the ledger, and classifies each outcome. Files whose compiler output matches
a crash signature are archived together with the full diagnostics.

The ledger makes sweeps resumable: interrupt with Ctrl-C at any time and the
next run skips everything already processed.

Examples:
  icehunt sweep                        # Sweep with configured defaults
  icehunt sweep --workers 8            # Parallel sweep
  icehunt sweep --toolchain beta       # Use another toolchains.toml profile
  icehunt sweep --coverage             # Collect and merge coverage fragments`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepRoot, "root", "", "Directory tree to sweep (default from config)")
	sweepCmd.Flags().StringVar(&sweepLedger, "ledger", "", "Ledger file path (default from config)")
	sweepCmd.Flags().StringVar(&sweepArchive, "archive", "", "Archive root for findings (default from config)")
	sweepCmd.Flags().IntVar(&sweepBatchSize, "batch-size", 0, "Ledger entries per durable flush (default from config)")
	sweepCmd.Flags().IntVar(&sweepTimeout, "timeout", 0, "Per-file compile timeout in seconds (default from config)")
	sweepCmd.Flags().IntVar(&sweepWorkers, "workers", 0, "Parallel compile workers (default from config)")
	sweepCmd.Flags().StringVar(&sweepToolchain, "toolchain", "", "Toolchain profile name (default from config)")
	sweepCmd.Flags().StringVar(&sweepSigs, "signatures", "", "YAML file of crash signatures (default: built-in set)")
	sweepCmd.Flags().BoolVar(&sweepCoverage, "coverage", false, "Enable coverage fragment collection and merging")
	sweepCmd.Flags().BoolVar(&sweepNoHistory, "no-history", false, "Do not record this run in the history database")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	workDir := mustGetWorkDir()
	cfg := loadConfigOrExit(workDir)
	applySweepFlags(cmd, cfg)
	logger := newLogger(cfg)

	toolchains, err := config.LoadToolchains(resolvePath(workDir, cfg.Sweep.ToolchainsFile))
	if err != nil {
		return err
	}
	toolchainName := cfg.Sweep.Toolchain
	if toolchainName == "" {
		toolchainName = toolchains.Default
	}
	profile, err := toolchains.Resolve(toolchainName)
	if err != nil {
		return err
	}

	signatures, err := compiler.LoadSignatures(resolvePath(workDir, cfg.Sweep.SignaturesFile))
	if err != nil {
		return err
	}

	runner := compiler.NewRunner(profile, signatures, time.Duration(cfg.Sweep.TimeoutSec)*time.Second)

	var merger *coverage.Merger
	if cfg.Coverage.Enabled {
		profdata := profile.ProfdataTool
		if profdata == "" {
			profdata = "llvm-profdata"
		}
		merger, err = coverage.NewMerger(
			resolvePath(workDir, cfg.Coverage.FragmentDir),
			resolvePath(workDir, cfg.Coverage.IndexPath),
			profdata, cfg.Coverage.MergeThreshold, logger,
		)
		if err != nil {
			return err
		}
		profileEnv, err := merger.ProfileEnv()
		if err != nil {
			return err
		}
		runner.ExtraEnv = append(runner.ExtraEnv, profileEnv)
	}

	ledger, err := sweep.OpenLedger(resolvePath(workDir, cfg.Sweep.LedgerPath), cfg.Sweep.BatchSize)
	if err != nil {
		return err
	}
	defer ledger.Close()

	root := resolvePath(workDir, cfg.Sweep.Root)
	archiver := archive.NewArchiver(root, resolvePath(workDir, cfg.Sweep.ArchiveRoot))

	ctrl := sweep.NewController(sweep.Options{
		Root:       root,
		FileSuffix: cfg.Sweep.FileSuffix,
		Workers:    cfg.Sweep.Workers,
	}, runner, ledger, archiver, mergerOrNil(merger), logger)

	var store *history.Store
	var runID string
	if cfg.History.Enabled && !sweepNoHistory {
		store, err = history.Open(workDir, logger)
		if err != nil {
			// History is bookkeeping, never a reason to skip the sweep.
			logger.Warn("Run history unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer store.Close()
			if runID, err = store.BeginRun(cfg.Sweep.Root, toolchainName); err != nil {
				logger.Warn("Failed to record run start", map[string]interface{}{
					"error": err.Error(),
				})
				runID = ""
			}
		}
	}
	if store != nil && runID != "" {
		ctrl.OnICE = func(relPath, signature string) {
			if err := store.RecordFinding(runID, relPath, signature); err != nil {
				logger.Warn("Failed to record finding", map[string]interface{}{
					"unit": relPath, "error": err.Error(),
				})
			}
		}
	}

	// Ctrl-C cancels the sweep; in-flight compiles finish or time out,
	// the ledger flushes, and the next run resumes from there.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, runErr := ctrl.Run(ctx)

	if stats != nil {
		if store != nil && runID != "" {
			if err := store.FinishRun(runID, stats); err != nil {
				logger.Warn("Failed to record run completion", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
		printSweepSummary(stats, cfg.Coverage.Enabled)
	}

	if stderrors.Is(runErr, context.Canceled) {
		logger.Info("Sweep interrupted; progress saved to ledger", nil)
		return nil
	}
	if runErr != nil {
		var herr *errors.HarnessError
		if stderrors.As(runErr, &herr) {
			for _, fix := range errors.GetSuggestedFixes(herr.Code) {
				fmt.Fprintf(os.Stderr, "Suggested fix: %s\n  %s\n", fix.Command, fix.Description)
			}
		}
		return runErr
	}
	return nil
}

// applySweepFlags overlays explicitly-set CLI flags onto the config.
func applySweepFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("root") {
		cfg.Sweep.Root = sweepRoot
	}
	if cmd.Flags().Changed("ledger") {
		cfg.Sweep.LedgerPath = sweepLedger
	}
	if cmd.Flags().Changed("archive") {
		cfg.Sweep.ArchiveRoot = sweepArchive
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Sweep.BatchSize = sweepBatchSize
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Sweep.TimeoutSec = sweepTimeout
	}
	if cmd.Flags().Changed("workers") {
		cfg.Sweep.Workers = sweepWorkers
	}
	if cmd.Flags().Changed("toolchain") {
		cfg.Sweep.Toolchain = sweepToolchain
	}
	if cmd.Flags().Changed("signatures") {
		cfg.Sweep.SignaturesFile = sweepSigs
	}
	if sweepCoverage {
		cfg.Coverage.Enabled = true
	}
}

// mergerOrNil keeps the controller's nil check honest: a typed nil
// pointer inside the interface would not compare equal to nil.
func mergerOrNil(m *coverage.Merger) sweep.FragmentMerger {
	if m == nil {
		return nil
	}
	return m
}

func printSweepSummary(stats *sweep.Stats, coverageEnabled bool) {
	bold := color.New(color.Bold)
	fmt.Println()
	bold.Println("Sweep summary")
	fmt.Printf("  Files found:     %d\n", stats.Total)
	fmt.Printf("  Already checked: %d\n", stats.Skipped)
	fmt.Printf("  Processed:       %d\n", stats.Processed)
	fmt.Printf("  Clean compiles:  %d\n", stats.Successes)
	fmt.Printf("  Compile errors:  %d\n", stats.CompileErrors)
	fmt.Printf("  Timeouts:        %d\n", stats.Timeouts)
	if stats.SpawnFailures > 0 {
		fmt.Printf("  Spawn failures:  %d (will be retried next run)\n", stats.SpawnFailures)
	}
	if stats.ICEFound > 0 {
		color.New(color.FgRed, color.Bold).Printf("  ICE found:       %d\n", stats.ICEFound)
	} else {
		fmt.Printf("  ICE found:       0\n")
	}
	fmt.Printf("  Duration:        %s\n", stats.Duration.Round(time.Millisecond))
}
