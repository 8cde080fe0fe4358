package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"icehunt/internal/config"
	"icehunt/internal/coverage"
)

var (
	mergeFragmentDir string
	mergeIndexPath   string
	mergeProfdata    string
)

var mergeCoverageCmd = &cobra.Command{
	Use:   "merge-coverage",
	Short: "Fold pending coverage fragments into the cumulative index",
	Long: `Merges every pending .profraw fragment into the cumulative coverage
index, regardless of the batching threshold. Useful after an interrupted
coverage sweep or before reading the index with llvm-cov.

Examples:
  icehunt merge-coverage
  icehunt merge-coverage --profdata /opt/llvm/bin/llvm-profdata`,
	RunE: runMergeCoverage,
}

func init() {
	mergeCoverageCmd.Flags().StringVar(&mergeFragmentDir, "fragment-dir", "", "Fragment directory (default from config)")
	mergeCoverageCmd.Flags().StringVar(&mergeIndexPath, "index", "", "Cumulative index path (default from config)")
	mergeCoverageCmd.Flags().StringVar(&mergeProfdata, "profdata", "", "llvm-profdata binary (default: toolchain profile, then PATH)")
	rootCmd.AddCommand(mergeCoverageCmd)
}

func runMergeCoverage(cmd *cobra.Command, args []string) error {
	workDir := mustGetWorkDir()
	cfg := loadConfigOrExit(workDir)
	logger := newLogger(cfg)

	fragmentDir := resolvePath(workDir, cfg.Coverage.FragmentDir)
	indexPath := resolvePath(workDir, cfg.Coverage.IndexPath)
	if cmd.Flags().Changed("fragment-dir") {
		fragmentDir = mergeFragmentDir
	}
	if cmd.Flags().Changed("index") {
		indexPath = mergeIndexPath
	}

	profdata := mergeProfdata
	if profdata == "" {
		toolchains, err := config.LoadToolchains(resolvePath(workDir, cfg.Sweep.ToolchainsFile))
		if err != nil {
			return err
		}
		if profile, err := toolchains.Resolve(cfg.Sweep.Toolchain); err == nil {
			profdata = profile.ProfdataTool
		}
		if profdata == "" {
			profdata = "llvm-profdata"
		}
	}

	merger, err := coverage.NewMerger(fragmentDir, indexPath, profdata, cfg.Coverage.MergeThreshold, logger)
	if err != nil {
		return err
	}

	pending, err := merger.PendingFragments()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending coverage fragments.")
		return nil
	}

	if err := merger.Merge(context.Background()); err != nil {
		return err
	}
	fmt.Printf("Merged %d fragment(s) into %s\n", len(pending), indexPath)
	return nil
}
