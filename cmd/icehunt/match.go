package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"icehunt/internal/similarity"
)

var (
	matchCorpus    string
	matchOutput    string
	matchThreshold float64
	matchWorkers   int
	matchSuffix    string
)

var matchCmd = &cobra.Command{
	Use:   "match <snippet-file>",
	Short: "Find corpus files structurally similar to a code snippet",
	Long: `Scores every source file under the corpus root against the snippet by
comparing syntax-tree shapes, not text. A file matches when some subtree of
its parse tree has a bigram profile close to the snippet's; matching files
are copied in full under the output root, mirroring the corpus layout.

Examples:
  icehunt match crash_fragment.rs --corpus pending_review/ice
  icehunt match snippet.rs --threshold 0.8 --output triage`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().StringVar(&matchCorpus, "corpus", "", "Directory of candidate files (default: the sweep archive root)")
	matchCmd.Flags().StringVar(&matchOutput, "output", "", "Directory for matched sources (default from config)")
	matchCmd.Flags().Float64Var(&matchThreshold, "threshold", 0, "Similarity threshold in [0, 1] (default from config)")
	matchCmd.Flags().IntVar(&matchWorkers, "workers", 0, "Parallel scoring workers (default from config)")
	matchCmd.Flags().StringVar(&matchSuffix, "suffix", "", "Candidate file suffix (default from config)")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	workDir := mustGetWorkDir()
	cfg := loadConfigOrExit(workDir)
	logger := newLogger(cfg)

	snippetCode, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read snippet: %w", err)
	}

	opts := similarity.BatchOptions{
		CorpusRoot: resolvePath(workDir, cfg.Sweep.ArchiveRoot),
		OutputRoot: resolvePath(workDir, cfg.Match.OutputRoot),
		FileSuffix: cfg.Sweep.FileSuffix,
		Threshold:  cfg.Match.Threshold,
		Workers:    cfg.Match.Workers,
	}
	if cmd.Flags().Changed("corpus") {
		opts.CorpusRoot = matchCorpus
	}
	if cmd.Flags().Changed("output") {
		opts.OutputRoot = matchOutput
	}
	if cmd.Flags().Changed("threshold") {
		opts.Threshold = matchThreshold
	}
	if cmd.Flags().Changed("workers") {
		opts.Workers = matchWorkers
	}
	if cmd.Flags().Changed("suffix") {
		opts.FileSuffix = matchSuffix
	}

	results, err := similarity.MatchDirectory(context.Background(), snippetCode, opts, logger)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Printf("No matches at threshold %.2f.\n", opts.Threshold)
		return nil
	}

	fmt.Printf("%d match(es) at threshold %.2f:\n", len(results), opts.Threshold)
	for _, r := range results {
		fmt.Printf("  %.4f  %s\n", r.Score, r.Path)
	}
	fmt.Printf("\nMatched sources saved under %s/\n", opts.OutputRoot)
	return nil
}
