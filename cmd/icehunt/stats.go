package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"icehunt/internal/history"
)

var (
	statsRuns     int
	statsFindings bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recorded sweep runs and findings",
	Long: `Reads the run-history database and prints lifetime totals, recent
sweep runs, and optionally every recorded crash finding.

Examples:
  icehunt stats                # Totals plus the last 10 runs
  icehunt stats --runs 25
  icehunt stats --findings     # Include every recorded crash`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsRuns, "runs", 10, "Number of recent runs to show")
	statsCmd.Flags().BoolVar(&statsFindings, "findings", false, "List recorded crash findings")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	workDir := mustGetWorkDir()
	cfg := loadConfigOrExit(workDir)
	logger := newLogger(cfg)

	store, err := history.Open(workDir, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	totals, err := store.LifetimeTotals()
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Println("Lifetime totals")
	fmt.Printf("  Runs:      %d\n", totals.Runs)
	fmt.Printf("  Processed: %d\n", totals.Processed)
	fmt.Printf("  ICE found: %d\n", totals.ICEFound)

	runs, err := store.RecentRuns(statsRuns)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		fmt.Println()
		bold.Println("Recent runs")
		for _, r := range runs {
			status := r.FinishedAt
			if status == "" {
				status = "unfinished"
			}
			fmt.Printf("  %s  %-10s  processed %-5d ice %-3d  %s\n",
				r.StartedAt, r.Toolchain, r.Processed, r.ICEFound, status)
		}
	}

	if statsFindings {
		findings, err := store.Findings("")
		if err != nil {
			return err
		}
		fmt.Println()
		bold.Printf("Findings (%d)\n", len(findings))
		for _, f := range findings {
			fmt.Printf("  %s  %s  (%s)\n", f.FoundAt, f.RelPath, f.Signature)
		}
	}
	return nil
}
