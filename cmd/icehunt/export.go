package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"icehunt/internal/export"
)

var (
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Bundle archived findings into a compressed archive",
	Long: `Packs every archived finding (source file plus diagnostic log) into a
single zstd-compressed tar bundle, preserving the mirrored directory layout.

Examples:
  icehunt export                       # findings-YYYYMMDD.tar.zst
  icehunt export -o report.tar.zst`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Bundle path (default: findings-<date>.tar.zst)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	workDir := mustGetWorkDir()
	cfg := loadConfigOrExit(workDir)
	logger := newLogger(cfg)

	outPath := exportOutput
	if outPath == "" {
		outPath = fmt.Sprintf("findings-%s.tar.zst", time.Now().Format("20060102"))
	}

	bundler := export.NewBundler(resolvePath(workDir, cfg.Sweep.ArchiveRoot), logger)
	count, err := bundler.Write(outPath)
	if err != nil {
		return err
	}

	if count == 0 {
		fmt.Println("Archive root is empty; wrote an empty bundle.")
	}
	fmt.Printf("Bundled %d file(s) into %s\n", count, outPath)
	return nil
}
