package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"icehunt/internal/config"
)

var (
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize icehunt configuration",
	Long: `Creates a .icehunt/ directory with the default configuration and a
toolchains.toml describing the compiler profiles under test.

Examples:
  icehunt init           # Write default config if none exists
  icehunt init --force   # Overwrite existing configuration`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing configuration")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	workDir := mustGetWorkDir()

	configPath := filepath.Join(workDir, ".icehunt", "config.json")
	if _, err := os.Stat(configPath); err == nil && !initForce {
		// Idempotent: already initialized is success
		fmt.Println("icehunt already initialized.")
		fmt.Printf("Configuration at: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(workDir); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	toolchainsPath := resolvePath(workDir, cfg.Sweep.ToolchainsFile)
	if _, err := os.Stat(toolchainsPath); os.IsNotExist(err) || initForce {
		if err := config.DefaultToolchains().Save(toolchainsPath); err != nil {
			return fmt.Errorf("failed to write toolchain profiles: %w", err)
		}
	}

	fmt.Println("Initialized icehunt.")
	fmt.Printf("  Configuration: %s\n", configPath)
	fmt.Printf("  Toolchains:    %s\n", toolchainsPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Put source files to sweep under %s/\n", cfg.Sweep.Root)
	fmt.Println("  2. Adjust toolchains.toml for your installed compilers")
	fmt.Println("  3. Run 'icehunt sweep'")
	return nil
}
