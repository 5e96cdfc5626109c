// Package cmd provides the CLI commands for annsolo.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jianshu93/annsolo/internal/config"
	"github.com/jianshu93/annsolo/internal/logging"
)

// rootOptions holds flags shared by all subcommands.
type rootOptions struct {
	configPath string
	library    string
	logLevel   string
	bruteForce bool
}

// NewRootCmd creates the root command for the annsolo CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "annsolo",
		Short: "Spectral library search engine",
		Long: `annsolo identifies unknown tandem mass spectra by searching a spectral
library for the most similar entries. Candidate retrieval combines a
precursor mass window with approximate-nearest-neighbor refinement over
per-charge HNSW indices.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.library, "library", "", "Path to the spectral library file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Minimum log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.bruteForce, "brute-force", false, "Disable ANN refinement (pure mass filter)")

	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig layers the config file and flag overrides, then configures
// logging.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if opts.library != "" {
		cfg.Library = opts.library
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.bruteForce {
		cfg.BruteForce = true
	}
	logging.Setup(cfg.LogLevel)
	if cfg.Library == "" {
		return cfg, fmt.Errorf("no spectral library configured (use --library or a config file)")
	}
	return cfg, cfg.Validate()
}

// Execute runs the root command. Errors are logged and returned so main
// can exit non-zero.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
