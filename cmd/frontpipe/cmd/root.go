// Package cmd implements the frontpipe command-line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"frontpipe/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "frontpipe",
	Short: "Feed arrival matching and reconciliation pipeline",
	Long: `Frontpipe tracks expected daily report files arriving over email,
matches them against per-feed expectation rules, validates the embedded
report date against the business target date and relocates validated files
into a dated drop directory.

Examples:
  frontpipe run --config frontpipe.yaml
  frontpipe watch --config frontpipe.yaml
  frontpipe report --config frontpipe.yaml --date 2025-08-13`,
	Version: getVersionString(),
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return NewCLIErrorHandler().HandleError(err)
	}
	return 0
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "frontpipe.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func initLogging() {
	cfg := logger.DefaultConfig()
	if verbose {
		cfg = logger.DebugConfig()
	}
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return
	}
	logger.SetGlobalLogger(log)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
