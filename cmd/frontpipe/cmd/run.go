package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"frontpipe/internal/audit"
	"frontpipe/internal/collect"
	"frontpipe/internal/config"
	"frontpipe/internal/models"
	"frontpipe/internal/reporter"
	"frontpipe/internal/runner"
	"frontpipe/internal/state"
	"frontpipe/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one reconciliation pass",
	Long: `Run resolves the business target date, fetches candidate messages,
matches them against every open feed row, relocates validated files into the
dated drop directory and persists the updated row state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, closers, err := buildRunner()
		if err != nil {
			return err
		}
		defer closers()

		result, err := r.Execute(cmd.Context())
		if err != nil {
			return err
		}

		printSummary(result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// buildRunner wires a runner and its collaborators from the config file.
// The returned closer releases the state backend.
func buildRunner() (*runner.Runner, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	log := logger.GetGlobalLogger().WithComponent("runner")

	store, err := state.NewStore(cfg.StateDSN)
	if err != nil {
		return nil, nil, err
	}
	sink, err := audit.NewJSONLSink(cfg.EventsDir)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	provider, err := collect.NewProvider(cfg.ProviderOptions(), nil)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	r, err := runner.New(cfg, store, sink, provider, log)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	closers := func() {
		sink.Close()
		store.Close()
	}
	return r, closers, nil
}

func printSummary(result *runner.Result) {
	counts := reporter.CountByStatus(result.Rows)
	fmt.Printf("Target date %s: %d saved, %d pending, %d wrong_date, %d failed, %d manual\n",
		result.TargetDate,
		counts[models.StatusSaved],
		counts[models.StatusPending],
		counts[models.StatusWrongDate],
		counts[models.StatusFailed],
		counts[models.StatusManual])
	if result.StatusPage != "" {
		fmt.Printf("Status page: %s\n", result.StatusPage)
	}
}
