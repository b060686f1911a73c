package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"frontpipe/internal/config"
	"frontpipe/internal/dates"
	"frontpipe/internal/reporter"
	"frontpipe/internal/state"
	"frontpipe/pkg/errors"
)

var (
	reportDate string
	reportHTML bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Regenerate the status page from persisted state",
	Long: `Report re-renders the HTML status page and prints the plain-text
summary for a target date without running a reconciliation pass. When no
date is given the configured target date rule decides.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		targetDate := reportDate
		if targetDate == "" {
			resolver, err := dates.NewResolver(cfg.BusinessTimezone)
			if err != nil {
				return err
			}
			targetDate, err = resolver.TargetDate(cfg.TargetDateRule, time.Now())
			if err != nil {
				return err
			}
		} else if _, err := time.Parse(dates.Layout, targetDate); err != nil {
			return errors.ConfigError(errors.CodeInvalidConfig, "date", targetDate, err)
		}

		store, err := state.NewStore(cfg.StateDSN)
		if err != nil {
			return err
		}
		defer store.Close()

		rows, ok, err := store.Load(targetDate)
		if err != nil {
			return err
		}
		if !ok {
			return errors.StateError(errors.CodeStateLoadFailed, targetDate,
				fmt.Errorf("no state recorded for %s", targetDate))
		}

		page, err := reporter.WriteStatusPage(cfg.ReportDir, targetDate, rows)
		if err != nil {
			return err
		}

		if reportHTML {
			body, err := reporter.BuildEmailHTML(targetDate, rows)
			if err != nil {
				return err
			}
			fmt.Print(body)
		} else {
			fmt.Print(reporter.BuildEmailBody(targetDate, rows))
		}
		fmt.Printf("\nStatus page: %s\n", page)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "target date (YYYY-MM-DD), defaults to the configured rule")
	reportCmd.Flags().BoolVar(&reportHTML, "html", false, "print the HTML mail body instead of plain text")
	rootCmd.AddCommand(reportCmd)
}
