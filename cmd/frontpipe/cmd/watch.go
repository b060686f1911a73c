package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"frontpipe/internal/collect"
	"frontpipe/internal/config"
	"frontpipe/internal/reporter"
	"frontpipe/pkg/errors"
	"frontpipe/pkg/logger"
)

// debounce delays a filesystem-triggered pass so a burst of writes (a mail
// exporter dropping several files) coalesces into one run.
const debounce = 2 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run passes continuously",
	Long: `Watch runs a reconciliation pass on the configured poll interval.
With a directory collector it additionally watches the inbox directory and
triggers an extra pass shortly after new mail files land. At the configured
report time it runs a final pass and prints the end-of-day summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		r, closers, err := buildRunner()
		if err != nil {
			return err
		}
		defer closers()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := logger.GetGlobalLogger().WithComponent("watch")

		var fsEvents <-chan fsnotify.Event
		if cfg.Collector.Kind == collect.KindDir {
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()
			if err := watcher.Add(cfg.Collector.Path); err != nil {
				log.WithError(err).WithField("path", cfg.Collector.Path).
					Warn("Inbox watch unavailable, polling only")
			} else {
				fsEvents = watcher.Events
				go func() {
					for err := range watcher.Errors {
						log.WithError(err).Warn("Inbox watcher error")
					}
				}()
			}
		}

		interval := time.Duration(cfg.PollIntervalMinutes) * time.Minute
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		loc, err := time.LoadLocation(cfg.BusinessTimezone)
		if err != nil {
			return errors.ConfigError(errors.CodeInvalidConfig, "business_timezone", cfg.BusinessTimezone, err)
		}
		reportTimer := time.NewTimer(time.Until(nextReportInstant(loc, cfg.ReportTimeLocal, time.Now())))
		defer reportTimer.Stop()

		var trigger *time.Timer
		triggered := make(chan struct{}, 1)

		pass := func() {
			result, err := r.Execute(ctx)
			if err != nil {
				log.WithError(err).Error("Pass failed")
				return
			}
			printSummary(result)
		}

		pass()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				pass()
			case <-reportTimer.C:
				result, err := r.Execute(ctx)
				if err != nil {
					log.WithError(err).Error("End-of-day pass failed")
				} else {
					printSummary(result)
					fmt.Print(reporter.BuildEmailBody(result.TargetDate, result.Rows))
				}
				reportTimer.Reset(time.Until(nextReportInstant(loc, cfg.ReportTimeLocal, time.Now())))
			case event, ok := <-fsEvents:
				if !ok {
					fsEvents = nil
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if trigger != nil {
					trigger.Stop()
				}
				trigger = time.AfterFunc(debounce, func() {
					select {
					case triggered <- struct{}{}:
					default:
					}
				})
			case <-triggered:
				pass()
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// nextReportInstant returns the next occurrence of the configured HH:MM
// wall time in the business zone. The time string was validated at load.
func nextReportInstant(loc *time.Location, hhmm string, now time.Time) time.Time {
	at, _ := time.Parse("15:04", hhmm)
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), at.Hour(), at.Minute(), 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
