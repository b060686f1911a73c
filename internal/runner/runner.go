// Package runner orchestrates one reconciliation pass: resolve the target
// date, revisit every open row, match candidates, relocate validated files
// and persist the updated row set.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"frontpipe/internal/audit"
	"frontpipe/internal/collect"
	"frontpipe/internal/config"
	"frontpipe/internal/dates"
	"frontpipe/internal/fsops"
	"frontpipe/internal/matcher"
	"frontpipe/internal/models"
	"frontpipe/internal/reporter"
	"frontpipe/internal/state"
	"frontpipe/pkg/errors"
	"frontpipe/pkg/logger"
)

// Runner executes reconciliation passes against one configuration.
type Runner struct {
	cfg      *config.Config
	store    state.Store
	sink     audit.Sink
	sources  collect.SourceProvider
	resolver *dates.Resolver
	log      logger.Logger

	// now is swappable in tests.
	now func() time.Time
}

// Result summarizes one completed pass.
type Result struct {
	TargetDate string
	Rows       []*models.FeedRow
	// StatusPage is the path of the rendered status page, empty when
	// rendering failed.
	StatusPage string
}

// New wires a runner from its collaborators. A nil logger falls back to the
// global one.
func New(cfg *config.Config, store state.Store, sink audit.Sink, sources collect.SourceProvider, log logger.Logger) (*Runner, error) {
	if cfg == nil {
		return nil, errors.ConfigError(errors.CodeMissingConfig, "config", nil, nil)
	}
	resolver, err := dates.NewResolver(cfg.BusinessTimezone)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger().WithComponent("runner")
	}
	return &Runner{
		cfg:      cfg,
		store:    store,
		sink:     sink,
		sources:  sources,
		resolver: resolver,
		log:      log,
		now:      time.Now,
	}, nil
}

// Execute runs one full pass. Configuration problems abort before any row
// is touched; everything else is contained to the row it concerns.
func (r *Runner) Execute(ctx context.Context) (*Result, error) {
	targetDate, err := r.resolver.TargetDate(r.cfg.TargetDateRule, r.now())
	if err != nil {
		return nil, err
	}
	log := r.log.WithField("target_date", targetDate)

	rows, existed, err := r.store.Load(targetDate)
	if err != nil {
		return nil, err
	}
	if !existed {
		rows = models.NewRowSet(r.cfg.Feeds)
		log.WithField("rows", len(rows)).Info("Starting fresh row set")
		r.auditFreshManualRows(targetDate, rows)
	}

	// compile every feed's rules before touching any row, so a bad
	// pattern cannot leave the day half-processed
	matchers := make(map[string]*matcher.Matcher, len(rows))
	for _, row := range rows {
		m, err := matcher.New(row.Feed, targetDate, r.resolver)
		if err != nil {
			return nil, err
		}
		matchers[row.Key()] = m
	}

	dropDir, err := fsops.EnsureDropDir(r.cfg.BaseDir, targetDate)
	if err != nil {
		return nil, err
	}

	window := time.Duration(r.cfg.ArrivalWindowHours) * time.Hour
	fetched := make(map[collect.Source][]collect.Item)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !row.Revisitable() {
			continue
		}
		r.processRow(ctx, row, matchers[row.Key()], targetDate, dropDir, window, fetched)
	}

	if err := r.store.Save(targetDate, rows); err != nil {
		return nil, err
	}

	result := &Result{TargetDate: targetDate, Rows: rows}
	page, err := reporter.WriteStatusPage(r.cfg.ReportDir, targetDate, rows)
	if err != nil {
		log.WithError(err).Warn("Status page rendering failed")
	} else {
		result.StatusPage = page
	}

	counts := reporter.CountByStatus(rows)
	log.WithFields(logger.Fields{
		"saved":   counts[models.StatusSaved],
		"pending": counts[models.StatusPending],
		"failed":  counts[models.StatusFailed],
	}).Info("Pass complete")
	return result, nil
}

// auditFreshManualRows records one manual event per manual feed the first
// time a day's row set is created.
func (r *Runner) auditFreshManualRows(targetDate string, rows []*models.FeedRow) {
	for _, row := range rows {
		if row.Status != models.StatusManual {
			continue
		}
		r.appendEvent(targetDate, audit.Event{
			Counterparty: row.Counterparty,
			Stream:       row.Stream,
			Event:        audit.EventManual,
			Detail:       row.Note,
		})
	}
}

// processRow advances one row as far as the current candidates allow. All
// failures are contained: the row ends in a coherent state and processing
// moves on.
func (r *Runner) processRow(ctx context.Context, row *models.FeedRow, m *matcher.Matcher, targetDate, dropDir string, window time.Duration, fetched map[collect.Source][]collect.Item) {
	log := r.log.WithFields(logger.Fields{"feed": row.Key(), "status": row.Status})

	if row.Channel != models.ChannelEmail {
		r.moveTo(row, models.StatusPending, fmt.Sprintf("no collector for channel %s", row.Channel))
		return
	}

	source, err := r.sources.SourceFor(row.Feed)
	if err != nil {
		r.failRow(targetDate, row, "collector_error: "+rootMessage(err))
		return
	}

	items, ok := fetched[source]
	if !ok {
		items, err = source.Fetch(ctx, window)
		if err != nil {
			r.failRow(targetDate, row, "collector_error: "+rootMessage(err))
			return
		}
		fetched[source] = items
	}

	match := m.Evaluate(items)
	switch match.Kind {
	case matcher.KindNoCandidates, matcher.KindInsufficient:
		r.moveTo(row, models.StatusPending, match.Note)
	case matcher.KindWrongDate:
		if r.moveTo(row, models.StatusWrongDate, match.Note) {
			r.appendRowEvent(targetDate, row, audit.EventWrongDate, match.Note)
		}
	case matcher.KindSatisfied:
		if r.moveTo(row, models.StatusFound, "matched "+match.Item.Subject()) {
			r.appendRowEvent(targetDate, row, audit.EventFound, match.Item.Subject())
		}
		if err := r.relocate(row, m, match, targetDate, dropDir); err != nil {
			log.WithError(err).Error("Relocation failed")
			r.failRow(targetDate, row, rootMessage(err))
		}
	}
}

// relocate saves the winning candidate's attachments into the cache, expands
// archives, moves everything into the dated drop directory and marks the row
// saved.
func (r *Runner) relocate(row *models.FeedRow, m *matcher.Matcher, match matcher.Match, targetDate, dropDir string) error {
	cacheDir := filepath.Join(r.cfg.CacheDir, targetDate, strings.ReplaceAll(row.Key(), "/", "_"))
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return errors.RelocationError(errors.CodeDestinationError, cacheDir, err)
	}

	var staged []string
	for _, att := range match.Kept {
		cached := filepath.Join(cacheDir, filepath.Base(att.Name()))
		if err := att.Save(cached); err != nil {
			return err
		}

		if isArchive(cached) && m.ExtractOnlyPattern() != nil {
			members, err := fsops.ExtractArchiveMembers(cached, cacheDir, m.ExtractOnlyPattern())
			if err != nil {
				return err
			}
			staged = append(staged, members...)
			continue
		}
		staged = append(staged, cached)
	}

	if m.SaveRaw() {
		rawPath := filepath.Join(cacheDir, fsops.SanitizeSubject(match.Item.Subject())+".eml")
		if err := os.WriteFile(rawPath, match.Item.Raw(), 0o644); err != nil {
			return errors.RelocationError(errors.CodeMoveFailed, rawPath, err)
		}
		staged = append(staged, rawPath)
	}

	var moved []string
	for _, path := range staged {
		dst, err := fsops.MoveNoClobber(path, dropDir)
		if err != nil {
			// keep what already landed visible on the row
			for _, p := range moved {
				row.AppendSavedPath(p)
			}
			return err
		}
		moved = append(moved, dst)
	}
	if len(moved) == 0 {
		return errors.RelocationError(errors.CodeMoveFailed, dropDir,
			fmt.Errorf("nothing to relocate for %s", row.Key()))
	}

	if err := row.MarkSaved(moved, "saved from "+match.Item.Subject()); err != nil {
		return err
	}
	r.appendEvent(targetDate, audit.Event{
		Counterparty: row.Counterparty,
		Stream:       row.Stream,
		Event:        audit.EventSaved,
		Detail:       strings.Join(moved, ";"),
	})
	return nil
}

// moveTo transitions the row when the lifecycle allows it; otherwise only
// the note is refreshed without changing status. It reports whether the
// status actually changed.
func (r *Runner) moveTo(row *models.FeedRow, next models.Status, note string) bool {
	prev := row.Status
	if row.Status.CanTransition(next) {
		if err := row.Transition(next, note); err == nil {
			return prev != next
		}
	}
	row.RowNote = note
	return false
}

func (r *Runner) appendRowEvent(targetDate string, row *models.FeedRow, kind, detail string) {
	r.appendEvent(targetDate, audit.Event{
		Counterparty: row.Counterparty,
		Stream:       row.Stream,
		Event:        kind,
		Detail:       detail,
	})
}

// failRow marks the row failed and appends an error event.
func (r *Runner) failRow(targetDate string, row *models.FeedRow, note string) {
	r.moveTo(row, models.StatusFailed, note)
	r.appendRowEvent(targetDate, row, audit.EventError, note)
}

func (r *Runner) appendEvent(targetDate string, event audit.Event) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Append(targetDate, event); err != nil {
		r.log.WithError(err).Warn("Audit append failed")
	}
}

func isArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// rootMessage extracts a short human-readable message for row notes.
func rootMessage(err error) string {
	if pe, ok := errors.AsPipelineError(err); ok {
		if pe.Cause != nil {
			return pe.Message + ": " + pe.Cause.Error()
		}
		return pe.Message
	}
	return err.Error()
}
