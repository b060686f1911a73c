package runner

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"frontpipe/internal/audit"
	"frontpipe/internal/collect"
	"frontpipe/internal/config"
	"frontpipe/internal/models"
	"frontpipe/internal/state"
	"frontpipe/pkg/errors"
)

// fixedNow is a Thursday, so prev_bizday resolves to 2025-08-13.
var fixedNow = time.Date(2025, 8, 14, 12, 0, 0, 0, time.UTC)

const wantDate = "2025-08-13"

type fakeProvider struct {
	sources map[string]collect.Source
}

func (p *fakeProvider) SourceFor(feed models.Feed) (collect.Source, error) {
	src, ok := p.sources[feed.Key()]
	if !ok {
		return nil, errors.CollaboratorError(errors.CodeNoCollector, feed.Key(), nil)
	}
	return src, nil
}

func testConfig(t *testing.T, feeds ...models.Feed) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BusinessTimezone = "UTC"
	cfg.BaseDir = t.TempDir()
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")
	cfg.ReportDir = filepath.Join(t.TempDir(), "reports")
	cfg.Feeds = feeds
	return cfg
}

func pnlFeed() models.Feed {
	return models.Feed{
		Counterparty:     "acme",
		Stream:           "pnl",
		Channel:          models.ChannelEmail,
		DateSource:       models.DateSourceSubject,
		ReportDateFormat: "auto",
		Mailbox:          "reports",
		Patterns: models.ExpectedPatterns{
			SubjectRegex:    `DailyPnL`,
			AttachmentRegex: `pnl_.*\.csv$`,
		},
	}
}

func pnlItem(subject string) collect.Item {
	return collect.NewMemoryItem(subject,
		time.Date(2025, 8, 14, 7, 30, 0, 0, time.UTC),
		collect.NewMemoryAttachment("pnl_20250813.csv", []byte("desk,pnl\nrates,12.5\n")))
}

func newRunner(t *testing.T, cfg *config.Config, store state.Store, sink audit.Sink, provider collect.SourceProvider) *Runner {
	t.Helper()
	r, err := New(cfg, store, sink, provider, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestExecuteSavesMatchedFeed(t *testing.T) {
	cfg := testConfig(t, pnlFeed())
	store := state.NewMemoryStore()
	sink := audit.NewMemorySink()
	provider := &fakeProvider{sources: map[string]collect.Source{
		"acme/pnl": &collect.MemorySource{Items: []collect.Item{pnlItem("DailyPnL 13-Aug-2025")}},
	}}

	r := newRunner(t, cfg, store, sink, provider)
	result, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.TargetDate != wantDate {
		t.Errorf("target date = %s, want %s", result.TargetDate, wantDate)
	}

	row := result.Rows[0]
	if row.Status != models.StatusSaved {
		t.Fatalf("status = %s (note %q), want saved", row.Status, row.RowNote)
	}
	if len(row.SavedPaths) != 1 {
		t.Fatalf("saved paths = %v", row.SavedPaths)
	}

	// the file landed in the dated drop directory
	wantDrop := filepath.Join(cfg.BaseDir, "Data Files", wantDate)
	if filepath.Dir(row.SavedPaths[0]) != wantDrop {
		t.Errorf("saved into %s, want %s", filepath.Dir(row.SavedPaths[0]), wantDrop)
	}
	data, err := os.ReadFile(row.SavedPaths[0])
	if err != nil || !strings.Contains(string(data), "rates,12.5") {
		t.Errorf("relocated content = %q, err %v", data, err)
	}

	// state snapshot persisted
	persisted, ok, err := store.Load(wantDate)
	if err != nil || !ok {
		t.Fatalf("state not persisted: ok=%v err=%v", ok, err)
	}
	if persisted[0].Status != models.StatusSaved {
		t.Errorf("persisted status = %s", persisted[0].Status)
	}

	// one found event followed by one saved event
	events := sink.Events[wantDate]
	if len(events) != 2 || events[0].Event != audit.EventFound || events[1].Event != audit.EventSaved {
		t.Errorf("events = %+v", events)
	}

	// status page rendered
	if result.StatusPage == "" {
		t.Error("status page path empty")
	} else if _, err := os.Stat(result.StatusPage); err != nil {
		t.Errorf("status page missing: %v", err)
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	cfg := testConfig(t, pnlFeed())
	store := state.NewMemoryStore()
	sink := audit.NewMemorySink()
	provider := &fakeProvider{sources: map[string]collect.Source{
		"acme/pnl": &collect.MemorySource{Items: []collect.Item{pnlItem("DailyPnL 13-Aug-2025")}},
	}}

	r := newRunner(t, cfg, store, sink, provider)
	if _, err := r.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	result, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}

	row := result.Rows[0]
	if len(row.SavedPaths) != 1 {
		t.Errorf("saved paths after rerun = %v, want the original single path", row.SavedPaths)
	}
	if len(sink.Events[wantDate]) != 2 {
		t.Errorf("events after rerun = %+v, want no duplicates", sink.Events[wantDate])
	}

	// the drop directory still holds exactly one file
	entries, err := os.ReadDir(filepath.Join(cfg.BaseDir, "Data Files", wantDate))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("drop dir holds %d files, want 1", len(entries))
	}
}

func TestExecuteWaitsForRequiredAttachments(t *testing.T) {
	feed := pnlFeed()
	feed.Patterns = models.ExpectedPatterns{
		SubjectRegex:        `DailyPnL`,
		RequiredAttachments: []string{`positions.*\.csv`, `trades.*\.csv`},
	}
	cfg := testConfig(t, feed)

	partial := collect.NewMemoryItem("DailyPnL 13-Aug-2025",
		time.Date(2025, 8, 14, 7, 0, 0, 0, time.UTC),
		collect.NewMemoryAttachment("positions_eod.csv", []byte("x")))
	provider := &fakeProvider{sources: map[string]collect.Source{
		"acme/pnl": &collect.MemorySource{Items: []collect.Item{partial}},
	}}

	r := newRunner(t, cfg, state.NewMemoryStore(), audit.NewMemorySink(), provider)
	result, err := r.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	row := result.Rows[0]
	if row.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", row.Status)
	}
	if !strings.Contains(row.RowNote, "waiting") {
		t.Errorf("note = %q", row.RowNote)
	}
}

func TestExecuteWrongDateThenCorrected(t *testing.T) {
	cfg := testConfig(t, pnlFeed())
	store := state.NewMemoryStore()
	src := &collect.MemorySource{Items: []collect.Item{pnlItem("DailyPnL 12-Aug-2025")}}
	provider := &fakeProvider{sources: map[string]collect.Source{"acme/pnl": src}}

	r := newRunner(t, cfg, store, audit.NewMemorySink(), provider)
	result, err := r.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Rows[0].Status != models.StatusWrongDate {
		t.Fatalf("status = %s, want wrong_date", result.Rows[0].Status)
	}

	// the counterparty resends with the right date
	src.Items = append(src.Items, pnlItem("DailyPnL 13-Aug-2025"))
	result, err = r.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Rows[0].Status != models.StatusSaved {
		t.Errorf("status after resend = %s (note %q), want saved",
			result.Rows[0].Status, result.Rows[0].RowNote)
	}
}

func TestExecuteIsolatesCollectorFailures(t *testing.T) {
	broken := pnlFeed()
	healthy := pnlFeed()
	healthy.Stream = "positions"
	healthy.Mailbox = "reports2"
	healthy.Patterns.AttachmentRegex = `pnl_.*\.csv$`

	cfg := testConfig(t, broken, healthy)
	sink := audit.NewMemorySink()
	provider := &fakeProvider{sources: map[string]collect.Source{
		"acme/pnl": &collect.MemorySource{
			Err: errors.CollaboratorError(errors.CodeFetchFailed, "reports", os.ErrDeadlineExceeded),
		},
		"acme/positions": &collect.MemorySource{Items: []collect.Item{pnlItem("DailyPnL 13-Aug-2025")}},
	}}

	r := newRunner(t, cfg, state.NewMemoryStore(), sink, provider)
	result, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("one broken collector must not fail the pass: %v", err)
	}

	if result.Rows[0].Status != models.StatusFailed {
		t.Errorf("broken feed status = %s, want failed", result.Rows[0].Status)
	}
	if !strings.HasPrefix(result.Rows[0].RowNote, "collector_error") {
		t.Errorf("broken feed note = %q", result.Rows[0].RowNote)
	}
	if result.Rows[1].Status != models.StatusSaved {
		t.Errorf("healthy feed status = %s, want saved", result.Rows[1].Status)
	}

	var sawError bool
	for _, e := range sink.Events[wantDate] {
		if e.Event == audit.EventError && e.Stream == "pnl" {
			sawError = true
		}
	}
	if !sawError {
		t.Error("missing error audit event for broken feed")
	}
}

func TestExecuteManualFeed(t *testing.T) {
	manual := models.Feed{
		Counterparty: "globex",
		Stream:       "recon",
		Channel:      models.ChannelManual,
		Manual:       true,
		Note:         "delivered by operations",
	}
	cfg := testConfig(t, manual)
	sink := audit.NewMemorySink()

	r := newRunner(t, cfg, state.NewMemoryStore(), sink, &fakeProvider{})
	if _, err := r.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	result, err := r.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if result.Rows[0].Status != models.StatusManual {
		t.Errorf("status = %s, want manual", result.Rows[0].Status)
	}
	// the manual event is recorded once, on row creation
	var manualEvents int
	for _, e := range sink.Events[wantDate] {
		if e.Event == audit.EventManual {
			manualEvents++
		}
	}
	if manualEvents != 1 {
		t.Errorf("manual events = %d, want 1", manualEvents)
	}
}

func TestExecuteNonEmailChannelStaysPending(t *testing.T) {
	sftp := models.Feed{
		Counterparty: "acme",
		Stream:       "confirms",
		Channel:      models.ChannelSFTP,
	}
	cfg := testConfig(t, sftp)

	r := newRunner(t, cfg, state.NewMemoryStore(), audit.NewMemorySink(), &fakeProvider{})
	result, err := r.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	row := result.Rows[0]
	if row.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", row.Status)
	}
	if !strings.Contains(row.RowNote, "no collector") {
		t.Errorf("note = %q", row.RowNote)
	}
}

func TestExecuteAbortsOnBadPatternBeforeAnyRow(t *testing.T) {
	good := pnlFeed()
	bad := pnlFeed()
	bad.Stream = "broken"
	bad.Patterns.SubjectRegex = `(unclosed`
	cfg := testConfig(t, good, bad)

	store := state.NewMemoryStore()
	provider := &fakeProvider{sources: map[string]collect.Source{
		"acme/pnl": &collect.MemorySource{Items: []collect.Item{pnlItem("DailyPnL 13-Aug-2025")}},
	}}

	r := newRunner(t, cfg, store, audit.NewMemorySink(), provider)
	_, err := r.Execute(context.Background())
	if err == nil {
		t.Fatal("expected fatal configuration error")
	}
	if !errors.IsFatal(err) {
		t.Errorf("error should be fatal: %v", err)
	}

	// no row was processed, no state was written
	if _, ok, _ := store.Load(wantDate); ok {
		t.Error("state must not be written when configuration is invalid")
	}
}

func TestExecuteExtractsArchives(t *testing.T) {
	feed := pnlFeed()
	feed.Patterns = models.ExpectedPatterns{
		SubjectRegex:    `DailyPnL`,
		AttachmentRegex: `\.zip$`,
		ExtractOnly:     `\.csv$`,
	}
	cfg := testConfig(t, feed)

	zipData := buildZipBytes(t, map[string]string{
		"inner/pnl_20250813.csv": "desk,pnl\nfx,3.25\n",
		"inner/readme.txt":       "ignore",
	})
	item := collect.NewMemoryItem("DailyPnL 13-Aug-2025",
		time.Date(2025, 8, 14, 7, 30, 0, 0, time.UTC),
		collect.NewMemoryAttachment("pnl_pack.zip", zipData))
	provider := &fakeProvider{sources: map[string]collect.Source{
		"acme/pnl": &collect.MemorySource{Items: []collect.Item{item}},
	}}

	r := newRunner(t, cfg, state.NewMemoryStore(), audit.NewMemorySink(), provider)
	result, err := r.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	row := result.Rows[0]
	if row.Status != models.StatusSaved {
		t.Fatalf("status = %s (note %q)", row.Status, row.RowNote)
	}
	if len(row.SavedPaths) != 1 {
		t.Fatalf("saved paths = %v, want just the extracted csv", row.SavedPaths)
	}
	if filepath.Base(row.SavedPaths[0]) != "pnl_20250813.csv" {
		t.Errorf("saved %s", row.SavedPaths[0])
	}
}

func buildZipBytes(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExecuteSubjectOnlyFeedStaysPending(t *testing.T) {
	feed := pnlFeed()
	feed.Patterns.AttachmentRegex = ""
	cfg := testConfig(t, feed)

	item := collect.NewMemoryItem("DailyPnL 13-Aug-2025",
		time.Date(2025, 8, 14, 7, 30, 0, 0, time.UTC),
		collect.NewMemoryAttachment("random_unrelated.xlsx", []byte("x")),
		collect.NewMemoryAttachment("notes.txt", []byte("y")))
	provider := &fakeProvider{sources: map[string]collect.Source{
		"acme/pnl": &collect.MemorySource{Items: []collect.Item{item}},
	}}

	r := newRunner(t, cfg, state.NewMemoryStore(), audit.NewMemorySink(), provider)
	result, err := r.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	row := result.Rows[0]
	if row.Status != models.StatusPending {
		t.Fatalf("status = %s (note %q), want pending", row.Status, row.RowNote)
	}
	if len(row.SavedPaths) != 0 {
		t.Errorf("saved paths = %v, want none", row.SavedPaths)
	}
	if entries, err := os.ReadDir(filepath.Join(cfg.BaseDir, "Data Files", wantDate)); err == nil && len(entries) != 0 {
		t.Errorf("drop dir holds %d files, want none", len(entries))
	}
}

func TestExecuteSaveRaw(t *testing.T) {
	feed := pnlFeed()
	feed.Patterns.SaveRaw = true
	cfg := testConfig(t, feed)

	raw := []byte("From: ops@example.com\r\nSubject: DailyPnL 13-Aug-2025\r\n\r\nbody\r\n")
	item := collect.NewMemoryRawItem("DailyPnL 13-Aug-2025",
		time.Date(2025, 8, 14, 7, 30, 0, 0, time.UTC), raw,
		collect.NewMemoryAttachment("pnl_20250813.csv", []byte("x")))
	provider := &fakeProvider{sources: map[string]collect.Source{
		"acme/pnl": &collect.MemorySource{Items: []collect.Item{item}},
	}}

	r := newRunner(t, cfg, state.NewMemoryStore(), audit.NewMemorySink(), provider)
	result, err := r.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	row := result.Rows[0]
	if row.Status != models.StatusSaved {
		t.Fatalf("status = %s (note %q)", row.Status, row.RowNote)
	}
	if len(row.SavedPaths) != 2 {
		t.Fatalf("saved paths = %v, want csv plus raw message", row.SavedPaths)
	}
	var sawEML bool
	for _, p := range row.SavedPaths {
		if strings.HasSuffix(p, ".eml") {
			sawEML = true
		}
	}
	if !sawEML {
		t.Errorf("raw message not archived: %v", row.SavedPaths)
	}
}
