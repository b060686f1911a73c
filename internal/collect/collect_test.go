package collect

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"frontpipe/internal/models"
)

func emlMessage(subject, date, attachmentName string) string {
	return strings.Join([]string{
		"From: ops@example.com",
		"To: pipeline@example.com",
		"Subject: " + subject,
		"Date: " + date,
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="frontier"`,
		"",
		"--frontier",
		"Content-Type: text/plain",
		"",
		"Report attached.",
		"--frontier",
		"Content-Type: text/csv",
		`Content-Disposition: attachment; filename="` + attachmentName + `"`,
		"",
		"a,b,c",
		"--frontier--",
		"",
	}, "\r\n")
}

func TestDirSourceParsesMessages(t *testing.T) {
	dir := t.TempDir()
	eml := emlMessage("Daily PnL 2025-08-13", "Wed, 13 Aug 2025 11:30:00 +0000", "pnl_20250813.csv")
	if err := os.WriteFile(filepath.Join(dir, "msg1.eml"), []byte(eml), 0o644); err != nil {
		t.Fatal(err)
	}
	// non-eml files are ignored
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewDirSource(dir, nil)
	items, err := src.Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}

	item := items[0]
	if item.Subject() != "Daily PnL 2025-08-13" {
		t.Errorf("subject = %q", item.Subject())
	}
	if !item.Received().Equal(time.Date(2025, 8, 13, 11, 30, 0, 0, time.UTC)) {
		t.Errorf("received = %v", item.Received())
	}
	atts := item.Attachments()
	if len(atts) != 1 || atts[0].Name() != "pnl_20250813.csv" {
		t.Fatalf("attachments = %v", atts)
	}

	saved := filepath.Join(t.TempDir(), "out.csv")
	if err := atts[0].Save(saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(saved)
	if err != nil || !strings.Contains(string(data), "a,b,c") {
		t.Errorf("saved content = %q, err %v", data, err)
	}
	if len(item.Raw()) == 0 {
		t.Error("raw message bytes should be retained")
	}
}

func TestDirSourceSkipsUnparseable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.eml"), []byte("not a mime message"), 0o644); err != nil {
		t.Fatal(err)
	}
	eml := emlMessage("Good one", "Wed, 13 Aug 2025 11:30:00 +0000", "good.csv")
	if err := os.WriteFile(filepath.Join(dir, "good.eml"), []byte(eml), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := NewDirSource(dir, nil).Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(items) != 1 || items[0].Subject() != "Good one" {
		t.Errorf("items = %v", items)
	}
}

func TestDirSourceOrdersNewestFirst(t *testing.T) {
	dir := t.TempDir()
	older := emlMessage("older", "Tue, 12 Aug 2025 09:00:00 +0000", "a.csv")
	newer := emlMessage("newer", "Wed, 13 Aug 2025 09:00:00 +0000", "b.csv")
	if err := os.WriteFile(filepath.Join(dir, "a.eml"), []byte(older), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.eml"), []byte(newer), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := NewDirSource(dir, nil).Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Subject() != "newer" || items[1].Subject() != "older" {
		t.Errorf("order = [%s, %s], want newest first", items[0].Subject(), items[1].Subject())
	}
}

func TestDirSourceWindowFilter(t *testing.T) {
	dir := t.TempDir()
	recent := time.Now().Add(-1 * time.Hour).UTC().Format(time.RFC1123Z)
	stale := time.Now().Add(-100 * time.Hour).UTC().Format(time.RFC1123Z)
	if err := os.WriteFile(filepath.Join(dir, "recent.eml"),
		[]byte(emlMessage("recent", recent, "r.csv")), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stale.eml"),
		[]byte(emlMessage("stale", stale, "s.csv")), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := NewDirSource(dir, nil).Fetch(context.Background(), 48*time.Hour)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(items) != 1 || items[0].Subject() != "recent" {
		t.Errorf("window filter kept wrong items: %v", items)
	}
}

func TestMboxSource(t *testing.T) {
	older := emlMessage("first report", "Tue, 12 Aug 2025 09:00:00 +0000", "a.csv")
	newer := emlMessage("second report", "Wed, 13 Aug 2025 09:00:00 +0000", "b.csv")

	var b strings.Builder
	b.WriteString("From ops@example.com Tue Aug 12 09:00:00 2025\n")
	b.WriteString(strings.ReplaceAll(older, "\r\n", "\n"))
	b.WriteString("\n")
	b.WriteString("From ops@example.com Wed Aug 13 09:00:00 2025\n")
	b.WriteString(strings.ReplaceAll(newer, "\r\n", "\n"))
	b.WriteString("\n")

	path := filepath.Join(t.TempDir(), "inbox.mbox")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := NewMboxSource(path, nil).Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Subject() != "second report" {
		t.Errorf("first item = %q, want newest", items[0].Subject())
	}
	if atts := items[1].Attachments(); len(atts) != 1 || atts[0].Name() != "a.csv" {
		t.Errorf("older item attachments = %v", atts)
	}
}

func TestProviderRejectsNonEmailChannels(t *testing.T) {
	p, err := NewProvider(ProviderOptions{Kind: KindDir, Path: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	feed := models.Feed{Counterparty: "acme", Stream: "positions", Channel: models.ChannelSFTP}
	if _, err := p.SourceFor(feed); err == nil {
		t.Fatal("expected error for non-email channel")
	}
}

func TestProviderCachesPerMailbox(t *testing.T) {
	p, err := NewProvider(ProviderOptions{Kind: KindDir, Path: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	feedA := models.Feed{Counterparty: "acme", Stream: "pnl", Channel: models.ChannelEmail, Mailbox: "reports"}
	feedB := models.Feed{Counterparty: "acme", Stream: "positions", Channel: models.ChannelEmail, Mailbox: "reports"}

	srcA, err := p.SourceFor(feedA)
	if err != nil {
		t.Fatalf("SourceFor failed: %v", err)
	}
	srcB, err := p.SourceFor(feedB)
	if err != nil {
		t.Fatalf("SourceFor failed: %v", err)
	}
	if srcA != srcB {
		t.Error("feeds sharing a mailbox should share a source")
	}
}

func TestProviderRejectsUnknownKind(t *testing.T) {
	if _, err := NewProvider(ProviderOptions{Kind: "carrier-pigeon"}, nil); err == nil {
		t.Fatal("expected error for unknown collector kind")
	}
}

func TestMemorySourceOrdering(t *testing.T) {
	older := NewMemoryItem("older", time.Date(2025, 8, 12, 9, 0, 0, 0, time.UTC))
	newer := NewMemoryItem("newer", time.Date(2025, 8, 13, 9, 0, 0, 0, time.UTC),
		NewMemoryAttachment("x.csv", []byte("1")))

	src := &MemorySource{Items: []Item{older, newer}}
	items, err := src.Fetch(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if items[0].Subject() != "newer" {
		t.Errorf("order = %q first, want newer", items[0].Subject())
	}
}
