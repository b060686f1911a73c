package state

import (
	"os"
	"path/filepath"
	"testing"

	"frontpipe/internal/models"
)

func sampleRows() []*models.FeedRow {
	feeds := []models.Feed{
		{
			Counterparty: "acme",
			Stream:       "pnl",
			Channel:      models.ChannelEmail,
			Patterns:     models.ExpectedPatterns{SubjectRegex: `DailyPnL`},
		},
		{
			Counterparty: "globex",
			Stream:       "positions",
			Channel:      models.ChannelManual,
			Manual:       true,
		},
	}
	return models.NewRowSet(feeds)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer store.Close()

	if _, ok, err := store.Load("2025-08-13"); err != nil || ok {
		t.Fatalf("fresh store Load = ok=%v err=%v, want absent", ok, err)
	}

	rows := sampleRows()
	if err := rows[0].Transition(models.StatusFound, "matched"); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("2025-08-13", rows); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, ok, err := store.Load("2025-08-13")
	if err != nil || !ok {
		t.Fatalf("Load = ok=%v err=%v", ok, err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d rows, want 2", len(loaded))
	}
	if loaded[0].Status != models.StatusFound {
		t.Errorf("status = %s, want %s", loaded[0].Status, models.StatusFound)
	}
	if loaded[0].RowNote != "matched" {
		t.Errorf("note = %q, want %q", loaded[0].RowNote, "matched")
	}
	if loaded[1].Status != models.StatusManual {
		t.Errorf("manual row status = %s", loaded[1].Status)
	}
}

func TestFileStoreSnapshotPerDate(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Save("2025-08-13", sampleRows()); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("2025-08-14", sampleRows()); err != nil {
		t.Fatal(err)
	}

	for _, date := range []string{"2025-08-13", "2025-08-14"} {
		if _, err := os.Stat(filepath.Join(dir, "master_"+date+".json")); err != nil {
			t.Errorf("missing snapshot file for %s: %v", date, err)
		}
	}

	if _, ok, _ := store.Load("2025-08-15"); ok {
		t.Error("unsaved date should not load")
	}
}

func TestFileStoreSaveReplacesSnapshot(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rows := sampleRows()
	if err := store.Save("2025-08-13", rows); err != nil {
		t.Fatal(err)
	}
	if err := rows[0].MarkSaved([]string{"/drop/a.csv"}, "saved"); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("2025-08-13", rows); err != nil {
		t.Fatal(err)
	}

	loaded, _, err := store.Load("2025-08-13")
	if err != nil {
		t.Fatal(err)
	}
	if loaded[0].Status != models.StatusSaved {
		t.Errorf("status = %s, want %s after replace", loaded[0].Status, models.StatusSaved)
	}
	if len(loaded[0].SavedPaths) != 1 {
		t.Errorf("saved paths = %v", loaded[0].SavedPaths)
	}
}

func TestFileStoreRejectsCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "master_2025-08-13.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := store.Load("2025-08-13"); err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore()

	rows := sampleRows()
	if err := store.Save("2025-08-13", rows); err != nil {
		t.Fatal(err)
	}

	// mutating the caller's slice must not leak into the store
	rows[0].RowNote = "mutated"

	loaded, ok, err := store.Load("2025-08-13")
	if err != nil || !ok {
		t.Fatalf("Load = ok=%v err=%v", ok, err)
	}
	if loaded[0].RowNote == "mutated" {
		t.Error("store shares memory with caller")
	}
}

func TestNewStoreFactory(t *testing.T) {
	if s, err := NewStore("memory"); err != nil {
		t.Errorf("memory: %v", err)
	} else if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("memory DSN yielded %T", s)
	}

	if s, err := NewStore(filepath.Join(t.TempDir(), "state")); err != nil {
		t.Errorf("dir: %v", err)
	} else if _, ok := s.(*FileStore); !ok {
		t.Errorf("dir DSN yielded %T", s)
	}

	if s, err := NewStore("postgres://user:pw@localhost/frontpipe"); err != nil {
		t.Errorf("postgres: %v", err)
	} else if _, ok := s.(*PostgresStore); !ok {
		t.Errorf("postgres DSN yielded %T", s)
	}
}
