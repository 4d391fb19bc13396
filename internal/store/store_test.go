package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/linguaflow/lingua-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T, cfg config.StoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" && cfg.RetentionMode != "ephemeral" {
		cfg.Path = filepath.Join(t.TempDir(), "lingua.db")
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenEphemeralIsNoOp(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "ephemeral"})

	if err := s.SavePhrase(context.Background(), "la sobremesa"); err != nil {
		t.Fatalf("save phrase: %v", err)
	}
	phrases, err := s.ListPhrases(context.Background())
	if err != nil {
		t.Fatalf("list phrases: %v", err)
	}
	if phrases != nil {
		t.Fatalf("ephemeral store returned %v", phrases)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "persistent"})

	got, err := s.LoadProfile(context.Background())
	if err != nil {
		t.Fatalf("load empty profile: %v", err)
	}
	if got != nil {
		t.Fatalf("empty store returned profile %q", got)
	}

	if err := s.SaveProfile(context.Background(), []byte(`{"language":"Spanish"}`)); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	if err := s.SaveProfile(context.Background(), []byte(`{"language":"French"}`)); err != nil {
		t.Fatalf("overwrite profile: %v", err)
	}

	got, err = s.LoadProfile(context.Background())
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if string(got) != `{"language":"French"}` {
		t.Fatalf("profile = %s", got)
	}
}

func TestPhrasesNewestFirstNoDuplicates(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "persistent"})

	s.clock = func() time.Time { return time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC) }
	if err := s.SavePhrase(context.Background(), "la sobremesa"); err != nil {
		t.Fatalf("save phrase: %v", err)
	}
	s.clock = func() time.Time { return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC) }
	if err := s.SavePhrase(context.Background(), "tutearse"); err != nil {
		t.Fatalf("save phrase: %v", err)
	}
	if err := s.SavePhrase(context.Background(), "la sobremesa"); err != nil {
		t.Fatalf("resave phrase: %v", err)
	}

	phrases, err := s.ListPhrases(context.Background())
	if err != nil {
		t.Fatalf("list phrases: %v", err)
	}
	if len(phrases) != 2 {
		t.Fatalf("got %d phrases, want 2", len(phrases))
	}
	if phrases[0].Text != "tutearse" || phrases[1].Text != "la sobremesa" {
		t.Fatalf("phrases = %+v", phrases)
	}

	if err := s.RemovePhrase(context.Background(), "tutearse"); err != nil {
		t.Fatalf("remove phrase: %v", err)
	}
	phrases, err = s.ListPhrases(context.Background())
	if err != nil {
		t.Fatalf("list phrases: %v", err)
	}
	if len(phrases) != 1 || phrases[0].Text != "la sobremesa" {
		t.Fatalf("phrases after remove = %+v", phrases)
	}
}

func TestTranscriptAppendListClear(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "persistent"})

	entries := []Entry{
		{ID: "e1", SessionID: "sess-1", Speaker: "user", Text: "Hola", CreatedAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
		{ID: "e2", SessionID: "sess-1", Speaker: "tutor", Text: "Buenos días", CreatedAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
		{ID: "e3", SessionID: "sess-2", Speaker: "user", Text: "Bonjour", CreatedAt: time.Date(2026, 2, 1, 9, 1, 0, 0, time.UTC)},
	}
	if err := s.AppendEntries(context.Background(), entries); err != nil {
		t.Fatalf("append entries: %v", err)
	}

	got, err := s.ListEntries(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e1" || got[1].ID != "e2" {
		t.Fatalf("entries = %+v", got)
	}

	if err := s.ClearEntries(context.Background(), "sess-1"); err != nil {
		t.Fatalf("clear entries: %v", err)
	}
	got, err = s.ListEntries(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("list entries after clear: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("entries survived clear: %+v", got)
	}
	if other, _ := s.ListEntries(context.Background(), "sess-2", 10); len(other) != 1 {
		t.Fatalf("unrelated session entries = %+v", other)
	}
}

func TestCorruptTimestampSurfacesError(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "persistent"})

	if _, err := s.db.ExecContext(context.Background(),
		`INSERT INTO phrases(text, saved_at) VALUES('la sobremesa', 'not-a-time')`); err != nil {
		t.Fatalf("seed phrase: %v", err)
	}
	if _, err := s.ListPhrases(context.Background()); err == nil {
		t.Fatal("corrupt saved_at went unreported")
	}

	if _, err := s.db.ExecContext(context.Background(),
		`INSERT INTO transcript_entries(entry_id, session_id, speaker, text, created_at)
		 VALUES('e1', 'sess-1', 'user', 'Hola', 'garbage')`); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	if _, err := s.ListEntries(context.Background(), "sess-1", 10); err == nil {
		t.Fatal("corrupt created_at went unreported")
	}
}

func TestPruneByDaysAndMaxEntries(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxEntries: 2})

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.AppendEntries(context.Background(), []Entry{
		{ID: "old", SessionID: "s", Speaker: "user", Text: "stale", CreatedAt: old},
		{ID: "n1", SessionID: "s", Speaker: "user", Text: "a", CreatedAt: old.AddDate(0, 0, 2)},
		{ID: "n2", SessionID: "s", Speaker: "tutor", Text: "b", CreatedAt: old.AddDate(0, 0, 2).Add(time.Minute)},
		{ID: "n3", SessionID: "s", Speaker: "user", Text: "c", CreatedAt: old.AddDate(0, 0, 2).Add(2 * time.Minute)},
	}); err != nil {
		t.Fatalf("append entries: %v", err)
	}

	s.clock = func() time.Time { return old.AddDate(0, 0, 2).Add(time.Hour) }
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	got, err := s.ListEntries(context.Background(), "s", 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(got) != 2 || got[0].ID != "n2" || got[1].ID != "n3" {
		t.Fatalf("entries after prune = %+v", got)
	}
}
