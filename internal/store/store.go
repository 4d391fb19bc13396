package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linguaflow/lingua-core/internal/config"
)

// Entry is one persisted transcript utterance.
type Entry struct {
	ID        string
	SessionID string
	Speaker   string
	Text      string
	CreatedAt time.Time
}

// Phrase is a vocabulary item the learner saved from the conversation.
type Phrase struct {
	Text    string
	SavedAt time.Time
}

// Store persists the learner's profile, saved phrases and transcript history
// in SQLite. With retention mode "ephemeral" it keeps nothing and every
// operation is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS profile (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    payload BLOB,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS phrases (
    text TEXT PRIMARY KEY,
    saved_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS transcript_entries (
    entry_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    speaker TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_session_created ON transcript_entries(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveProfile stores the learner profile as an opaque payload. Validation of
// the payload happens at load time in the caller, so a corrupt profile never
// wedges startup.
func (s *Store) SaveProfile(ctx context.Context, payload []byte) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profile(id, payload, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		payload, s.clock().UTC())
	return err
}

// LoadProfile returns the stored profile payload, or nil when none exists.
func (s *Store) LoadProfile(ctx context.Context) ([]byte, error) {
	if s.db == nil {
		return nil, nil
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM profile WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// SavePhrase records a phrase in the notebook. Saving an already present
// phrase leaves its original save time untouched.
func (s *Store) SavePhrase(ctx context.Context, text string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phrases(text, saved_at) VALUES(?, ?) ON CONFLICT(text) DO NOTHING`,
		text, s.clock().UTC())
	return err
}

// RemovePhrase deletes a phrase from the notebook.
func (s *Store) RemovePhrase(ctx context.Context, text string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM phrases WHERE text = ?`, text)
	return err
}

// ListPhrases returns notebook phrases newest first.
func (s *Store) ListPhrases(ctx context.Context) ([]Phrase, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT text, saved_at FROM phrases ORDER BY saved_at DESC, text ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phrases []Phrase
	for rows.Next() {
		var p Phrase
		var saved string
		if err := rows.Scan(&p.Text, &saved); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, saved)
		if err != nil {
			return nil, fmt.Errorf("parse saved_at for %q: %w", p.Text, err)
		}
		p.SavedAt = ts
		phrases = append(phrases, p)
	}
	return phrases, rows.Err()
}

// AppendEntries records finalized transcript entries.
func (s *Store) AppendEntries(ctx context.Context, entries []Entry) error {
	if s.db == nil || len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.clock().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transcript_entries(entry_id, session_id, speaker, text, created_at)
			 VALUES(?, ?, ?, ?, ?)`,
			e.ID, e.SessionID, e.Speaker, e.Text, e.CreatedAt.UTC()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListEntries retrieves up to limit transcript entries for a session ordered
// ascending by time.
func (s *Store) ListEntries(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, session_id, speaker, text, created_at
		 FROM transcript_entries WHERE session_id = ? ORDER BY created_at ASC, entry_id ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Speaker, &e.Text, &created); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for entry %s: %w", e.ID, err)
		}
		e.CreatedAt = ts
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearEntries removes the transcript history for a session.
func (s *Store) ClearEntries(ctx context.Context, sessionID string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcript_entries WHERE session_id = ?`, sessionID)
	return err
}

// Prune applies configured retention.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM transcript_entries WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM transcript_entries WHERE entry_id IN (
			SELECT entry_id FROM transcript_entries ORDER BY created_at DESC, entry_id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
