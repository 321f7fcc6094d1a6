package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/loopwork/factotum/pkg/models"
)

// SQLiteStore persists transcripts in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and prepares the
// schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc.org/sqlite is not safe for concurrent writers on one
	// connection pool without this.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			is_from_bot INTEGER NOT NULL,
			sender TEXT,
			text TEXT NOT NULL,
			external_message_id TEXT,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}
	_, err = s.db.Exec("CREATE INDEX IF NOT EXISTS idx_transcripts_chat ON transcripts(chat_id, id)")
	if err != nil {
		return fmt.Errorf("create transcripts index: %w", err)
	}
	return nil
}

// Append implements TranscriptStore.
func (s *SQLiteStore) Append(ctx context.Context, chatID string, rec *models.TranscriptRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (chat_id, is_from_bot, sender, text, external_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, chatID, rec.IsFromBot, rec.Sender, rec.Text, rec.ExternalMessageID, ts)
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Recent implements TranscriptStore. Results come back oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, chatID string, limit int) ([]*models.TranscriptRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT is_from_bot, sender, text, external_message_id, created_at
		FROM transcripts
		WHERE chat_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var recs []*models.TranscriptRecord
	for rows.Next() {
		rec := &models.TranscriptRecord{}
		var sender, extID sql.NullString
		if err := rows.Scan(&rec.IsFromBot, &sender, &rec.Text, &extID, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		rec.Sender = sender.String
		rec.ExternalMessageID = extID.String
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// Close implements TranscriptStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ TranscriptStore = (*SQLiteStore)(nil)
var _ TranscriptStore = (*MemoryStore)(nil)
