// Package sqlite provides a crawler.ResultSink backed by a single SQLite
// file, for local runs that want queryable results without a server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=10000",
	"PRAGMA synchronous=NORMAL",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS notes (
	note_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	published_at INTEGER NOT NULL DEFAULT 0,
	payload TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS creators (
	user_id TEXT PRIMARY KEY,
	nickname TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS comments (
	note_id TEXT NOT NULL,
	comment_id TEXT NOT NULL,
	parent_comment_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0,
	payload TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (note_id, comment_id)
)`,
}

// Sink upserts results into SQLite.
type Sink struct {
	db *sql.DB
}

var _ crawler.ResultSink = (*Sink)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite serializes writers and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	sink, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// New wraps an open database, applying pragmas and the schema.
func New(ctx context.Context, db *sql.DB) (*Sink, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Sink{db: db}, nil
}

// Close closes the database.
func (s *Sink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// SaveNote upserts a note row.
func (s *Sink) SaveNote(ctx context.Context, note crawler.Note) error {
	if note.NoteID == "" {
		return fmt.Errorf("note id is required")
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}
	const query = `
INSERT INTO notes (note_id, user_id, title, published_at, payload, updated_at)
VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (note_id) DO UPDATE SET
	user_id = excluded.user_id,
	title = excluded.title,
	published_at = excluded.published_at,
	payload = excluded.payload,
	updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, note.NoteID, note.UserID, note.Title, note.PublishedAt, string(payload)); err != nil {
		return fmt.Errorf("upsert note %s: %w", note.NoteID, err)
	}
	return nil
}

// SaveCreator upserts a creator row.
func (s *Sink) SaveCreator(ctx context.Context, userID string, creator crawler.Creator) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	payload, err := json.Marshal(creator)
	if err != nil {
		return fmt.Errorf("marshal creator: %w", err)
	}
	const query = `
INSERT INTO creators (user_id, nickname, payload, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (user_id) DO UPDATE SET
	nickname = excluded.nickname,
	payload = excluded.payload,
	updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, userID, creator.Nickname, string(payload)); err != nil {
		return fmt.Errorf("upsert creator %s: %w", userID, err)
	}
	return nil
}

// SaveComments upserts one page of comments in a single transaction.
func (s *Sink) SaveComments(ctx context.Context, noteID string, comments []crawler.Comment) (err error) {
	if noteID == "" {
		return fmt.Errorf("note id is required")
	}
	if len(comments) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin comments tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	const query = `
INSERT INTO comments (note_id, comment_id, parent_comment_id, created_at, payload, updated_at)
VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (note_id, comment_id) DO UPDATE SET
	parent_comment_id = excluded.parent_comment_id,
	created_at = excluded.created_at,
	payload = excluded.payload,
	updated_at = excluded.updated_at`
	for _, c := range comments {
		payload, mErr := json.Marshal(c)
		if mErr != nil {
			return fmt.Errorf("marshal comment: %w", mErr)
		}
		if _, err = tx.ExecContext(ctx, query, noteID, c.CommentID, c.ParentCommentID, c.CreatedAt, string(payload)); err != nil {
			return fmt.Errorf("upsert comment %s: %w", c.CommentID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit comments: %w", err)
	}
	return nil
}
