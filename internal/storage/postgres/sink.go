// Package postgres provides a Postgres-backed crawler.ResultSink.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

var validPrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Sink upserts notes, creators and comments keyed on their natural IDs.
type Sink struct {
	pool     execCloser
	notes    string
	creators string
	comments string
}

var _ crawler.ResultSink = (*Sink)(nil)

// NewSink connects to Postgres and returns a Sink.
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sink, err := NewSinkWithPool(pool, cfg.TablePrefix)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

// NewSinkWithPool constructs a sink from an existing pool (primarily for testing).
func NewSinkWithPool(pool execCloser, prefix string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix == "" {
		prefix = "xhs_"
	}
	if !validPrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &Sink{
		pool:     pool,
		notes:    prefix + "notes",
		creators: prefix + "creators",
		comments: prefix + "comments",
	}, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the result tables when they do not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	note_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	published_at BIGINT NOT NULL DEFAULT 0,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.notes),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	user_id TEXT PRIMARY KEY,
	nickname TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.creators),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	note_id TEXT NOT NULL,
	comment_id TEXT NOT NULL,
	parent_comment_id TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL DEFAULT 0,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (note_id, comment_id)
)`, s.comments),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
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
	query := fmt.Sprintf(`
INSERT INTO %s (note_id, user_id, title, published_at, payload, updated_at)
VALUES ($1,$2,$3,$4,$5,now())
ON CONFLICT (note_id) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	title = EXCLUDED.title,
	published_at = EXCLUDED.published_at,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`, s.notes)
	if _, err := s.pool.Exec(ctx, query, note.NoteID, note.UserID, note.Title, note.PublishedAt, payload); err != nil {
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
	query := fmt.Sprintf(`
INSERT INTO %s (user_id, nickname, payload, updated_at)
VALUES ($1,$2,$3,now())
ON CONFLICT (user_id) DO UPDATE SET
	nickname = EXCLUDED.nickname,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`, s.creators)
	if _, err := s.pool.Exec(ctx, query, userID, creator.Nickname, payload); err != nil {
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin comments tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (note_id, comment_id, parent_comment_id, created_at, payload, updated_at)
VALUES ($1,$2,$3,$4,$5,now())
ON CONFLICT (note_id, comment_id) DO UPDATE SET
	parent_comment_id = EXCLUDED.parent_comment_id,
	created_at = EXCLUDED.created_at,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`, s.comments)
	for _, c := range comments {
		payload, mErr := json.Marshal(c)
		if mErr != nil {
			return fmt.Errorf("marshal comment: %w", mErr)
		}
		if _, err = tx.Exec(ctx, query, noteID, c.CommentID, c.ParentCommentID, c.CreatedAt, payload); err != nil {
			return fmt.Errorf("upsert comment %s: %w", c.CommentID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit comments: %w", err)
	}
	return nil
}
