// Package storage selects and opens the crawler.ResultSink a run writes to.
// The backends live in subpackages; this package only wires them from
// configuration.
package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/crawler"
	"github.com/JakeFAU/notecrawler/internal/storage/blob"
	"github.com/JakeFAU/notecrawler/internal/storage/gcs"
	"github.com/JakeFAU/notecrawler/internal/storage/local"
	"github.com/JakeFAU/notecrawler/internal/storage/memory"
	"github.com/JakeFAU/notecrawler/internal/storage/postgres"
	"github.com/JakeFAU/notecrawler/internal/storage/sqlite"
)

// Provider names accepted in Config.Provider.
const (
	ProviderNone     = "none"
	ProviderMemory   = "memory"
	ProviderJSON     = "json"
	ProviderSQLite   = "sqlite"
	ProviderPostgres = "postgres"
	ProviderGCS      = "gcs"
)

// Config selects a backend and carries its settings.
type Config struct {
	Provider    string
	Dir         string
	SQLitePath  string
	DSN         string
	TablePrefix string
	Bucket      string
	Prefix      string
	Endpoint    string
}

// Sink is an opened backend plus its release function.
type Sink struct {
	crawler.ResultSink
	close func() error
}

// Close releases the backend's resources.
func (s *Sink) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open builds the backend named by cfg.Provider.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	logger.Info("opening result sink", zap.String("provider", provider))

	switch provider {
	case ProviderNone:
		return &Sink{ResultSink: NoOpSink{}}, nil
	case "", ProviderMemory:
		return &Sink{ResultSink: memory.NewSink()}, nil
	case ProviderJSON:
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("open json sink: %w", err)
		}
		sink, err := blob.NewSink(store, cfg.Prefix, logger)
		if err != nil {
			return nil, fmt.Errorf("open json sink: %w", err)
		}
		return &Sink{ResultSink: sink}, nil
	case ProviderSQLite:
		sink, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite sink: %w", err)
		}
		return &Sink{ResultSink: sink, close: sink.Close}, nil
	case ProviderPostgres:
		sink, err := postgres.NewSink(ctx, postgres.Config{DSN: cfg.DSN, TablePrefix: cfg.TablePrefix})
		if err != nil {
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		if err := sink.EnsureSchema(ctx); err != nil {
			sink.Close()
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		return &Sink{ResultSink: sink, close: func() error { sink.Close(); return nil }}, nil
	case ProviderGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket, Endpoint: cfg.Endpoint})
		if err != nil {
			return nil, fmt.Errorf("open gcs sink: %w", err)
		}
		sink, err := blob.NewSink(store, cfg.Prefix, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open gcs sink: %w", err)
		}
		return &Sink{ResultSink: sink, close: store.Close}, nil
	default:
		return nil, fmt.Errorf("unknown sink provider %q", cfg.Provider)
	}
}

// NoOpSink discards every result. It is useful for dry runs where content is
// fetched but not saved.
type NoOpSink struct{}

// SaveNote does nothing.
func (NoOpSink) SaveNote(context.Context, crawler.Note) error { return nil }

// SaveCreator does nothing.
func (NoOpSink) SaveCreator(context.Context, string, crawler.Creator) error { return nil }

// SaveComments does nothing.
func (NoOpSink) SaveComments(context.Context, string, []crawler.Comment) error { return nil }
