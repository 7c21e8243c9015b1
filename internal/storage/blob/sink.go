// Package blob persists crawl results as JSON objects in a blob store, one
// object per natural key.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

const contentType = "application/json"

// Store is implemented by the local and gcs blob stores.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Sink writes notes, creators and comments as JSON objects under a prefix:
//
//	<prefix>/notes/<note_id>.json
//	<prefix>/creators/<user_id>.json
//	<prefix>/comments/<note_id>/<comment_id>.json
type Sink struct {
	store  Store
	prefix string
	logger *zap.Logger
}

var _ crawler.ResultSink = (*Sink)(nil)

// NewSink wraps store. prefix may be empty.
func NewSink(store Store, prefix string, logger *zap.Logger) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}, nil
}

// SaveNote writes notes/<note_id>.json.
func (s *Sink) SaveNote(ctx context.Context, note crawler.Note) error {
	key, err := s.key("notes", note.NoteID)
	if err != nil {
		return err
	}
	return s.put(ctx, key, note)
}

// SaveCreator writes creators/<user_id>.json.
func (s *Sink) SaveCreator(ctx context.Context, userID string, creator crawler.Creator) error {
	key, err := s.key("creators", userID)
	if err != nil {
		return err
	}
	return s.put(ctx, key, creator)
}

// SaveComments writes one object per comment under comments/<note_id>/.
func (s *Sink) SaveComments(ctx context.Context, noteID string, comments []crawler.Comment) error {
	if err := validID(noteID); err != nil {
		return err
	}
	for _, c := range comments {
		key, err := s.key(path.Join("comments", noteID), c.CommentID)
		if err != nil {
			return err
		}
		if err := s.put(ctx, key, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) key(dir, id string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	return path.Join(s.prefix, dir, id+".json"), nil
}

func (s *Sink) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	uri, err := s.store.PutObject(ctx, key, contentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	s.logger.Debug("stored object", zap.String("uri", uri))
	return nil
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid object id %q", id)
	}
	return nil
}
