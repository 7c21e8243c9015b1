// Package publisher announces saved crawl results to downstream consumers.
package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/crawler"
	"github.com/JakeFAU/notecrawler/internal/hash/sha256"
)

// Publisher sends a payload to a topic and returns the broker's message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Kinds of saved records.
const (
	KindNote     = "note"
	KindCreator  = "creator"
	KindComments = "comments"
)

// SavedEvent is the payload published after a successful save.
type SavedEvent struct {
	Kind    string    `json:"kind"`
	ID      string    `json:"id"`
	Count   int       `json:"count,omitempty"`
	Digest  string    `json:"digest,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// EventKind is used as a message attribute by brokers that support them.
func (e SavedEvent) EventKind() string { return e.Kind }

// NotifyingSink decorates a ResultSink, publishing a SavedEvent after every
// successful save. Publish failures are logged and never fail the save.
type NotifyingSink struct {
	next      crawler.ResultSink
	publisher Publisher
	topic     string
	hasher    *sha256.Hasher
	logger    *zap.Logger
	now       func() time.Time
}

var _ crawler.ResultSink = (*NotifyingSink)(nil)

// NewNotifyingSink wraps next.
func NewNotifyingSink(next crawler.ResultSink, pub Publisher, topic string, logger *zap.Logger) *NotifyingSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyingSink{
		next:      next,
		publisher: pub,
		topic:     topic,
		hasher:    sha256.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// SaveNote saves then announces the note.
func (s *NotifyingSink) SaveNote(ctx context.Context, note crawler.Note) error {
	if err := s.next.SaveNote(ctx, note); err != nil {
		return err //nolint:wrapcheck
	}
	s.announce(ctx, KindNote, note.NoteID, 0, note)
	return nil
}

// SaveCreator saves then announces the creator.
func (s *NotifyingSink) SaveCreator(ctx context.Context, userID string, creator crawler.Creator) error {
	if err := s.next.SaveCreator(ctx, userID, creator); err != nil {
		return err //nolint:wrapcheck
	}
	s.announce(ctx, KindCreator, userID, 0, creator)
	return nil
}

// SaveComments saves then announces the page with its size.
func (s *NotifyingSink) SaveComments(ctx context.Context, noteID string, comments []crawler.Comment) error {
	if err := s.next.SaveComments(ctx, noteID, comments); err != nil {
		return err //nolint:wrapcheck
	}
	if len(comments) > 0 {
		s.announce(ctx, KindComments, noteID, len(comments), comments)
	}
	return nil
}

func (s *NotifyingSink) announce(ctx context.Context, kind, id string, count int, record any) {
	evt := SavedEvent{Kind: kind, ID: id, Count: count, SavedAt: s.now().UTC()}
	if digest, err := s.hasher.HashJSON(record); err == nil {
		evt.Digest = digest
	}
	msgID, err := s.publisher.Publish(ctx, s.topic, evt)
	if err != nil {
		s.logger.Warn("publish save notification failed",
			zap.String("kind", kind), zap.String("id", id), zap.Error(err))
		return
	}
	s.logger.Debug("published save notification",
		zap.String("kind", kind), zap.String("id", id), zap.String("message_id", msgID))
}
