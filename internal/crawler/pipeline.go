package crawler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/progress"
)

// pipeline holds the persistence steps shared by every flow.
type pipeline struct {
	cfg    Config
	sink   ResultSink
	logger *zap.Logger
	report func(progress.Event)
}

// pacing draws the delay between successive page requests of a stream.
func (p *pipeline) pacing() time.Duration {
	if p.cfg.MaxPacing <= 0 {
		return 0
	}
	return rand.N(p.cfg.MaxPacing)
}

// saveDetails fetches the detail of every id with bounded concurrency, saves
// the present ones and returns their IDs in submission order.
func (p *pipeline) saveDetails(ctx context.Context, client RemoteClient, ids []string) ([]string, error) {
	outcomes, err := FetchBatch(ctx, BatchOptions{
		Name:   "note_detail",
		Limit:  p.cfg.MaxConcurrency,
		Logger: p.logger,
	}, ids, client.NoteDetail)
	if err != nil {
		return nil, fmt.Errorf("note details: %w", err)
	}
	saved := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.OK {
			continue
		}
		note := o.Value
		if note.NoteID == "" {
			note.NoteID = o.ID
		}
		if err := p.sink.SaveNote(ctx, note); err != nil {
			return nil, fmt.Errorf("save note %s: %w", note.NoteID, err)
		}
		RecordsSaved.WithLabelValues("note").Inc()
		saved = append(saved, note.NoteID)
	}
	if len(saved) > 0 {
		p.report(progress.Event{Stage: progress.StageNotesSaved, Count: len(saved)})
	}
	return saved, nil
}

// saveComments runs the comment driver over noteIDs. Each note enumerates
// its comment pages as a stream and every page is saved as soon as it
// arrives, so pages fetched before a failure are kept.
func (p *pipeline) saveComments(ctx context.Context, client RemoteClient, noteIDs []string) error {
	if !p.cfg.EnableComments {
		p.logger.Info("comment crawling disabled, skipping", zap.Int("notes", len(noteIDs)))
		return nil
	}
	outcomes, err := FetchBatch(ctx, BatchOptions{
		Name:   "note_comments",
		Limit:  p.cfg.MaxConcurrency,
		Logger: p.logger,
	}, noteIDs, func(ctx context.Context, noteID string) (int, error) {
		saved := 0
		for page, err := range client.NoteComments(ctx, noteID, p.pacing()) {
			if err != nil {
				return saved, err
			}
			if len(page) == 0 {
				continue
			}
			if err := p.sink.SaveComments(ctx, noteID, page); err != nil {
				return saved, fmt.Errorf("save comments: %w", err)
			}
			RecordsSaved.WithLabelValues("comment").Add(float64(len(page)))
			saved += len(page)
			p.report(progress.Event{Stage: progress.StageCommentsSaved, ItemID: noteID, Count: len(page)})
		}
		return saved, nil
	})
	if err != nil {
		return fmt.Errorf("note comments: %w", err)
	}
	total := 0
	for _, n := range Present(outcomes) {
		total += n
	}
	p.logger.Info("comments saved", zap.Int("notes", len(noteIDs)), zap.Int("comments", total))
	return nil
}
