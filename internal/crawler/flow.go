package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/progress"
)

// Flow is one crawl mode's pipeline.
type Flow interface {
	Run(ctx context.Context, s *Session) error
}

type searchFlow struct{ *pipeline }

// Run processes keywords in order. A failing search page abandons the rest of
// its keyword only.
func (f searchFlow) Run(ctx context.Context, s *Session) error {
	for _, keyword := range f.cfg.Keywords {
		if err := f.keyword(ctx, s.Client, keyword); err != nil {
			return err
		}
	}
	return nil
}

func (f searchFlow) keyword(ctx context.Context, client RemoteClient, keyword string) error {
	logger := f.logger.With(zap.String("keyword", keyword))
	start, limit := f.cfg.StartPage, f.cfg.maxNotes()
	logger.Info("searching keyword", zap.Int("start_page", start), zap.Int("max_notes", limit))

	for page := 1; (page-start+1)*PerPageLimit <= limit; {
		if page < start {
			logger.Debug("skipping page below start page", zap.Int("page", page))
			page++
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("search %q: %w", keyword, err)
		}
		began := time.Now()
		res, err := client.SearchNotes(ctx, keyword, page, f.cfg.Sort)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return fmt.Errorf("search %q page %d: %w", keyword, page, err)
			}
			SearchPages.WithLabelValues("failed").Inc()
			logger.Error("search page failed, abandoning keyword", zap.Int("page", page), zap.Error(err))
			f.report(progress.Event{
				Stage: progress.StageKeywordAbandoned, Keyword: keyword, Page: page, Note: err.Error(),
			})
			return nil
		}
		SearchPages.WithLabelValues("ok").Inc()

		ids := make([]string, 0, len(res.Items))
		for _, item := range res.Items {
			if item.IsContent() && item.ID != "" {
				ids = append(ids, item.ID)
			}
		}
		saved, err := f.saveDetails(ctx, client, ids)
		if err != nil {
			return fmt.Errorf("search %q page %d: %w", keyword, page, err)
		}
		logger.Info("search page done",
			zap.Int("page", page),
			zap.Int("items", len(res.Items)),
			zap.Int("saved", len(saved)),
		)
		f.report(progress.Event{
			Stage: progress.StagePageDone, Keyword: keyword, Page: page,
			Count: len(saved), Dur: time.Since(began),
		})
		page++
		if err := f.saveComments(ctx, client, saved); err != nil {
			return fmt.Errorf("search %q: %w", keyword, err)
		}
	}
	return nil
}

type detailFlow struct{ *pipeline }

// Run saves the configured notes, then crawls comments for every configured ID.
func (f detailFlow) Run(ctx context.Context, s *Session) error {
	if _, err := f.saveDetails(ctx, s.Client, f.cfg.NoteIDs); err != nil {
		return fmt.Errorf("detail: %w", err)
	}
	if err := f.saveComments(ctx, s.Client, f.cfg.NoteIDs); err != nil {
		return fmt.Errorf("detail: %w", err)
	}
	return nil
}

type creatorFlow struct{ *pipeline }

// Run crawls each creator's profile and timeline, then the comments of every
// note discovered on the timeline.
func (f creatorFlow) Run(ctx context.Context, s *Session) error {
	for _, userID := range f.cfg.CreatorIDs {
		if err := f.creator(ctx, s.Client, userID); err != nil {
			return fmt.Errorf("creator %s: %w", userID, err)
		}
	}
	return nil
}

func (f creatorFlow) creator(ctx context.Context, client RemoteClient, userID string) error {
	logger := f.logger.With(zap.String("user_id", userID))

	info, err := client.CreatorInfo(ctx, userID)
	switch {
	case err == nil && info != nil:
		if err := f.sink.SaveCreator(ctx, userID, *info); err != nil {
			return fmt.Errorf("save creator: %w", err)
		}
		RecordsSaved.WithLabelValues("creator").Inc()
		f.report(progress.Event{Stage: progress.StageCreatorSaved, ItemID: userID, Count: 1})
	case err == nil:
		logger.Info("creator profile empty")
	case IsItemLevel(err):
		logger.Error("creator profile unavailable", zap.Error(err))
	default:
		return fmt.Errorf("creator info: %w", err)
	}

	var discovered []string
	seen := make(map[string]struct{})
	for refs, err := range client.CreatorNotes(ctx, userID, f.pacing()) {
		if err != nil {
			if !IsItemLevel(err) {
				return fmt.Errorf("creator notes: %w", err)
			}
			logger.Error("creator timeline stopped early", zap.Error(err), zap.Int("discovered", len(discovered)))
			break
		}
		ids := make([]string, 0, len(refs))
		for _, ref := range refs {
			if ref.NoteID == "" {
				continue
			}
			if _, ok := seen[ref.NoteID]; ok {
				continue
			}
			seen[ref.NoteID] = struct{}{}
			ids = append(ids, ref.NoteID)
		}
		if _, err := f.saveDetails(ctx, client, ids); err != nil {
			return err
		}
		discovered = append(discovered, ids...)
	}
	logger.Info("creator timeline done", zap.Int("notes", len(discovered)))
	return f.saveComments(ctx, client, discovered)
}
