package xhs

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

const (
	pathSearch     = "/api/sns/web/v1/search/notes"
	pathFeed       = "/api/sns/web/v1/feed"
	pathComments   = "/api/sns/web/v2/comment/page"
	pathUserPosted = "/api/sns/web/v1/user_posted"

	pingKeyword     = "小红书"
	creatorPageSize = 30
)

// Ping reports whether the session can run an authenticated search.
func (c *Client) Ping(ctx context.Context) bool {
	page, err := c.SearchNotes(ctx, pingKeyword, 1, crawler.SortGeneral)
	if err != nil {
		c.logger.Info("ping failed", zap.Error(err))
		return false
	}
	return len(page.Items) > 0
}

// SearchNotes fetches one page of keyword results.
func (c *Client) SearchNotes(ctx context.Context, keyword string, page int, sort crawler.SortOrder) (crawler.SearchPage, error) {
	if sort == "" {
		sort = crawler.SortGeneral
	}
	var data searchData
	err := c.post(ctx, "search notes", pathSearch, searchRequest{
		Keyword:  keyword,
		Page:     page,
		PageSize: crawler.PerPageLimit,
		SearchID: searchID(time.Now()),
		Sort:     string(sort),
	}, &data)
	if err != nil {
		return crawler.SearchPage{}, err
	}
	return data.page(), nil
}

// NoteDetail fetches one note card from the feed endpoint.
func (c *Client) NoteDetail(ctx context.Context, noteID string) (crawler.Note, error) {
	var data feedData
	err := c.post(ctx, "note detail", pathFeed, feedRequest{
		SourceNoteID: noteID,
		ImageScenes:  []string{"CRD_WM_WEBP"},
	}, &data)
	if err != nil {
		return crawler.Note{}, err
	}
	if len(data.Items) == 0 {
		return crawler.Note{}, fmt.Errorf("note detail %s: %w", noteID, crawler.ErrNotFound)
	}
	return data.Items[0].NoteCard.note(noteID, c.cfg.WebURL), nil
}

// NoteComments streams every comment page of noteID.
func (c *Client) NoteComments(ctx context.Context, noteID string, pacing time.Duration) iter.Seq2[[]crawler.Comment, error] {
	return paginate(ctx, pacing, func(ctx context.Context, cursor string) ([]crawler.Comment, string, bool, error) {
		var data commentData
		err := c.get(ctx, "note comments", pathComments, url.Values{
			"note_id": {noteID},
			"cursor":  {cursor},
		}, &data)
		if err != nil {
			return nil, "", false, err
		}
		comments, skipped := data.flatten(noteID)
		if skipped > 0 {
			c.logger.Warn("comments without id dropped",
				zap.String("note_id", noteID),
				zap.Int("skipped", skipped),
			)
		}
		return comments, data.Cursor, data.HasMore, nil
	})
}

// CreatorNotes streams the creator's posted notes page by page.
func (c *Client) CreatorNotes(ctx context.Context, userID string, pacing time.Duration) iter.Seq2[[]crawler.NoteRef, error] {
	return paginate(ctx, pacing, func(ctx context.Context, cursor string) ([]crawler.NoteRef, string, bool, error) {
		var data postedData
		err := c.get(ctx, "creator notes", pathUserPosted, url.Values{
			"num":           {strconv.Itoa(creatorPageSize)},
			"cursor":        {cursor},
			"user_id":       {userID},
			"image_formats": {"jpg,webp,avif"},
		}, &data)
		if err != nil {
			return nil, "", false, err
		}
		return data.refs(), data.Cursor, data.HasMore, nil
	})
}

// paginate turns a cursor-based page fetcher into a stream. The sequence
// ends after the first error, when the server reports no more pages or when
// the cursor stops advancing.
func paginate[T any](
	ctx context.Context,
	pacing time.Duration,
	next func(ctx context.Context, cursor string) ([]T, string, bool, error),
) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		cursor := ""
		for first := true; ; first = false {
			if !first {
				if err := wallClock.Sleep(ctx, pacing); err != nil {
					yield(nil, err)
					return
				}
			}
			items, nextCursor, more, err := next(ctx, cursor)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(items, nil) {
				return
			}
			if !more || nextCursor == "" || nextCursor == cursor {
				return
			}
			cursor = nextCursor
		}
	}
}

// searchID builds a per-request search id from the millisecond timestamp and
// a random suffix, both in base 36.
func searchID(now time.Time) string {
	hi := strconv.FormatInt(now.UnixMilli(), 36)
	lo := strconv.FormatUint(rand.Uint64N(1<<62), 36)
	return hi + lo
}
