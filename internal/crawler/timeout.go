package crawler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// deadlineClient bounds every unary remote call with a fixed timeout. A call
// that runs out of time is reported as ErrFetchFailed so callers treat it as
// an item-level failure.
type deadlineClient struct {
	next    RemoteClient
	timeout time.Duration
}

// WithDeadline wraps c so each call is bounded by d. A non-positive d returns
// c unchanged.
func WithDeadline(c RemoteClient, d time.Duration) RemoteClient {
	if d <= 0 || c == nil {
		return c
	}
	if dc, ok := c.(*deadlineClient); ok {
		return &deadlineClient{next: dc.next, timeout: d}
	}
	return &deadlineClient{next: c, timeout: d}
}

func (c *deadlineClient) Ping(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.Ping(callCtx)
}

func (c *deadlineClient) UpdateSession(session SessionMaterial) {
	c.next.UpdateSession(session)
}

func (c *deadlineClient) SearchNotes(ctx context.Context, keyword string, page int, sort SortOrder) (SearchPage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.next.SearchNotes(callCtx, keyword, page, sort)
	return res, deadlineErr(ctx, "search notes", err)
}

func (c *deadlineClient) NoteDetail(ctx context.Context, noteID string) (Note, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	note, err := c.next.NoteDetail(callCtx, noteID)
	return note, deadlineErr(ctx, "note detail", err)
}

func (c *deadlineClient) CreatorInfo(ctx context.Context, userID string) (*Creator, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	creator, err := c.next.CreatorInfo(callCtx, userID)
	return creator, deadlineErr(ctx, "creator info", err)
}

// Streams span many requests, so only the error conversion applies; each page
// request is bounded by the client's own transport timeout.
func (c *deadlineClient) CreatorNotes(ctx context.Context, userID string, pacing time.Duration) iter.Seq2[[]NoteRef, error] {
	return convertStream(ctx, "creator notes", c.next.CreatorNotes(ctx, userID, pacing))
}

func (c *deadlineClient) NoteComments(ctx context.Context, noteID string, pacing time.Duration) iter.Seq2[[]Comment, error] {
	return convertStream(ctx, "note comments", c.next.NoteComments(ctx, noteID, pacing))
}

func convertStream[T any](ctx context.Context, op string, seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for v, err := range seq {
			if !yield(v, deadlineErr(ctx, op, err)) {
				return
			}
		}
	}
}

// deadlineErr converts a per-call timeout into ErrFetchFailed. Cancellation
// or expiry of the caller's own context is passed through untouched.
func deadlineErr(parent context.Context, op string, err error) error {
	if err == nil || parent.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrFetchFailed) {
		return fmt.Errorf("%s: %w: %w", op, ErrFetchFailed, err)
	}
	return err
}
