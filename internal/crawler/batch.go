package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one task in a batch. OK is false when the item
// was skipped because of an item-level failure.
type Outcome[T any] struct {
	ID    string
	Value T
	OK    bool
}

// BatchOptions configures one FetchBatch invocation.
type BatchOptions struct {
	// Name labels the batch in logs and metrics (e.g. "note_detail").
	Name string
	// Limit is the maximum number of in-flight fetches.
	Limit  int
	Logger *zap.Logger
}

// FetchBatch runs fetch for every id with at most opts.Limit calls in flight.
// Each batch owns its own permit pool. Item-level failures (see IsItemLevel)
// are logged and yield an absent outcome without disturbing sibling tasks;
// any other error cancels the batch and is returned. Outcomes are returned in
// submission order.
func FetchBatch[T any](
	ctx context.Context,
	opts BatchOptions,
	ids []string,
	fetch func(ctx context.Context, id string) (T, error),
) ([]Outcome[T], error) {
	outcomes := make([]Outcome[T], len(ids))
	if len(ids) == 0 {
		return outcomes, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.Limit
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		if gctx.Err() != nil {
			break
		}
		outcomes[i].ID = id
		// Go blocks until one of the limit permits is free; the permit is
		// returned when the func exits, whatever the path.
		g.Go(func() error {
			value, err := fetch(gctx, id)
			switch {
			case err == nil:
				outcomes[i].Value = value
				outcomes[i].OK = true
				observeBatchItem(opts.Name, outcomeFetched)
				return nil
			case IsItemLevel(err):
				observeBatchItem(opts.Name, outcomeSkipped)
				logger.Error("batch item skipped",
					zap.String("batch", opts.Name),
					zap.String("id", id),
					zap.Error(err),
				)
				return nil
			default:
				observeBatchItem(opts.Name, outcomeFatal)
				return fmt.Errorf("%s %s: %w", opts.Name, id, err)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s batch: %w", opts.Name, err)
	}
	return outcomes, nil
}

// Present returns the values of the fetched outcomes, preserving order.
func Present[T any](outcomes []Outcome[T]) []T {
	out := make([]T, 0, len(outcomes))
	for _, o := range outcomes {
		if o.OK {
			out = append(out, o.Value)
		}
	}
	return out
}
