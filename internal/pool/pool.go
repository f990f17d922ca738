// Package pool runs a function over a batch of items with bounded concurrency.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds outbound fan-out so upstream rate limits are not hit
// by a single large batch.
const DefaultWorkers = 4

// Map calls fn for every item with at most k calls in flight and returns the
// results in input order. fn reports failures through its result value; a
// cancelled ctx stops scheduling new items, leaving their results zero.
func Map[T, R any](ctx context.Context, items []T, k int, fn func(context.Context, T) R) []R {
	if k <= 0 {
		k = DefaultWorkers
	}
	out := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out[i] = fn(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
