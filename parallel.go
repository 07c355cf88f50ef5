package rhi

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RecordParallel calls fn for every list on its own goroutine and waits
// for all of them. The first error cancels ctx for the remaining calls
// and is returned.
//
// Each list is touched by exactly one goroutine. The lists may share
// pipelines through the Device's PipelineCache, but must not transition
// the same textures.
func RecordParallel(ctx context.Context, lists []*CommandList, fn func(ctx context.Context, i int, cl *CommandList) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, cl := range lists {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i, cl)
		})
	}
	return g.Wait()
}

// SubmitAll submits every list in order and returns the first error. A
// list that fails to submit drops its frame; later lists are still
// submitted.
func SubmitAll(lists ...*CommandList) error {
	var first error
	for _, cl := range lists {
		if err := cl.Submit(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
