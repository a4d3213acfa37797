package synchronizer

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// sharedWorkTimeout bounds work started on behalf of several callers.
const sharedWorkTimeout = 30 * time.Second

// joinShared runs fn once per key for all concurrent callers. fn runs under
// base with its own timeout, so a caller that gives up does not cancel it
// for the others; each caller only stops waiting when its ctx ends.
func joinShared[T any](ctx, base context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (any, error) {
		wctx, cancel := context.WithTimeout(base, sharedWorkTimeout)
		defer cancel()
		return fn(wctx)
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
