package player

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// share runs fn once per key across concurrent callers of g. A caller whose
// ctx ends stops waiting while the shared call runs on.
func share[V any](ctx context.Context, g *singleflight.Group, key string, fn func() (V, error)) (V, error) {
	ch := g.DoChan(key, func() (any, error) {
		v, err := fn()
		return v, err
	})
	select {
	case r := <-ch:
		v, _ := r.Val.(V)
		return v, r.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
