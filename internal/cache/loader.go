package cache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader fronts a TTL cache with singleflight so concurrent misses for the
// same key hit the backing store once.
type Loader[V any] struct {
	cache Cache[string, V]
	group singleflight.Group
	ttl   time.Duration
}

func NewLoader[V any](ttl time.Duration) *Loader[V] {
	return &Loader[V]{
		cache: NewTTLCache[string, V](),
		ttl:   ttl,
	}
}

func (l *Loader[V]) Get(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if v, ok := l.cache.Get(key); ok {
		return v, nil
	}
	res, err, _ := l.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		l.cache.Set(key, v, l.ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, ok := res.(V)
	if !ok {
		var zero V
		return zero, fmt.Errorf("cache: unexpected value type for %q", key)
	}
	return v, nil
}

func (l *Loader[V]) Invalidate(key string) {
	l.cache.Delete(key)
}
