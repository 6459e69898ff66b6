package realtime

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"
)

// DedupeRegistry collapses concurrent calls sharing a key into a single
// in-flight operation. Multiple UI triggers routinely fire the same refresh
// at once; only the first actually runs, the rest wait on its result.
type DedupeRegistry struct {
	group singleflight.Group
}

// NewDedupeRegistry creates an empty registry.
func NewDedupeRegistry() *DedupeRegistry {
	return &DedupeRegistry{}
}

// Do executes op under the given key. If another call with the same key is
// already in flight, Do waits for it and returns its result instead of
// invoking op again. A blank key opts out of deduplication entirely and
// runs op directly.
//
// Failures propagate to every waiter. The registry entry is removed when
// the operation settles, so it never acts as a result cache.
func (d *DedupeRegistry) Do(ctx context.Context, key string, op func(context.Context) (any, error)) (any, error) {
	if strings.TrimSpace(key) == "" {
		return op(ctx)
	}

	result, err, _ := d.group.Do(key, func() (any, error) {
		return op(ctx)
	})

	return result, err
}
