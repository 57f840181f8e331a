package bridge

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// IDAllocator hands out the monotonically increasing endpoint identities a
// Bridge assigns at signal_new_endpoint time.
type IDAllocator interface {
	Next(ctx context.Context) (uint32, error)
}

// localAllocator is an in-process counter, used when clustering is
// disabled: every bridge process owns its own id space.
type localAllocator struct {
	next uint64
}

// NewLocalAllocator returns an IDAllocator that counts up from 1 within
// this process only.
func NewLocalAllocator() IDAllocator {
	return &localAllocator{}
}

func (a *localAllocator) Next(ctx context.Context) (uint32, error) {
	return uint32(atomic.AddUint64(&a.next, 1)), nil
}

// redisAllocator allocates ids from a shared Redis INCR counter so multiple
// bridge processes behind the same signalling server never collide.
type redisAllocator struct {
	client *redis.Client
	key    string
}

// NewRedisAllocator returns an IDAllocator backed by a Redis INCR on key,
// shared across every bridge process pointed at the same Redis instance.
func NewRedisAllocator(client *redis.Client, key string) IDAllocator {
	return &redisAllocator{client: client, key: key}
}

func (a *redisAllocator) Next(ctx context.Context) (uint32, error) {
	id, err := a.client.Incr(ctx, a.key).Result()
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}
