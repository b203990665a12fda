package sweeper

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const slotLockPrefix = "kassenwart:sweep:lock:"

// SlotLock keeps one instance of a sweep kind running per slot across
// nodes. Acquire returns ok=false when another holder owns the slot.
type SlotLock interface {
	Acquire(ctx context.Context, kind string, ttl time.Duration) (release func(), ok bool, err error)
}

// NopSlotLock always grants the slot.
type NopSlotLock struct{}

func (NopSlotLock) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

// releaseScript deletes the key only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisSlotLock struct {
	client *redis.Client
}

func NewRedisSlotLock(client *redis.Client) *RedisSlotLock {
	return &RedisSlotLock{client: client}
}

func (l *RedisSlotLock) Acquire(ctx context.Context, kind string, ttl time.Duration) (func(), bool, error) {
	key := slotLockPrefix + kind
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			log.Warnf("[Sweeper] failed to release slot lock %s: %v", key, err)
		}
	}
	return release, true, nil
}
