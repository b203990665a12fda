package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	SettlementKey = "kassenwart:counters:settlement"
	SweepKey      = "kassenwart:counters:sweep"
)

// Counter keeps cluster-wide counters in a Redis hash so every node
// contributes to the same totals.
type Counter struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// New creates a counter on the given hash key. A nil client disables it.
func New(client *redis.Client, key string) *Counter {
	return &Counter{client: client, key: key, timeout: 500 * time.Millisecond}
}

// Incr adds one to field. Errors are logged and swallowed: counters must
// never fail the operation they observe.
func (c *Counter) Incr(ctx context.Context, field string) {
	c.Add(ctx, field, 1)
}

func (c *Counter) Add(ctx context.Context, field string, n int64) {
	if c == nil || c.client == nil || n == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.client.HIncrBy(ctx, c.key, field, n).Err(); err != nil {
		log.Debugf("[Counter] failed to increment %s/%s: %v", c.key, field, err)
	}
}

// Snapshot returns all fields of the hash.
func (c *Counter) Snapshot(ctx context.Context) (map[string]int64, error) {
	if c == nil || c.client == nil {
		return map[string]int64{}, nil
	}
	data, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Fields returns the sorted field names of a snapshot.
func Fields(snapshot map[string]int64) []string {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset drains the hash atomically and returns what it held.
func (c *Counter) Reset(ctx context.Context) (map[string]int64, error) {
	if c == nil || c.client == nil {
		return map[string]int64{}, nil
	}
	tmpKey := fmt.Sprintf("%s:tmp:%d", c.key, time.Now().UnixNano())
	if err := c.client.Rename(ctx, c.key, tmpKey).Err(); err != nil {
		if isNoSuchKey(err) {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	defer c.client.Del(ctx, tmpKey)

	tmp := &Counter{client: c.client, key: tmpKey, timeout: c.timeout}
	return tmp.Snapshot(ctx)
}

func isNoSuchKey(err error) bool {
	return errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key")
}
