package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

// KEYS[1] list of job ids, KEYS[2] hash of entry metadata.
var (
	enqueueScript = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

	requeueScript = redis.NewScript(`
redis.call('LPUSH', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

	claimScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
	return false
end
local meta = redis.call('HGET', KEYS[2], id)
redis.call('HDEL', KEYS[2], id)
return {id, meta or ''}
`)

	removeScript = redis.NewScript(`
local n = redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return n
`)
)

// RedisQueue is a durable dispatch queue that survives control-plane
// restarts. The worker registry stays in-process, so exactly one control
// plane may use a given key. Every mutation runs as a single Lua script.
type RedisQueue struct {
	client   *redis.Client
	listKey  string
	metaKey  string
	capacity int
}

func NewRedisQueue(client *redis.Client, key string, capacity int) *RedisQueue {
	return &RedisQueue{
		client:   client,
		listKey:  key,
		metaKey:  key + ":meta",
		capacity: capacity,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, entry entity.QueueEntry) error {
	meta, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ok, err := enqueueScript.Run(ctx, q.client, q.keys(), entry.JobID.String(), meta, q.capacity).Int()
	if err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}
	if ok == 0 {
		return dispatch.ErrOverloaded
	}
	return nil
}

func (q *RedisQueue) Requeue(ctx context.Context, entry entity.QueueEntry) error {
	meta, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := requeueScript.Run(ctx, q.client, q.keys(), entry.JobID.String(), meta).Err(); err != nil {
		return fmt.Errorf("redis requeue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context) (*entity.QueueEntry, error) {
	res, err := claimScript.Run(ctx, q.client, q.keys()).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis claim: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redis claim: unexpected reply %v", res)
	}

	id, err := uuid.Parse(res[0])
	if err != nil {
		return nil, fmt.Errorf("redis claim: bad job id %q: %w", res[0], err)
	}
	entry := entity.QueueEntry{JobID: id}
	if res[1] != "" {
		if err := json.Unmarshal([]byte(res[1]), &entry); err != nil {
			return nil, fmt.Errorf("redis claim: bad entry for %s: %w", id, err)
		}
	}
	return &entry, nil
}

func (q *RedisQueue) Remove(ctx context.Context, jobID uuid.UUID) (bool, error) {
	n, err := removeScript.Run(ctx, q.client, q.keys(), jobID.String()).Int()
	if err != nil {
		return false, fmt.Errorf("redis remove: %w", err)
	}
	return n > 0, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.listKey).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (q *RedisQueue) Capacity() int {
	return q.capacity
}

func (q *RedisQueue) keys() []string {
	return []string{q.listKey, q.metaKey}
}
