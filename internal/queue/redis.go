package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue stores jobs in a due-time ZSET with bodies in a hash, and a
// second ZSET (scored by claim time) for in-flight jobs. The due pop is a
// Lua script so a job moves pending -> processing atomically, skipping
// paused types.
//
// Keys, under the configured prefix:
//
//	<p>:pending     ZSET member=jobID score=runAt unix ms
//	<p>:processing  ZSET member=jobID score=claimedAt unix ms
//	<p>:jobs        HASH jobID -> job JSON
//	<p>:paused      SET of paused job types
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "leadflow:queue"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix}
}

func (q *RedisQueue) keyPending() string    { return q.prefix + ":pending" }
func (q *RedisQueue) keyProcessing() string { return q.prefix + ":processing" }
func (q *RedisQueue) keyJobs() string       { return q.prefix + ":jobs" }
func (q *RedisQueue) keyPaused() string     { return q.prefix + ":paused" }

var dequeueScript = redis.NewScript(`
-- KEYS[1] = pending zset
-- KEYS[2] = processing zset
-- KEYS[3] = jobs hash
-- KEYS[4] = paused set
-- ARGV[1] = now (unix ms)
--
-- Pops the oldest due job whose type is not paused.
-- Returns the job JSON, or false when nothing is eligible.
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 32)
for _, id in ipairs(due) do
  local body = redis.call('HGET', KEYS[3], id)
  if body then
    local jtype = cjson.decode(body)['type']
    if redis.call('SISMEMBER', KEYS[4], jtype) == 0 then
      redis.call('ZREM', KEYS[1], id)
      redis.call('ZADD', KEYS[2], ARGV[1], id)
      return body
    end
  else
    -- orphaned member, drop it
    redis.call('ZREM', KEYS[1], id)
  end
end
return false
`)

var requeueScript = redis.NewScript(`
-- KEYS[1] = processing zset
-- KEYS[2] = pending zset
-- ARGV[1] = cutoff (unix ms)
-- Moves jobs claimed before the cutoff back to pending, due immediately.
local stuck = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(stuck) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[1], id)
end
return #stuck
`)

func (q *RedisQueue) Enqueue(ctx context.Context, j Job) error {
	if j.ID == "" || !j.Type.Valid() {
		return ErrInvalidJob
	}
	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	// HSETNX first so a re-enqueue of a known ID is a no-op and cannot
	// clobber an in-flight job's body.
	set, err := q.rdb.HSetNX(ctx, q.keyJobs(), j.ID, body).Result()
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	if !set {
		return nil
	}
	if err := q.rdb.ZAdd(ctx, q.keyPending(), redis.Z{
		Score:  float64(j.RunAt.UnixMilli()),
		Member: j.ID,
	}).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, now time.Time) (Job, bool, error) {
	res, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.keyPending(), q.keyProcessing(), q.keyJobs(), q.keyPaused()},
		now.UnixMilli(),
	).Result()
	if err == redis.Nil {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("queue: dequeue: %w", err)
	}
	body, ok := res.(string)
	if !ok {
		return Job{}, false, nil
	}
	var j Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return Job{}, false, fmt.Errorf("queue: decode job: %w", err)
	}
	return j, true, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	removed, err := q.rdb.ZRem(ctx, q.keyProcessing(), id).Result()
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return q.rdb.HDel(ctx, q.keyJobs(), id).Err()
}

func (q *RedisQueue) Fail(ctx context.Context, id string, retryAt time.Time) error {
	removed, err := q.rdb.ZRem(ctx, q.keyProcessing(), id).Result()
	if err != nil {
		return fmt.Errorf("queue: fail: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}

	body, err := q.rdb.HGet(ctx, q.keyJobs(), id).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("queue: fail: %w", err)
	}
	var j Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return fmt.Errorf("queue: decode job: %w", err)
	}
	j.Attempts++
	j.RunAt = retryAt
	updated, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.keyJobs(), id, updated)
	pipe.ZAdd(ctx, q.keyPending(), redis.Z{Score: float64(retryAt.UnixMilli()), Member: id})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Pause(ctx context.Context, t JobType) error {
	if !t.Valid() {
		return ErrInvalidJob
	}
	return q.rdb.SAdd(ctx, q.keyPaused(), string(t)).Err()
}

func (q *RedisQueue) Resume(ctx context.Context, t JobType) error {
	if !t.Valid() {
		return ErrInvalidJob
	}
	return q.rdb.SRem(ctx, q.keyPaused(), string(t)).Err()
}

func (q *RedisQueue) Paused(ctx context.Context) ([]JobType, error) {
	members, err := q.rdb.SMembers(ctx, q.keyPaused()).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: paused: %w", err)
	}
	out := make([]JobType, 0, len(members))
	for _, m := range members {
		out = append(out, JobType(m))
	}
	return out, nil
}

func (q *RedisQueue) RequeueStuck(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := requeueScript.Run(ctx, q.rdb,
		[]string{q.keyProcessing(), q.keyPending()},
		olderThan.UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: requeue stuck: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Purge(ctx context.Context, t JobType) (int, error) {
	ids, err := q.rdb.ZRange(ctx, q.keyPending(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: purge: %w", err)
	}
	n := 0
	for _, id := range ids {
		body, err := q.rdb.HGet(ctx, q.keyJobs(), id).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("queue: purge: %w", err)
		}
		var j Job
		if err := json.Unmarshal([]byte(body), &j); err != nil {
			continue
		}
		if j.Type != t {
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.keyPending(), id)
		pipe.HDel(ctx, q.keyJobs(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return n, fmt.Errorf("queue: purge: %w", err)
		}
		n++
	}
	return n, nil
}
