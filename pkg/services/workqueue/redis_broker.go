package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
)

// RedisBroker keeps jobs in Redis so they survive process restarts.
//
// Per queue it uses:
//   - a waiting list (LPUSH in, popped from the right)
//   - an active sorted set scored by lease expiry in unix millis
//   - a delayed sorted set scored by due time in unix millis
//   - capped completed and failed lists
//   - one string key per job body
type RedisBroker struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisBroker creates a broker storing keys under prefix.
func NewRedisBroker(rdb redis.UniversalClient, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "ci"
	}
	return &RedisBroker{rdb: rdb, prefix: prefix}
}

// reserveScript pops the next waiting id and leases it in one step, so a
// reserved job is never active without a lease.
var reserveScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

func (b *RedisBroker) key(queue, suffix string) string {
	return b.prefix + ":" + queue + ":" + suffix
}

func (b *RedisBroker) jobKey(queue, id string) string {
	return b.key(queue, "job:"+id)
}

func (b *RedisBroker) Add(ctx context.Context, job *Job) error {
	job.ID = uuid.NewString()
	job.State = JobStateWaiting
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.jobKey(job.Queue, job.ID), raw, 0)
		pipe.LPush(ctx, b.key(job.Queue, "wait"), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (b *RedisBroker) Reserve(ctx context.Context, queue string, wait, lease time.Duration) (*Job, error) {
	if err := b.promoteDelayed(ctx, queue); err != nil {
		return nil, err
	}

	waitKey, activeKey := b.key(queue, "wait"), b.key(queue, "active")
	deadline := time.Now().Add(wait)
	var id string
	for {
		var err error
		id, err = reserveScript.Run(ctx, b.rdb, []string{waitKey, activeKey}, time.Now().Add(lease).UnixMilli()).Text()
		if err == nil {
			break
		}
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("reserve job: %w", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		// Moving the tail onto itself leaves the list unchanged; it only
		// blocks until a job is waiting.
		err = b.rdb.BLMove(ctx, waitKey, waitKey, "RIGHT", "RIGHT", max(remaining, time.Second)).Err()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("wait for job: %w", err)
		}
	}

	job, err := b.Get(ctx, queue, id)
	if err != nil {
		// The body was trimmed away; drop the dangling id.
		b.rdb.ZRem(ctx, activeKey, id)
		return nil, err
	}
	now := time.Now().UTC()
	job.State = JobStateActive
	job.ProcessedAt = &now
	if err := b.save(ctx, b.rdb, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (b *RedisBroker) Extend(ctx context.Context, job *Job, lease time.Duration) error {
	changed, err := b.rdb.ZAddArgs(ctx, b.key(job.Queue, "active"), redis.ZAddArgs{
		XX:      true,
		Ch:      true,
		Members: []redis.Z{{Score: float64(time.Now().Add(lease).UnixMilli()), Member: job.ID}},
	}).Result()
	if err != nil {
		return fmt.Errorf("extend lease of job %s: %w", job.ID, err)
	}
	if changed == 0 {
		return apperrors.ErrLeaseLost
	}
	return nil
}

func (b *RedisBroker) promoteDelayed(ctx context.Context, queue string) error {
	due, err := b.rdb.ZRangeByScore(ctx, b.key(queue, "delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("read delayed jobs: %w", err)
	}
	for _, id := range due {
		// ZREM decides which worker gets to promote the job.
		removed, err := b.rdb.ZRem(ctx, b.key(queue, "delayed"), id).Result()
		if err != nil {
			return fmt.Errorf("promote delayed job %s: %w", id, err)
		}
		if removed == 1 {
			if err := b.rdb.RPush(ctx, b.key(queue, "wait"), id).Err(); err != nil {
				return fmt.Errorf("promote delayed job %s: %w", id, err)
			}
		}
	}
	return nil
}

func (b *RedisBroker) Complete(ctx context.Context, job *Job, retain int) error {
	now := time.Now().UTC()
	job.State = JobStateCompleted
	job.AttemptsMade++
	job.FinishedAt = &now
	return b.finish(ctx, job, "completed", retain)
}

func (b *RedisBroker) Fail(ctx context.Context, job *Job, retain int) error {
	now := time.Now().UTC()
	job.State = JobStateFailed
	job.AttemptsMade++
	job.FinishedAt = &now
	return b.finish(ctx, job, "failed", retain)
}

func (b *RedisBroker) finish(ctx context.Context, job *Job, list string, retain int) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, b.key(job.Queue, "active"), job.ID)
		if err := b.save(ctx, pipe, job); err != nil {
			return err
		}
		pipe.LPush(ctx, b.key(job.Queue, list), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("move job %s to %s: %w", job.ID, list, err)
	}
	return b.trim(ctx, job.Queue, list, retain)
}

// trim drops the oldest entries of a finished list beyond retain, along
// with their bodies. A negative retain keeps everything.
func (b *RedisBroker) trim(ctx context.Context, queue, list string, retain int) error {
	if retain < 0 {
		return nil
	}
	listKey := b.key(queue, list)
	stale, err := b.rdb.LRange(ctx, listKey, int64(retain), -1).Result()
	if err != nil {
		return fmt.Errorf("read %s list: %w", list, err)
	}
	if len(stale) == 0 {
		return nil
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if retain == 0 {
			pipe.Del(ctx, listKey)
		} else {
			pipe.LTrim(ctx, listKey, 0, int64(retain-1))
		}
		for _, id := range stale {
			pipe.Del(ctx, b.jobKey(queue, id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("trim %s list: %w", list, err)
	}
	return nil
}

func (b *RedisBroker) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	job.State = JobStateDelayed
	job.AttemptsMade++
	due := time.Now().Add(delay).UnixMilli()

	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, b.key(job.Queue, "active"), job.ID)
		if err := b.save(ctx, pipe, job); err != nil {
			return err
		}
		pipe.ZAdd(ctx, b.key(job.Queue, "delayed"), redis.Z{Score: float64(due), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule retry for job %s: %w", job.ID, err)
	}
	return nil
}

func (b *RedisBroker) Get(ctx context.Context, queue, id string) (*Job, error) {
	raw, err := b.rdb.Get(ctx, b.jobKey(queue, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (b *RedisBroker) Counts(ctx context.Context, queue string) (Counts, error) {
	var waiting, active, delayed, completed, failed *redis.IntCmd
	_, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, b.key(queue, "wait"))
		active = pipe.ZCard(ctx, b.key(queue, "active"))
		delayed = pipe.ZCard(ctx, b.key(queue, "delayed"))
		completed = pipe.LLen(ctx, b.key(queue, "completed"))
		failed = pipe.LLen(ctx, b.key(queue, "failed"))
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("count jobs: %w", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (b *RedisBroker) RequeueExpired(ctx context.Context, queue string) (int, error) {
	activeKey := b.key(queue, "active")
	expired, err := b.rdb.ZRangeByScore(ctx, activeKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read expired leases: %w", err)
	}

	moved := 0
	for _, id := range expired {
		// ZREM decides which worker gets to requeue the job.
		removed, err := b.rdb.ZRem(ctx, activeKey, id).Result()
		if err != nil {
			return moved, fmt.Errorf("requeue job %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		if err := b.rdb.RPush(ctx, b.key(queue, "wait"), id).Err(); err != nil {
			return moved, fmt.Errorf("requeue job %s: %w", id, err)
		}
		moved++
	}
	return moved, nil
}

func (b *RedisBroker) save(ctx context.Context, c redis.Cmdable, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := c.Set(ctx, b.jobKey(job.Queue, job.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

var _ Broker = (*RedisBroker)(nil)
