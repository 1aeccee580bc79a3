package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
)

const memoryPollInterval = 10 * time.Millisecond

// MemoryBroker keeps jobs in process memory. Jobs are lost on restart; it
// serves tests and single-process runs without Redis.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
}

type memoryQueue struct {
	jobs      map[string]*Job
	waiting   []string
	active    map[string]time.Time // lease expiry per active job
	delayed   map[string]time.Time
	completed []string
	failed    []string
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memoryQueue)}
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{
			jobs:    make(map[string]*Job),
			active:  make(map[string]time.Time),
			delayed: make(map[string]time.Time),
		}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) Add(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(job.Queue)
	job.ID = uuid.NewString()
	job.State = JobStateWaiting
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	q.jobs[job.ID] = job.clone()
	q.waiting = append(q.waiting, job.ID)
	return nil
}

func (b *MemoryBroker) Reserve(ctx context.Context, queue string, wait, lease time.Duration) (*Job, error) {
	deadline := time.Now().Add(wait)
	for {
		if job := b.tryReserve(queue, lease); job != nil {
			return job, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(memoryPollInterval):
		}
	}
}

func (b *MemoryBroker) tryReserve(queue string, lease time.Duration) *Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	now := time.Now()
	for id, due := range q.delayed {
		if !due.After(now) {
			delete(q.delayed, id)
			q.waiting = append(q.waiting, id)
		}
	}
	if len(q.waiting) == 0 {
		return nil
	}

	id := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.active[id] = now.Add(lease)

	job := q.jobs[id]
	processed := now.UTC()
	job.State = JobStateActive
	job.ProcessedAt = &processed
	return job.clone()
}

func (b *MemoryBroker) Extend(_ context.Context, job *Job, lease time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(job.Queue)
	if _, ok := q.active[job.ID]; !ok {
		return apperrors.ErrLeaseLost
	}
	q.active[job.ID] = time.Now().Add(lease)
	return nil
}

func (b *MemoryBroker) Complete(_ context.Context, job *Job, retain int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(job.Queue)
	now := time.Now().UTC()
	job.State = JobStateCompleted
	job.AttemptsMade++
	job.FinishedAt = &now
	delete(q.active, job.ID)
	q.jobs[job.ID] = job.clone()
	q.completed = q.trim(append(q.completed, job.ID), retain)
	return nil
}

func (b *MemoryBroker) Fail(_ context.Context, job *Job, retain int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(job.Queue)
	now := time.Now().UTC()
	job.State = JobStateFailed
	job.AttemptsMade++
	job.FinishedAt = &now
	delete(q.active, job.ID)
	q.jobs[job.ID] = job.clone()
	q.failed = q.trim(append(q.failed, job.ID), retain)
	return nil
}

// trim keeps the newest retain ids (the tail of ids) and forgets the rest.
func (q *memoryQueue) trim(ids []string, retain int) []string {
	if retain < 0 || len(ids) <= retain {
		return ids
	}
	drop := len(ids) - retain
	for _, id := range ids[:drop] {
		delete(q.jobs, id)
	}
	return append([]string(nil), ids[drop:]...)
}

func (b *MemoryBroker) Retry(_ context.Context, job *Job, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(job.Queue)
	job.State = JobStateDelayed
	job.AttemptsMade++
	delete(q.active, job.ID)
	q.jobs[job.ID] = job.clone()
	q.delayed[job.ID] = time.Now().Add(delay)
	return nil
}

func (b *MemoryBroker) Get(_ context.Context, queue, id string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.queue(queue).jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return job.clone(), nil
}

func (b *MemoryBroker) Counts(_ context.Context, queue string) (Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	return Counts{
		Waiting:   int64(len(q.waiting)),
		Active:    int64(len(q.active)),
		Delayed:   int64(len(q.delayed)),
		Completed: int64(len(q.completed)),
		Failed:    int64(len(q.failed)),
	}, nil
}

func (b *MemoryBroker) RequeueExpired(_ context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	now := time.Now()
	n := 0
	for id, expires := range q.active {
		if expires.After(now) {
			continue
		}
		delete(q.active, id)
		q.jobs[id].State = JobStateWaiting
		q.waiting = append([]string{id}, q.waiting...)
		n++
	}
	return n, nil
}

var _ Broker = (*MemoryBroker)(nil)
