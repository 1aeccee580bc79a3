package workqueue

import (
	"context"
	"time"
)

// Broker stores jobs and moves them between states. Implementations must
// be safe for concurrent use by several workers.
type Broker interface {
	// Add assigns job a globally unique ID and makes it waiting.
	Add(ctx context.Context, job *Job) error

	// Reserve moves the oldest waiting job to active under a lease that
	// expires after lease, first promoting delayed jobs that are due. It
	// returns nil, nil if nothing became available within wait.
	Reserve(ctx context.Context, queue string, wait, lease time.Duration) (*Job, error)

	// Extend pushes the lease of an active job to lease from now. It returns
	// apperrors.ErrLeaseLost if the job is no longer active.
	Extend(ctx context.Context, job *Job, lease time.Duration) error

	// Complete records a successful attempt and keeps at most retain
	// completed jobs.
	Complete(ctx context.Context, job *Job, retain int) error

	// Retry records a failed attempt and schedules the job after delay.
	Retry(ctx context.Context, job *Job, delay time.Duration) error

	// Fail records the final failed attempt and keeps at most retain
	// failed jobs.
	Fail(ctx context.Context, job *Job, retain int) error

	// Get returns a job by ID or apperrors.ErrNotFound.
	Get(ctx context.Context, queue, id string) (*Job, error)

	// Counts reports the number of jobs per state.
	Counts(ctx context.Context, queue string) (Counts, error)

	// RequeueExpired moves active jobs whose lease ran out back to waiting.
	// Jobs held by live workers keep their lease and are left alone.
	RequeueExpired(ctx context.Context, queue string) (int, error)
}
