package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
	"github.com/ekaya-inc/comment-insights/pkg/events"
	"github.com/ekaya-inc/comment-insights/pkg/logging"
)

// finishTimeout bounds the broker writes that record a job's outcome.
const finishTimeout = 10 * time.Second

// Processor handles one job. The returned value is stored as the job's
// return value; a returned error (or a panic) fails the attempt.
type Processor func(ctx context.Context, job *Job) (any, error)

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency sets the number of jobs processed at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// Worker consumes one queue with a fixed pool of slots.
type Worker struct {
	queue        string
	broker       Broker
	bus          *events.Bus
	processor    Processor
	concurrency  int
	retainDone   int
	retainFailed int
	pollInterval time.Duration
	lease        time.Duration
	logger       *zap.Logger

	wg sync.WaitGroup
}

// Run processes jobs until ctx is cancelled, then waits for in-flight jobs.
// Jobs are not interrupted by shutdown; each runs to completion.
//
// Each active job is leased and the lease is renewed while it runs. Jobs
// whose lease ran out belong to a dead worker and are requeued by whichever
// worker notices first.
func (w *Worker) Run(ctx context.Context) error {
	w.requeueExpired(ctx)
	lastSweep := time.Now()

	w.logger.Info("Worker started",
		zap.Int("concurrency", w.concurrency),
		zap.Duration("lease", w.lease))
	slots := make(chan struct{}, w.concurrency)
	jobCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("Worker stopped")
			return nil
		case slots <- struct{}{}:
		}

		if time.Since(lastSweep) >= w.lease/2 {
			w.requeueExpired(ctx)
			lastSweep = time.Now()
		}

		job, err := w.broker.Reserve(ctx, w.queue, w.pollInterval, w.lease)
		if err != nil || job == nil {
			<-slots
			if err != nil && ctx.Err() == nil {
				w.logger.Error("Failed to reserve job", zap.String("error", logging.SanitizeError(err)))
				select {
				case <-ctx.Done():
				case <-time.After(w.pollInterval):
				}
			}
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-slots }()
			w.process(jobCtx, job)
		}()
	}
}

func (w *Worker) requeueExpired(ctx context.Context) {
	n, err := w.broker.RequeueExpired(ctx, w.queue)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("Failed to requeue jobs with expired leases", zap.Error(err))
		}
		return
	}
	if n > 0 {
		w.logger.Info("Requeued jobs with expired leases", zap.Int("count", n))
	}
}

// keepLease renews job's lease until the returned stop func is called.
func (w *Worker) keepLease(job *Job, logger *zap.Logger) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(w.lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
				err := w.broker.Extend(ctx, job, w.lease)
				cancel()
				if errors.Is(err, apperrors.ErrLeaseLost) {
					logger.Warn("Job lease lost, another worker may pick the job up")
					return
				}
				if err != nil {
					logger.Warn("Failed to extend job lease", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	attempt := job.AttemptsMade + 1
	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name),
		zap.Int("attempt", attempt),
		zap.Int("attempts", job.Opts.Attempts))

	logger.Info("Job started")
	start := time.Now()
	stopLease := w.keepLease(job, logger)
	result, err := w.run(ctx, job)
	stopLease()
	duration := time.Since(start)

	finishCtx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	if err == nil {
		if raw, mErr := json.Marshal(result); mErr == nil {
			job.ReturnValue = raw
		}
		if bErr := w.broker.Complete(finishCtx, job, w.retainDone); bErr != nil {
			logger.Error("Failed to record job completion", zap.Error(bErr))
		}
		logger.Info("Job completed", zap.Duration("duration", duration))
		w.publish(logger, func(bus *events.Bus) error {
			return events.Publish(bus, events.QueueJobCompletedEvent, events.QueueJobCompleted{
				JobRef:       events.JobRef{JobID: job.ID},
				Queue:        job.Queue,
				Name:         job.Name,
				AttemptsMade: job.AttemptsMade,
				DurationMs:   duration.Milliseconds(),
				ReturnValue:  result,
			})
		})
		return
	}

	failure := NewJobFailure(err, job, attempt, duration)
	job.FailedReason = failure.Error()
	if raw, mErr := json.Marshal(failure); mErr == nil {
		job.Failure = raw
	}

	willRetry := attempt < job.Opts.Attempts
	if willRetry {
		delay := calculateBackoff(job.Opts.Backoff(), attempt)
		if bErr := w.broker.Retry(finishCtx, job, delay); bErr != nil {
			logger.Error("Failed to schedule job retry", zap.Error(bErr))
		}
		logger.Warn("Job attempt failed, will retry",
			zap.Duration("duration", duration),
			zap.Duration("backoff", delay),
			zap.String("error", failure.Summary))
	} else {
		if bErr := w.broker.Fail(finishCtx, job, w.retainFailed); bErr != nil {
			logger.Error("Failed to record job failure", zap.Error(bErr))
		}
		logger.Error("Job failed",
			zap.Duration("duration", duration),
			zap.String("error_name", failure.Name),
			zap.String("error", failure.Summary))
	}

	w.publish(logger, func(bus *events.Bus) error {
		return events.Publish(bus, events.QueueJobFailedEvent, events.QueueJobFailed{
			JobRef:       events.JobRef{JobID: job.ID},
			Queue:        job.Queue,
			Name:         job.Name,
			AttemptsMade: job.AttemptsMade,
			WillRetry:    willRetry,
			FailedReason: job.FailedReason,
			Failure:      failure,
		})
	})
}

// run calls the processor, turning a panic into an error with a stack.
func (w *Worker) run(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rErr, ok := r.(error); ok {
				err = pkgerrors.Wrap(rErr, "job processor panicked")
				return
			}
			err = pkgerrors.Errorf("job processor panicked: %v", r)
		}
	}()
	return w.processor(ctx, job)
}

func (w *Worker) publish(logger *zap.Logger, fn func(bus *events.Bus) error) {
	if w.bus == nil {
		return
	}
	if err := fn(w.bus); err != nil {
		logger.Warn("Failed to publish queue event", zap.Error(err))
	}
}
