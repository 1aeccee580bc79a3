package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
	"github.com/ekaya-inc/comment-insights/pkg/events"
)

// Config holds defaults shared by every queue and worker of a Manager.
type Config struct {
	Concurrency     int           // worker pool size
	Attempts        int           // default attempts per job
	Backoff         time.Duration // default initial retry delay
	RetainCompleted int           // completed jobs kept per queue
	RetainFailed    int           // failed jobs kept per queue
	PollInterval    time.Duration // how long a worker blocks waiting for a job
	LeaseDuration   time.Duration // how long an active job survives without a heartbeat
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     20,
		Attempts:        3,
		Backoff:         2 * time.Second,
		RetainCompleted: 100,
		RetainFailed:    500,
		PollInterval:    time.Second,
		LeaseDuration:   30 * time.Second,
	}
}

// Manager creates queues and workers over one Broker. It replaces
// process-wide queue singletons: build it once at startup and pass it on.
type Manager struct {
	broker Broker
	bus    *events.Bus
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	queues map[string]*Queue
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus makes workers publish job.completed and job.failed events.
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithConfig overrides the defaults. Zero fields keep their default.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		def := DefaultConfig()
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = def.Concurrency
		}
		if cfg.Attempts <= 0 {
			cfg.Attempts = def.Attempts
		}
		if cfg.Backoff <= 0 {
			cfg.Backoff = def.Backoff
		}
		if cfg.RetainCompleted == 0 {
			cfg.RetainCompleted = def.RetainCompleted
		}
		if cfg.RetainFailed == 0 {
			cfg.RetainFailed = def.RetainFailed
		}
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.LeaseDuration <= 0 {
			cfg.LeaseDuration = def.LeaseDuration
		}
		m.cfg = cfg
	}
}

// NewManager creates a manager over broker.
func NewManager(broker Broker, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		broker: broker,
		cfg:    DefaultConfig(),
		logger: logger.Named("workqueue"),
		queues: make(map[string]*Queue),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// CreateQueue returns the producer handle for name. Calling it twice
// returns the same queue.
func (m *Manager) CreateQueue(name string) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q
	}
	q := &Queue{name: name, manager: m}
	m.queues[name] = q
	return q
}

// CreateWorker registers processor for queue name. Call Run on the result
// to start consuming.
func (m *Manager) CreateWorker(name string, processor Processor, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:        name,
		broker:       m.broker,
		bus:          m.bus,
		processor:    processor,
		concurrency:  m.cfg.Concurrency,
		retainDone:   m.cfg.RetainCompleted,
		retainFailed: m.cfg.RetainFailed,
		pollInterval: m.cfg.PollInterval,
		lease:        m.cfg.LeaseDuration,
		logger:       m.logger.With(zap.String("queue", name)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Close stops accepting new jobs. Workers stop when their Run context ends.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Queue is the producer side of a named queue.
type Queue struct {
	name    string
	manager *Manager
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// AddOptions overrides per-job retry settings. Zero values use the
// manager defaults.
type AddOptions struct {
	Attempts int
	Backoff  time.Duration
}

// BulkJob is one entry of AddBulk.
type BulkJob struct {
	Name string
	Data any
	Opts AddOptions
}

// Add enqueues one job.
func (q *Queue) Add(ctx context.Context, name string, data any, opts AddOptions) (*Job, error) {
	if q.manager.isClosed() {
		return nil, apperrors.ErrQueueClosed
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s job data: %w", name, err)
	}

	cfg := q.manager.cfg
	if opts.Attempts <= 0 {
		opts.Attempts = cfg.Attempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = cfg.Backoff
	}

	job := &Job{
		Queue: q.name,
		Name:  name,
		Data:  raw,
		Opts: JobOptions{
			Attempts:  opts.Attempts,
			BackoffMs: opts.Backoff.Milliseconds(),
		},
	}
	if err := q.manager.broker.Add(ctx, job); err != nil {
		return nil, err
	}

	q.manager.logger.Debug("Job added",
		zap.String("queue", q.name),
		zap.String("job_id", job.ID),
		zap.String("job_name", name))
	return job, nil
}

// AddBulk enqueues jobs in order. On error the jobs added so far are
// returned with it.
func (q *Queue) AddBulk(ctx context.Context, jobs []BulkJob) ([]*Job, error) {
	added := make([]*Job, 0, len(jobs))
	for _, bj := range jobs {
		job, err := q.Add(ctx, bj.Name, bj.Data, bj.Opts)
		if err != nil {
			return added, err
		}
		added = append(added, job)
	}
	return added, nil
}

// Get returns a job of this queue.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.manager.broker.Get(ctx, q.name, id)
}

// Counts returns the number of jobs per state.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	return q.manager.broker.Counts(ctx, q.name)
}

// IsNotFound reports whether err means the job does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}
