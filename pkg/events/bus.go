// Package events is an in-process typed publish/subscribe bus.
//
// Publish never blocks on subscribers: every subscriber owns an unbounded
// mailbox drained by its own goroutine, so each subscriber sees events in
// publish order while subscribers run independently of each other.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/validation"
)

// Def declares a named event carrying payloads of type T.
type Def[T any] struct {
	name string
}

// Define declares an event. Names are global; define each one once.
func Define[T any](name string) Def[T] {
	return Def[T]{name: name}
}

// Name returns the event name.
func (d Def[T]) Name() string { return d.name }

// Envelope is what subscribers receive.
type Envelope struct {
	Name      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"jobId,omitempty"`
	Payload   any       `json:"payload"`

	// Origin is the id of the bus that first published the event.
	Origin string `json:"origin,omitempty"`
	// Remote is set for events injected from another process.
	Remote bool `json:"-"`
}

// JobScoped is implemented by payloads that belong to a job.
type JobScoped interface {
	GetJobID() string
}

// Bus fans events out to subscribers.
type Bus struct {
	id     string
	logger *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
	closed bool
}

// NewBus creates a bus. id tags locally published events so relays can
// recognize their own traffic.
func NewBus(id string, logger *zap.Logger) *Bus {
	return &Bus{
		id:     id,
		logger: logger.Named("events"),
		subs:   make(map[uint64]*subscriber),
	}
}

// ID returns the bus origin id.
func (b *Bus) ID() string { return b.id }

// Publish validates payload and delivers it to every current subscriber.
// Payloads are structs; their validate tags are enforced here.
func Publish[T any](b *Bus, def Def[T], payload T) error {
	if err := validation.Struct(payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", def.name, err)
	}

	env := Envelope{
		Name:      def.name,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Origin:    b.id,
	}
	if scoped, ok := any(payload).(JobScoped); ok {
		env.JobID = scoped.GetJobID()
	}
	b.dispatch(env)
	return nil
}

// Subscribe registers handler for def and returns a func that removes it.
// Remote events carry a JSON payload, which is decoded into T; payloads
// that fail to decode are logged and skipped.
func Subscribe[T any](b *Bus, def Def[T], handler func(T)) func() {
	name := def.name
	return b.subscribe(name, func(env Envelope) {
		switch p := env.Payload.(type) {
		case T:
			handler(p)
		case json.RawMessage:
			var v T
			if err := json.Unmarshal(p, &v); err != nil {
				b.logger.Warn("Dropping undecodable remote event",
					zap.String("event", name),
					zap.Error(err))
				return
			}
			handler(v)
		default:
			b.logger.Warn("Dropping event with unexpected payload type",
				zap.String("event", name),
				zap.String("type", fmt.Sprintf("%T", env.Payload)))
		}
	})
}

// SubscribeAll registers handler for every event, local and remote.
func (b *Bus) SubscribeAll(handler func(Envelope)) func() {
	return b.subscribe("", handler)
}

// Inject delivers an event that was published by another process.
func (b *Bus) Inject(env Envelope) {
	env.Remote = true
	b.dispatch(env)
}

// Close removes every subscriber. Pending mailbox entries are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (b *Bus) subscribe(name string, handler func(Envelope)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	s := newSubscriber(name, handler, b.logger)
	b.subs[id] = s
	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.stop()
		})
	}
}

func (b *Bus) dispatch(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.name == "" || s.name == env.Name {
			s.enqueue(env)
		}
	}
}

type subscriber struct {
	name    string
	handler func(Envelope)
	logger  *zap.Logger

	mu      sync.Mutex
	queue   []Envelope
	stopped bool
	signal  chan struct{}
	done    chan struct{}
}

func newSubscriber(name string, handler func(Envelope), logger *zap.Logger) *subscriber {
	return &subscriber{
		name:    name,
		handler: handler,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *subscriber) enqueue(env Envelope) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, env)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.queue = nil
	close(s.done)
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if s.stopped || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			env := s.queue[0]
			s.queue[0] = Envelope{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.deliver(env)
		}
	}
}

func (s *subscriber) deliver(env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Event handler panicked",
				zap.String("event", env.Name),
				zap.Any("panic", r))
		}
	}()
	s.handler(env)
}
