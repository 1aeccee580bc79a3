package events

import (
	"sync"
	"time"
)

// Recorder captures every event published on a bus, in delivery order.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
	notify chan struct{}
	stop   func()
}

// NewRecorder subscribes a recorder to bus.
func NewRecorder(bus *Bus) *Recorder {
	r := &Recorder{notify: make(chan struct{}, 1)}
	r.stop = bus.SubscribeAll(func(env Envelope) {
		r.mu.Lock()
		r.events = append(r.events, env)
		r.mu.Unlock()
		select {
		case r.notify <- struct{}{}:
		default:
		}
	})
	return r
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

// Names returns the recorded event names in delivery order.
func (r *Recorder) Names() []string {
	events := r.Events()
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

// WaitFor blocks until an event named name was recorded or timeout elapses.
func (r *Recorder) WaitFor(name string, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		for _, e := range r.Events() {
			if e.Name == name {
				return true
			}
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return false
		}
	}
}

// Stop unsubscribes the recorder.
func (r *Recorder) Stop() { r.stop() }
