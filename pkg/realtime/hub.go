// Package realtime pushes pipeline events to browser clients over WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/events"
	"github.com/ekaya-inc/comment-insights/pkg/jsonutil"
	"github.com/ekaya-inc/comment-insights/pkg/validation"
)

// Client to server message types.
const (
	MessageSubscribe   = "subscribe:jobs"
	MessageUnsubscribe = "unsubscribe:jobs"
	MessagePing        = "ping"
)

// Server to client message types that are not pipeline events.
const (
	MessageEstablished  = "connection:established"
	MessagePong         = "pong"
	MessageSubscribed   = "subscribed:jobs"
	MessageUnsubscribed = "unsubscribed:jobs"
	MessageError        = "error"
)

// Delivery scopes of an event message. Events are sent to every client
// and again to the clients subscribed to the event's job.
const (
	ScopeAll = "all"
	ScopeJob = "job"
)

const (
	defaultBufferSize   = 64
	defaultWriteTimeout = 5 * time.Second
)

// Options configure a Hub.
type Options struct {
	// BufferSize bounds each client's outbound queue. Messages beyond it are dropped.
	BufferSize int
	// WriteTimeout bounds a single socket write.
	WriteTimeout time.Duration
	// OriginPatterns are passed to websocket.Accept. Empty allows only same-origin requests.
	OriginPatterns []string
}

// Stats describes the hub's current connections.
type Stats struct {
	Connections    int `json:"connections"`
	SubscribedJobs int `json:"subscribedJobs"`
}

// Message is the envelope of everything the hub writes to a socket.
type Message struct {
	Type      string    `json:"type"`
	Scope     string    `json:"scope,omitempty"`
	JobID     string    `json:"jobId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type clientMessage struct {
	Type   string          `json:"type" validate:"required,oneof=subscribe:jobs unsubscribe:jobs ping"`
	JobIDs json.RawMessage `json:"jobIds,omitempty"`
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	jobs    map[string]struct{}
	dropped atomic.Int64
}

// Hub tracks connected sockets and the jobs each one follows.
type Hub struct {
	logger *zap.Logger
	opts   Options

	mu      sync.RWMutex
	clients map[string]*client
	jobs    map[string]map[string]*client
	nextID  atomic.Int64

	detach func()
}

// NewHub creates an empty hub.
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Hub{
		logger:  logger.Named("realtime"),
		opts:    opts,
		clients: make(map[string]*client),
		jobs:    make(map[string]map[string]*client),
	}
}

// Attach forwards every event published on bus to connected clients.
func (h *Hub) Attach(bus *events.Bus) {
	h.detach = bus.SubscribeAll(h.dispatch)
}

// Stats returns current connection and subscription counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statsLocked()
}

func (h *Hub) statsLocked() Stats {
	return Stats{Connections: len(h.clients), SubscribedJobs: len(h.jobs)}
}

// HandleWS upgrades the request and serves the socket until it closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("WebSocket accept failed", zap.Error(err))
		return
	}

	c := &client{
		id:   fmt.Sprintf("ws-%d", h.nextID.Add(1)),
		conn: conn,
		send: make(chan []byte, h.opts.BufferSize),
		jobs: make(map[string]struct{}),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stats := h.register(c)
	h.logger.Info("Client connected",
		zap.String("client_id", c.id),
		zap.Int("connections", stats.Connections))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, c)
	}()

	h.reply(c, MessageEstablished, map[string]any{"clientId": c.id, "stats": stats})
	h.readLoop(ctx, c)

	h.unregister(c)
	cancel()
	<-done
	conn.Close(websocket.StatusNormalClosure, "")

	h.logger.Info("Client disconnected",
		zap.String("client_id", c.id),
		zap.Int64("dropped_messages", c.dropped.Load()))
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket read ended", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		h.handleMessage(c, data)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug("WebSocket write failed", zap.String("client_id", c.id), zap.Error(err))
				c.conn.CloseNow()
				return
			}
		}
	}
}

func (h *Hub) handleMessage(c *client, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reply(c, MessageError, map[string]any{"message": "invalid JSON message"})
		return
	}
	if err := validation.Struct(msg); err != nil {
		h.reply(c, MessageError, map[string]any{"message": "invalid message", "issues": validation.Issues(err)})
		return
	}

	switch msg.Type {
	case MessageSubscribe:
		ids := jsonutil.FlexibleStringSlice(msg.JobIDs)
		h.reply(c, MessageSubscribed, map[string]any{"jobIds": h.subscribe(c, ids)})
	case MessageUnsubscribe:
		ids := jsonutil.FlexibleStringSlice(msg.JobIDs)
		h.reply(c, MessageUnsubscribed, map[string]any{"jobIds": h.unsubscribe(c, ids)})
	case MessagePing:
		h.reply(c, MessagePong, map[string]any{"stats": h.Stats()})
	}
}

func (h *Hub) register(c *client) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	return h.statsLocked()
}

// unregister removes c from the hub and every job it followed.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	for jobID := range c.jobs {
		h.removeSubscriberLocked(jobID, c)
	}
	close(c.send)
}

// subscribe adds c to the given jobs and returns every job c follows.
func (h *Hub) subscribe(c *client, jobIDs []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range jobIDs {
		subs, ok := h.jobs[id]
		if !ok {
			subs = make(map[string]*client)
			h.jobs[id] = subs
		}
		subs[c.id] = c
		c.jobs[id] = struct{}{}
	}
	return followedJobs(c)
}

// unsubscribe removes c from the given jobs, or from all of them when
// none are named, and returns the jobs c still follows.
func (h *Hub) unsubscribe(c *client, jobIDs []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(jobIDs) == 0 {
		for id := range c.jobs {
			jobIDs = append(jobIDs, id)
		}
	}
	for _, id := range jobIDs {
		h.removeSubscriberLocked(id, c)
	}
	return followedJobs(c)
}

func (h *Hub) removeSubscriberLocked(jobID string, c *client) {
	delete(c.jobs, jobID)
	if subs, ok := h.jobs[jobID]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.jobs, jobID)
		}
	}
}

func followedJobs(c *client) []string {
	ids := make([]string, 0, len(c.jobs))
	for id := range c.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// dispatch sends an event to every client, then once more to the clients
// subscribed to its job.
func (h *Hub) dispatch(env events.Envelope) {
	all, err := json.Marshal(Message{
		Type:      env.Name,
		Scope:     ScopeAll,
		JobID:     env.JobID,
		Timestamp: env.Timestamp,
		Data:      env.Payload,
	})
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("event", env.Name), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		h.enqueue(c, all)
	}

	if env.JobID == "" {
		return
	}
	subs := h.jobs[env.JobID]
	if len(subs) == 0 {
		return
	}
	targeted, err := json.Marshal(Message{
		Type:      env.Name,
		Scope:     ScopeJob,
		JobID:     env.JobID,
		Timestamp: env.Timestamp,
		Data:      env.Payload,
	})
	if err != nil {
		return
	}
	for _, c := range subs {
		h.enqueue(c, targeted)
	}
}

// reply queues a control message for c if it is still connected.
func (h *Hub) reply(c *client, msgType string, data any) {
	encoded, err := json.Marshal(Message{Type: msgType, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("Failed to encode reply", zap.String("type", msgType), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; ok {
		h.enqueue(c, encoded)
	}
}

// enqueue must be called with h.mu held so c.send cannot be closed concurrently.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		n := c.dropped.Add(1)
		h.logger.Warn("Client buffer full, dropping message",
			zap.String("client_id", c.id),
			zap.Int64("dropped_total", n))
	}
}

// Close detaches from the bus and disconnects every client.
func (h *Hub) Close() {
	if h.detach != nil {
		h.detach()
	}
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
