package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/events"
)

type testMessage struct {
	Type  string          `json:"type"`
	Scope string          `json:"scope"`
	JobID string          `json:"jobId"`
	Data  json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T) (*Hub, *events.Bus, string) {
	t.Helper()
	bus := events.NewBus("test", zap.NewNop())
	hub := NewHub(Options{}, zap.NewNop())
	hub.Attach(bus)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		bus.Close()
	})
	return hub, bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	msg := read(t, conn)
	require.Equal(t, MessageEstablished, msg.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) testMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg testMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, v))
}

func publishState(t *testing.T, bus *events.Bus, jobID string, progress int) {
	t.Helper()
	require.NoError(t, events.Publish(bus, events.StateChangedEvent, events.StateChanged{
		JobRef:   events.JobRef{JobID: jobID},
		State:    events.StateAnalyzing,
		Progress: progress,
	}))
}

func TestHub_ConnectionEstablishedCarriesStats(t *testing.T) {
	hub, _, url := newTestHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	msg := read(t, conn)
	assert.Equal(t, MessageEstablished, msg.Type)

	var data struct {
		ClientID string `json:"clientId"`
		Stats    Stats  `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.NotEmpty(t, data.ClientID)
	assert.Equal(t, 1, data.Stats.Connections)
	assert.Equal(t, 1, hub.Stats().Connections)
}

func TestHub_PingPong(t *testing.T) {
	_, _, url := newTestHub(t)
	conn := dial(t, url)

	send(t, conn, map[string]any{"type": "ping"})
	msg := read(t, conn)
	assert.Equal(t, MessagePong, msg.Type)
	assert.Contains(t, string(msg.Data), `"connections":1`)
}

func TestHub_BroadcastAndTargetedDelivery(t *testing.T) {
	hub, bus, url := newTestHub(t)
	subscriber := dial(t, url)
	observer := dial(t, url)

	// Numeric ids are accepted alongside strings.
	send(t, subscriber, map[string]any{"type": "subscribe:jobs", "jobIds": []any{7, "8"}})
	ack := read(t, subscriber)
	assert.Equal(t, MessageSubscribed, ack.Type)
	assert.JSONEq(t, `{"jobIds":["7","8"]}`, string(ack.Data))
	assert.Equal(t, 2, hub.Stats().SubscribedJobs)

	publishState(t, bus, "7", 45)

	first, second := read(t, subscriber), read(t, subscriber)
	scopes := []string{first.Scope, second.Scope}
	assert.ElementsMatch(t, []string{ScopeAll, ScopeJob}, scopes)
	for _, m := range []testMessage{first, second} {
		assert.Equal(t, "state:changed", m.Type)
		assert.Equal(t, "7", m.JobID)
		assert.Contains(t, string(m.Data), `"progress":45`)
	}

	msg := read(t, observer)
	assert.Equal(t, ScopeAll, msg.Scope)

	// The observer must not get a second copy: the next thing it sees is
	// the following event.
	publishState(t, bus, "9", 50)
	next := read(t, observer)
	assert.Equal(t, "9", next.JobID)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, bus, url := newTestHub(t)
	conn := dial(t, url)

	send(t, conn, map[string]any{"type": "subscribe:jobs", "jobIds": "3"})
	read(t, conn)
	send(t, conn, map[string]any{"type": "unsubscribe:jobs"})
	ack := read(t, conn)
	assert.Equal(t, MessageUnsubscribed, ack.Type)
	assert.JSONEq(t, `{"jobIds":[]}`, string(ack.Data))
	assert.Zero(t, hub.Stats().SubscribedJobs)

	publishState(t, bus, "3", 10)
	assert.Equal(t, ScopeAll, read(t, conn).Scope)

	publishState(t, bus, "4", 20)
	assert.Equal(t, "4", read(t, conn).JobID)
}

func TestHub_RejectsUnknownMessage(t *testing.T) {
	_, _, url := newTestHub(t)
	conn := dial(t, url)

	send(t, conn, map[string]any{"type": "shout"})
	msg := read(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, string(msg.Data), "oneof")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	assert.Equal(t, MessageError, read(t, conn).Type)
}

func TestHub_DisconnectRemovesSubscriptions(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, url)

	send(t, conn, map[string]any{"type": "subscribe:jobs", "jobIds": []string{"1", "2"}})
	read(t, conn)
	require.Equal(t, 2, hub.Stats().SubscribedJobs)

	conn.Close(websocket.StatusNormalClosure, "bye")

	require.Eventually(t, func() bool {
		s := hub.Stats()
		return s.Connections == 0 && s.SubscribedJobs == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(Options{BufferSize: 1}, zap.NewNop())
	c := &client{id: "slow", send: make(chan []byte, 1), jobs: map[string]struct{}{}}
	hub.register(c)

	hub.dispatch(events.Envelope{Name: "job:started", JobID: "1", Timestamp: time.Now()})
	hub.dispatch(events.Envelope{Name: "job:completed", JobID: "1", Timestamp: time.Now()})

	assert.Len(t, c.send, 1)
	assert.Equal(t, int64(1), c.dropped.Load())

	hub.unregister(c)
	assert.Zero(t, hub.Stats().Connections)
}
