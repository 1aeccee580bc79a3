package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayPublishTimeout = 5 * time.Second

// wireEnvelope is an Envelope as it travels over Redis.
type wireEnvelope struct {
	Name      string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	JobID     string          `json:"jobId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Origin    string          `json:"origin"`
}

// RedisRelay mirrors a Bus over a Redis pub/sub channel so that events
// published by a worker process reach subscribers in the API process.
type RedisRelay struct {
	bus     *Bus
	rdb     *redis.Client
	channel string
	logger  *zap.Logger

	unsubscribe func()
	pubsub      *redis.PubSub
}

// NewRedisRelay creates a relay; call Start to begin forwarding.
func NewRedisRelay(bus *Bus, rdb *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{
		bus:     bus,
		rdb:     rdb,
		channel: channel,
		logger:  logger.Named("event-relay"),
	}
}

// Start subscribes to the channel and begins forwarding in both
// directions until ctx is done or Close is called.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.pubsub = sub

	go r.forwardRemote(ctx, sub.Channel())
	r.unsubscribe = r.bus.SubscribeAll(r.forwardLocal)

	r.logger.Info("Event relay started", zap.String("channel", r.channel), zap.String("origin", r.bus.ID()))
	return nil
}

// Close stops forwarding.
func (r *RedisRelay) Close() error {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	if r.pubsub != nil {
		return r.pubsub.Close()
	}
	return nil
}

func (r *RedisRelay) forwardLocal(env Envelope) {
	// Injected events already came through Redis.
	if env.Remote {
		return
	}

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		r.logger.Warn("Cannot encode event for relay", zap.String("event", env.Name), zap.Error(err))
		return
	}
	raw, err := json.Marshal(wireEnvelope{
		Name:      env.Name,
		Timestamp: env.Timestamp,
		JobID:     env.JobID,
		Payload:   payload,
		Origin:    r.bus.ID(),
	})
	if err != nil {
		r.logger.Warn("Cannot encode event for relay", zap.String("event", env.Name), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.logger.Warn("Failed to relay event", zap.String("event", env.Name), zap.Error(err))
	}
}

func (r *RedisRelay) forwardRemote(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			_ = r.pubsub.Close()
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			var w wireEnvelope
			if err := json.Unmarshal([]byte(m.Payload), &w); err != nil {
				r.logger.Warn("Bad relayed event payload", zap.Error(err))
				continue
			}
			if w.Origin == r.bus.ID() {
				continue
			}
			r.bus.Inject(Envelope{
				Name:      w.Name,
				Timestamp: w.Timestamp,
				JobID:     w.JobID,
				Payload:   w.Payload,
				Origin:    w.Origin,
			})
		}
	}
}
