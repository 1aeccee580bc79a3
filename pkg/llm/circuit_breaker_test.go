package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	b := newBreaker(BreakerConfig{Threshold: threshold, Cooldown: 30 * time.Second})
	b.now = clock.now
	return b, clock
}

var serverErr = &ProviderError{Type: ErrorTypeServer, Retryable: true, Message: "boom"}

func TestBreaker_OpensAfterConsecutiveOutages(t *testing.T) {
	b, _ := newTestBreaker(3)

	for range 2 {
		b.record(serverErr)
	}
	_, ok := b.admit()
	assert.True(t, ok)

	b.record(serverErr)
	state, fails := b.snapshot()
	assert.Equal(t, breakerOpen, state)
	assert.Equal(t, 3, fails)

	wait, ok := b.admit()
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.record(serverErr)
	b.record(serverErr)
	b.record(nil)
	b.record(serverErr)

	state, fails := b.snapshot()
	assert.Equal(t, breakerClosed, state)
	assert.Equal(t, 1, fails)
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	b, _ := newTestBreaker(1)

	b.record(&ProviderError{Type: ErrorTypeBadRequest, Message: "bad schema"})
	b.record(&ProviderError{Type: ErrorTypeAuth, Message: "bad key"})
	b.record(&SchemaValidationError{Issues: []string{"missing field"}})

	state, _ := b.snapshot()
	assert.Equal(t, breakerClosed, state)
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(1)
	b.record(&TimeoutError{Provider: ProviderOpenAI, Timeout: time.Second})

	clock.advance(10 * time.Second)
	wait, ok := b.admit()
	assert.False(t, ok)
	assert.Equal(t, 20*time.Second, wait)

	clock.advance(21 * time.Second)
	_, ok = b.admit()
	require.True(t, ok, "first call after cooldown probes")
	_, ok = b.admit()
	assert.False(t, ok, "only one probe at a time")

	b.record(serverErr)
	state, _ := b.snapshot()
	assert.Equal(t, breakerOpen, state, "failed probe reopens")

	clock.advance(31 * time.Second)
	_, ok = b.admit()
	require.True(t, ok)
	b.record(nil)
	state, _ = b.snapshot()
	assert.Equal(t, breakerClosed, state)
}

type countingCompleter struct {
	calls int
	err   error
}

func (c *countingCompleter) Complete(context.Context, *Completion) (*CompletionResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &CompletionResult{Text: "ok", FinishReason: "stop"}, nil
}

func TestClient_FailsFastWhenProviderDown(t *testing.T) {
	c, err := NewClient(&Config{Breaker: BreakerConfig{Threshold: 2, Cooldown: time.Minute}}, zap.NewNop())
	require.NoError(t, err)
	completer := &countingCompleter{err: errors.New("status code: 503, message: overloaded")}
	c.Register(ProviderOpenAI, completer)

	req := TextRequest{Prompt: "hello"}
	for range 2 {
		_, err := c.GenerateText(context.Background(), req)
		require.Error(t, err)
	}
	require.Equal(t, 2, completer.calls)

	_, err = c.GenerateText(context.Background(), req)
	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, ErrorTypeUnavailable, pErr.Type)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 2, completer.calls, "open breaker must not reach the provider")
}
