// Package llm provides structured generation over OpenAI and Anthropic models.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/logging"
)

// DefaultTimeout bounds every generation call.
const DefaultTimeout = 60 * time.Second

// DefaultMaxTokens is used when a request does not set MaxTokens.
const DefaultMaxTokens = 4096

// Completion is a fully resolved request handed to a provider.
type Completion struct {
	Model       string
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   int

	// Schema is set for object generation.
	Schema            Schema
	SchemaName        string
	SchemaDescription string
}

// CompletionResult is a provider's raw answer.
type CompletionResult struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Completer is implemented by each provider strategy.
type Completer interface {
	Complete(ctx context.Context, c *Completion) (*CompletionResult, error)
}

// Config holds configuration for creating a Client.
type Config struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string // Optional, e.g. an OpenAI-compatible gateway
	AnthropicAPIKey  string
	AnthropicBaseURL string

	DefaultProvider Provider
	DefaultTier     PerformanceTier
	Timeout         time.Duration

	// Breaker applies per provider. Zero fields use DefaultBreakerConfig.
	Breaker BreakerConfig
}

// Client dispatches generation calls to the provider strategy registered
// for the request's provider.
type Client struct {
	providers       map[Provider]Completer
	breakers        map[Provider]*breaker
	breakerConfig   BreakerConfig
	defaultProvider Provider
	defaultTier     PerformanceTier
	timeout         time.Duration
	logger          *zap.Logger
}

// NewClient creates a Client with a strategy for every provider that has an
// API key configured. The default provider/tier pair is checked eagerly.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	c := &Client{
		providers:       make(map[Provider]Completer),
		breakers:        make(map[Provider]*breaker),
		breakerConfig:   cfg.Breaker,
		defaultProvider: cfg.DefaultProvider,
		defaultTier:     cfg.DefaultTier,
		timeout:         cfg.Timeout,
		logger:          logger.Named("llm"),
	}
	if c.defaultProvider == "" {
		c.defaultProvider = ProviderOpenAI
	}
	if c.defaultTier == "" {
		c.defaultTier = TierMedium
	}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}
	if !IsSupported(c.defaultProvider, c.defaultTier) {
		return nil, fmt.Errorf("unsupported provider/tier %s/%s", c.defaultProvider, c.defaultTier)
	}

	if cfg.OpenAIAPIKey != "" {
		c.Register(ProviderOpenAI, newOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL))
	}
	if cfg.AnthropicAPIKey != "" {
		c.Register(ProviderAnthropic, newAnthropicCompleter(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL))
	}
	if _, ok := c.providers[c.defaultProvider]; !ok {
		c.logger.Warn("No API key configured for default provider; generation calls will fail",
			zap.String("provider", string(c.defaultProvider)))
	}
	return c, nil
}

// Register installs or replaces the strategy for provider. It is not safe
// to call once generation calls are in flight.
func (c *Client) Register(provider Provider, completer Completer) {
	c.providers[provider] = completer
	c.breakers[provider] = newBreaker(c.breakerConfig)
}

// GenerateText implements Generator.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	provider, completion, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	res, err := c.call(ctx, provider, completion)
	if err != nil {
		return nil, err
	}
	return &TextResult{
		Text:         res.Text,
		FinishReason: res.FinishReason,
		Model:        completion.Model,
		Usage:        res.Usage,
	}, nil
}

// GenerateObject implements Generator.
func (c *Client) GenerateObject(ctx context.Context, req ObjectRequest, target any) (*ObjectResult, error) {
	schema, err := SchemaFor(target)
	if err != nil {
		return nil, err
	}

	provider, completion, err := c.prepare(req.TextRequest)
	if err != nil {
		return nil, err
	}
	completion.Schema = schema
	completion.SchemaName = req.SchemaName
	if completion.SchemaName == "" {
		completion.SchemaName = "result"
	}
	completion.SchemaDescription = req.SchemaDescription

	res, err := c.call(ctx, provider, completion)
	if err != nil {
		return nil, err
	}

	if err := DecodeObject(res.Text, res.FinishReason, res.Usage, target); err != nil {
		c.logger.Warn("Model output rejected",
			zap.String("model", completion.Model),
			zap.String("finish_reason", res.FinishReason),
			zap.String("output", logging.Preview(res.Text)),
			zap.Error(err))
		return nil, err
	}

	return &ObjectResult{
		Raw:          res.Text,
		FinishReason: res.FinishReason,
		Model:        completion.Model,
		Usage:        res.Usage,
	}, nil
}

func (c *Client) prepare(req TextRequest) (Provider, *Completion, error) {
	provider := req.Provider
	if provider == "" {
		provider = c.defaultProvider
	}
	tier := req.Tier
	if tier == "" {
		tier = c.defaultTier
	}
	model := ModelFor(provider, tier)

	messages := append([]Message(nil), req.Messages...)
	if req.Prompt != "" {
		messages = append(messages, Message{Role: RoleUser, Content: req.Prompt})
	}
	if len(messages) == 0 {
		return "", nil, errors.New("llm: request has no prompt or messages")
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	return provider, &Completion{
		Model:       model,
		System:      req.System,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func (c *Client) call(ctx context.Context, provider Provider, completion *Completion) (*CompletionResult, error) {
	completer, ok := c.providers[provider]
	if !ok {
		return nil, &ProviderError{
			Type:     ErrorTypeAuth,
			Provider: provider,
			Model:    completion.Model,
			Message:  "provider not configured",
		}
	}

	logger := c.logger.With(logFields(ctx)...)
	gate := c.breakers[provider]
	if wait, ok := gate.admit(); !ok {
		logger.Warn("LLM provider circuit open, failing fast",
			zap.String("provider", string(provider)),
			zap.Duration("retry_in", wait))
		return nil, &ProviderError{
			Type:      ErrorTypeUnavailable,
			Provider:  provider,
			Model:     completion.Model,
			Message:   fmt.Sprintf("provider marked down, next probe in %s", wait.Round(time.Second)),
			Retryable: true,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logger.Debug("LLM request",
		zap.String("provider", string(provider)),
		zap.String("model", completion.Model),
		zap.Int("messages", len(completion.Messages)),
		zap.Bool("structured", completion.Schema != nil))

	start := time.Now()
	res, err := completer.Complete(ctx, completion)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Error("LLM request timed out",
				zap.String("model", completion.Model),
				zap.Duration("elapsed", elapsed))
			tErr := &TimeoutError{Provider: provider, Model: completion.Model, Timeout: c.timeout, Cause: err}
			gate.record(tErr)
			return nil, tErr
		}
		pErr := ClassifyError(provider, completion.Model, err)
		gate.record(pErr)
		logger.Error("LLM request failed",
			zap.String("model", completion.Model),
			zap.Duration("elapsed", elapsed),
			zap.Int("status", pErr.StatusCode),
			zap.Bool("retryable", pErr.Retryable),
			zap.String("error", logging.SanitizeError(err)))
		return nil, pErr
	}

	gate.record(nil)

	logger.Info("LLM request completed",
		zap.String("model", completion.Model),
		zap.Int("prompt_tokens", res.Usage.PromptTokens),
		zap.Int("completion_tokens", res.Usage.CompletionTokens),
		zap.String("finish_reason", res.FinishReason),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

// schemaInstruction renders the schema for providers without a native
// structured output mode.
func schemaInstruction(c *Completion) string {
	raw, err := json.Marshal(c.Schema)
	if err != nil {
		return ""
	}
	s := "Respond with a single JSON value that conforms to this JSON schema"
	if c.SchemaDescription != "" {
		s += " (" + c.SchemaDescription + ")"
	}
	return s + ". Do not wrap it in prose or code fences.\n" + string(raw)
}
