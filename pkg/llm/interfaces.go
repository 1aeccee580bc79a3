package llm

import (
	"context"
)

// Provider names an LLM vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// PerformanceTier selects a model by cost/quality rather than by name.
type PerformanceTier string

const (
	TierLow    PerformanceTier = "low"
	TierMedium PerformanceTier = "medium"
	TierHigh   PerformanceTier = "high"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role
	Content string
}

// Usage holds token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// TextRequest describes a generation call. Provider and Tier fall back to
// the client defaults when empty.
type TextRequest struct {
	Provider    Provider
	Tier        PerformanceTier
	System      string
	Prompt      string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

// ObjectRequest is a TextRequest whose answer must be JSON matching the
// schema derived from the target type.
type ObjectRequest struct {
	TextRequest
	SchemaName        string
	SchemaDescription string
}

// TextResult is the output of GenerateText.
type TextResult struct {
	Text         string
	FinishReason string
	Model        string
	Usage        Usage
}

// ObjectResult describes a successful GenerateObject call. The decoded value
// is written to the caller's target.
type ObjectResult struct {
	Raw          string
	FinishReason string
	Model        string
	Usage        Usage
}

// Generator is the structured generation surface used by the analysis agents.
type Generator interface {
	// GenerateText returns free-form model output.
	GenerateText(ctx context.Context, req TextRequest) (*TextResult, error)

	// GenerateObject decodes model output into target, which must be a
	// pointer. The JSON schema sent to the provider is reflected from target.
	GenerateObject(ctx context.Context, req ObjectRequest, target any) (*ObjectResult, error)
}

// GenerateObject is the typed form of Generator.GenerateObject.
func GenerateObject[T any](ctx context.Context, g Generator, req ObjectRequest) (T, error) {
	var out T
	_, err := g.GenerateObject(ctx, req, &out)
	return out, err
}

// Float64 returns a pointer to v, for TextRequest.Temperature.
func Float64(v float64) *float64 {
	return &v
}
