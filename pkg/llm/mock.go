package llm

import (
	"context"
	"sync"
)

// MockGenerator is a configurable Generator for tests.
// Set the function fields to control behavior in tests.
type MockGenerator struct {
	// GenerateTextFunc is called when GenerateText is invoked.
	// If nil, returns an empty result and nil error.
	GenerateTextFunc func(ctx context.Context, req TextRequest) (*TextResult, error)

	// GenerateObjectFunc returns the raw model output for an object request.
	// The output goes through DecodeObject like a real provider answer, so
	// malformed text surfaces as NoObjectGenerated/SchemaValidation errors.
	// If nil, returns "{}".
	GenerateObjectFunc func(ctx context.Context, req ObjectRequest) (string, error)

	// Model is reported in results. Defaults to "mock-model".
	Model string

	mu                  sync.Mutex
	GenerateTextCalls   int
	GenerateObjectCalls int
	ObjectRequests      []ObjectRequest
}

// NewMockGenerator creates a new mock with sensible defaults.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{Model: "mock-model"}
}

// GenerateText implements Generator.
func (m *MockGenerator) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	m.mu.Lock()
	m.GenerateTextCalls++
	m.mu.Unlock()
	if m.GenerateTextFunc != nil {
		return m.GenerateTextFunc(ctx, req)
	}
	return &TextResult{Model: m.Model}, nil
}

// GenerateObject implements Generator.
func (m *MockGenerator) GenerateObject(ctx context.Context, req ObjectRequest, target any) (*ObjectResult, error) {
	m.mu.Lock()
	m.GenerateObjectCalls++
	m.ObjectRequests = append(m.ObjectRequests, req)
	m.mu.Unlock()

	raw := "{}"
	if m.GenerateObjectFunc != nil {
		var err error
		raw, err = m.GenerateObjectFunc(ctx, req)
		if err != nil {
			return nil, err
		}
	}
	if err := DecodeObject(raw, "stop", Usage{}, target); err != nil {
		return nil, err
	}
	return &ObjectResult{Raw: raw, FinishReason: "stop", Model: m.Model}, nil
}

// Calls returns the number of GenerateObject calls so far.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GenerateObjectCalls
}

var _ Generator = (*MockGenerator)(nil)
