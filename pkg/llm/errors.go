package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
)

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeBadRequest  ErrorType = "bad_request"
	ErrorTypeModel       ErrorType = "model"
	ErrorTypeEndpoint    ErrorType = "endpoint"
	ErrorTypeServer      ErrorType = "server"
	ErrorTypeUnavailable ErrorType = "unavailable" // rejected locally by the circuit breaker
	ErrorTypeUnknown     ErrorType = "unknown"
)

// ProviderError is a classified failure returned by a provider SDK.
type ProviderError struct {
	Type       ErrorType
	Provider   Provider
	Model      string
	StatusCode int // HTTP status code if known
	Message    string
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	parts := []string{string(e.Type)}
	if e.Provider != "" {
		parts = append(parts, "provider="+string(e.Provider))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// IsRetryable implements retry.RetryableError.
func (e *ProviderError) IsRetryable() bool { return e.Retryable }

// TimeoutError is returned when a call exceeds the client's deadline.
type TimeoutError struct {
	Provider Provider
	Model    string
	Timeout  time.Duration
	Cause    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("generation timed out after %s (provider=%s model=%s)", e.Timeout, e.Provider, e.Model)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// ErrorName reports the name used in serialized error chains.
func (e *TimeoutError) ErrorName() string { return "GenerationTimeoutError" }

func (e *TimeoutError) IsRetryable() bool { return true }

// NoObjectGeneratedError means the model answered but no JSON object could
// be extracted from the answer.
type NoObjectGeneratedError struct {
	Text         string
	FinishReason string
	Usage        Usage
	Cause        error
}

func (e *NoObjectGeneratedError) Error() string {
	msg := "no object generated"
	if e.FinishReason != "" {
		msg += " (finish reason: " + e.FinishReason + ")"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *NoObjectGeneratedError) Unwrap() error { return e.Cause }

// SchemaValidationError means the model returned JSON that does not match
// the requested shape.
type SchemaValidationError struct {
	Value  string
	Issues []string
}

func (e *SchemaValidationError) Error() string {
	return "response does not match schema: " + strings.Join(e.Issues, "; ")
}

// ClassifyError turns an SDK error into a *ProviderError. Status codes are
// read from the SDK error types when present, otherwise from the message.
func ClassifyError(provider Provider, model string, err error) *ProviderError {
	if err == nil {
		return nil
	}

	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr
	}

	statusCode, message := sdkStatus(err)
	errStr := err.Error()
	lower := strings.ToLower(errStr)
	if statusCode == 0 {
		statusCode = extractStatusCode(errStr)
	}

	build := func(t ErrorType, msg string, retryable bool) *ProviderError {
		if message != "" {
			msg = msg + ": " + message
		}
		return &ProviderError{
			Type:       t,
			Provider:   provider,
			Model:      model,
			StatusCode: statusCode,
			Message:    msg,
			Retryable:  retryable,
			Cause:      err,
		}
	}

	switch {
	case statusCode == 401 || statusCode == 403 || strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "unauthorized"):
		return build(ErrorTypeAuth, "authentication failed", false)
	case statusCode == 429 || strings.Contains(lower, "rate limit"):
		return build(ErrorTypeRateLimit, "rate limited", true)
	case statusCode == 404 && strings.Contains(lower, "model"):
		return build(ErrorTypeModel, "model not found", false)
	case statusCode == 404:
		return build(ErrorTypeEndpoint, "endpoint not found", false)
	case statusCode == 400 || statusCode == 422:
		return build(ErrorTypeBadRequest, "request rejected", false)
	case statusCode >= 500 || strings.Contains(lower, "overloaded"):
		return build(ErrorTypeServer, "server error", true)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection reset"):
		return build(ErrorTypeEndpoint, "connection failed", true)
	}
	return build(ErrorTypeUnknown, "llm error", false)
}

// sdkStatus reads the HTTP status and API message from go-openai and
// go-anthropic error types.
func sdkStatus(err error) (int, string) {
	var oaAPI *openai.APIError
	if errors.As(err, &oaAPI) {
		return oaAPI.HTTPStatusCode, oaAPI.Message
	}
	var oaReq *openai.RequestError
	if errors.As(err, &oaReq) {
		return oaReq.HTTPStatusCode, ""
	}
	var anReq *anthropic.RequestError
	if errors.As(err, &anReq) {
		return anReq.StatusCode, ""
	}
	var anAPI *anthropic.APIError
	if errors.As(err, &anAPI) {
		status := 0
		switch anAPI.Type {
		case "rate_limit_error":
			status = 429
		case "overloaded_error":
			status = 529
		case "authentication_error":
			status = 401
		case "not_found_error":
			status = 404
		case "invalid_request_error":
			status = 400
		case "api_error":
			status = 500
		}
		return status, anAPI.Message
	}
	return 0, ""
}

// extractStatusCode finds a status code in an error string, requiring a
// non-digit on each side so 5000ms does not read as 500.
func extractStatusCode(errStr string) int {
	for _, code := range []int{400, 401, 403, 404, 422, 429, 500, 502, 503, 504, 529} {
		s := fmt.Sprintf("%d", code)
		idx := 0
		for {
			i := strings.Index(errStr[idx:], s)
			if i < 0 {
				break
			}
			start := idx + i
			end := start + len(s)
			beforeOK := start == 0 || !isDigit(errStr[start-1])
			afterOK := end == len(errStr) || !isDigit(errStr[end])
			if beforeOK && afterOK {
				return code
			}
			idx = end
		}
	}
	return 0
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// IsRetryable returns true if err is a retryable generation failure.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}
