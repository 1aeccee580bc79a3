package llm

import (
	"context"
	"maps"
	"slices"

	"go.uber.org/zap"
)

type contextKey string

const callContextKey contextKey = "llm_call_context"

// WithContext attaches values that the client adds to the log lines of
// every call made with ctx, such as the job and agent a call serves.
// Values merge with any already attached.
func WithContext(ctx context.Context, values map[string]any) context.Context {
	merged := GetContext(ctx)
	if merged == nil {
		merged = make(map[string]any, len(values))
	}
	maps.Copy(merged, values)
	return context.WithValue(ctx, callContextKey, merged)
}

// GetContext returns a copy of the values attached with WithContext, or nil.
func GetContext(ctx context.Context) map[string]any {
	if c, ok := ctx.Value(callContextKey).(map[string]any); ok {
		return maps.Clone(c)
	}
	return nil
}

// logFields renders the attached values as zap fields in key order.
func logFields(ctx context.Context) []zap.Field {
	values := GetContext(ctx)
	if len(values) == 0 {
		return nil
	}
	fields := make([]zap.Field, 0, len(values))
	for _, k := range slices.Sorted(maps.Keys(values)) {
		fields = append(fields, zap.Any(k, values[k]))
	}
	return fields
}
