package apperrors

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// stackTracer is implemented by errors created with github.com/pkg/errors
// and by the typed errors that embed Stack.
type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Stack captures the call stack at the point an error value is constructed.
// Embed it in typed errors so BuildErrorChain can report where they came from.
type Stack struct {
	trace pkgerrors.StackTrace
}

// NewStack records the caller's stack, skipping NewStack itself.
func NewStack() Stack {
	st, ok := pkgerrors.New("").(stackTracer)
	if !ok {
		return Stack{}
	}
	trace := st.StackTrace()
	if len(trace) > 1 {
		trace = trace[1:]
	}
	return Stack{trace: trace}
}

// StackTrace returns the recorded frames.
func (s Stack) StackTrace() pkgerrors.StackTrace {
	return s.trace
}

// ChainLink describes one error in a cause chain.
type ChainLink struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Source  string `json:"source,omitempty"`
}

// ErrorRecord is the serializable form of an error and its causes.
type ErrorRecord struct {
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Summary string         `json:"summary"`
	Chain   []ChainLink    `json:"chain"`
	Context map[string]any `json:"context,omitempty"`
}

// NewErrorRecord walks err's cause chain and attaches the given context.
func NewErrorRecord(err error, context map[string]any) *ErrorRecord {
	if err == nil {
		return nil
	}
	chain := BuildErrorChain(err)
	rec := &ErrorRecord{
		Name:    ErrorName(err),
		Message: err.Error(),
		Summary: Summarize(chain),
		Chain:   chain,
		Context: context,
	}
	if len(chain) > 0 {
		rec.Name = chain[0].Name
	}
	return rec
}

// BuildErrorChain flattens err and everything it wraps, depth first.
// Joined errors contribute every branch. Wrappers that only add a stack
// (errors.WithStack) are folded into the next link.
func BuildErrorChain(err error) []ChainLink {
	var links []ChainLink
	var pendingStack string
	seen := make(map[error]bool)

	var walk func(e error)
	walk = func(e error) {
		for e != nil {
			if isComparable(e) {
				if seen[e] {
					return
				}
				seen[e] = true
			}

			if joined, ok := e.(interface{ Unwrap() []error }); ok {
				for _, branch := range joined.Unwrap() {
					walk(branch)
				}
				return
			}

			next := errors.Unwrap(e)
			if next == nil {
				if c, ok := e.(interface{ Cause() error }); ok && c.Cause() != e {
					next = c.Cause()
				}
			}

			stack := stackOf(e)
			msg := ownMessage(e, next)
			if msg == "" && next != nil {
				if stack != "" && pendingStack == "" {
					pendingStack = stack
				}
				e = next
				continue
			}
			if stack == "" {
				stack = pendingStack
			}
			pendingStack = ""

			links = append(links, ChainLink{
				Name:    ErrorName(e),
				Message: msg,
				Stack:   stack,
				Source:  sourceOf(e),
			})
			e = next
		}
	}
	walk(err)
	return links
}

// Summarize renders a chain as a single human readable line.
func Summarize(chain []ChainLink) string {
	parts := make([]string, 0, len(chain))
	for _, link := range chain {
		parts = append(parts, link.Name+": "+link.Message)
	}
	return strings.Join(parts, " <- ")
}

// ErrorName returns a short type name for err. Types may override it
// by implementing ErrorName() string.
func ErrorName(err error) string {
	if n, ok := err.(interface{ ErrorName() string }); ok {
		return n.ErrorName()
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	switch name {
	case "", "errorString", "fundamental":
		return "Error"
	case "wrapError", "wrapErrors", "withMessage", "withStack":
		return "WrappedError"
	}
	return name
}

// ownMessage strips the wrapped cause's text from e's message so each link
// only reports what it added.
func ownMessage(e, next error) string {
	msg := e.Error()
	if next == nil {
		return msg
	}
	nextMsg := next.Error()
	if msg == nextMsg {
		return ""
	}
	if trimmed, ok := strings.CutSuffix(msg, ": "+nextMsg); ok {
		return trimmed
	}
	return msg
}

func stackOf(e error) string {
	st, ok := e.(stackTracer)
	if !ok {
		return ""
	}
	trace := st.StackTrace()
	if len(trace) == 0 {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%+v", trace))
}

func sourceOf(e error) string {
	if s, ok := e.(interface{ ErrorSource() string }); ok {
		return s.ErrorSource()
	}
	st, ok := e.(stackTracer)
	if !ok || len(st.StackTrace()) == 0 {
		return ""
	}
	return fmt.Sprintf("%n (%s:%d)", st.StackTrace()[0], st.StackTrace()[0], st.StackTrace()[0])
}

func isComparable(e error) bool {
	return reflect.TypeOf(e).Comparable()
}

// JobError carries an already serialized error record alongside the
// original cause, so a queue worker can reuse the enrichment done by
// the job itself.
type JobError struct {
	Record *ErrorRecord
	cause  error
}

// NewJobError wraps cause together with its record.
func NewJobError(record *ErrorRecord, cause error) *JobError {
	return &JobError{Record: record, cause: cause}
}

func (e *JobError) Error() string {
	if e.Record != nil && e.Record.Summary != "" {
		return e.Record.Summary
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return "job failed"
}

func (e *JobError) Unwrap() error { return e.cause }

// ErrorName reports the name of the underlying failure rather than the wrapper.
func (e *JobError) ErrorName() string {
	if e.Record != nil {
		return e.Record.Name
	}
	return "JobError"
}
