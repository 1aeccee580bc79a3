package workqueue

import (
	"encoding/json"
	"errors"
	"maps"
	"time"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
)

// JobFailure is the normalized form of whatever a processor returned or
// panicked with. Its JSON shape is what the job record and the job.failed
// event carry.
type JobFailure struct {
	Name     string
	Message  string
	Summary  string
	Chain    []apperrors.ChainLink
	Context  map[string]any
	Duration time.Duration
	Attempt  int
	At       time.Time

	cause error
}

// NewJobFailure normalizes err. A record already built by the processor
// (an *apperrors.JobError) is reused instead of walking the chain again.
func NewJobFailure(err error, job *Job, attempt int, duration time.Duration) *JobFailure {
	var record *apperrors.ErrorRecord
	var jobErr *apperrors.JobError
	if errors.As(err, &jobErr) && jobErr.Record != nil {
		record = jobErr.Record
	} else {
		record = apperrors.NewErrorRecord(err, nil)
	}

	ctx := map[string]any{
		"jobId":    job.ID,
		"queue":    job.Queue,
		"jobName":  job.Name,
		"attempt":  attempt,
		"attempts": job.Opts.Attempts,
	}
	maps.Copy(ctx, record.Context)

	return &JobFailure{
		Name:     record.Name,
		Message:  record.Message,
		Summary:  record.Summary,
		Chain:    record.Chain,
		Context:  ctx,
		Duration: duration,
		Attempt:  attempt,
		At:       time.Now().UTC(),
		cause:    err,
	}
}

func (f *JobFailure) Error() string {
	if f.Summary != "" {
		return f.Summary
	}
	return f.Message
}

func (f *JobFailure) Unwrap() error { return f.cause }

// MarshalJSON flattens the failure for dashboards that only read plain
// JSON fields.
func (f *JobFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name       string                `json:"name"`
		Message    string                `json:"message"`
		Summary    string                `json:"summary"`
		Chain      []apperrors.ChainLink `json:"errorChain"`
		Context    map[string]any        `json:"context"`
		DurationMs int64                 `json:"duration"`
		Attempt    int                   `json:"attempt"`
		Timestamp  time.Time             `json:"timestamp"`
	}{
		Name:       f.Name,
		Message:    f.Message,
		Summary:    f.Summary,
		Chain:      f.Chain,
		Context:    f.Context,
		DurationMs: f.Duration.Milliseconds(),
		Attempt:    f.Attempt,
		Timestamp:  f.At,
	})
}
