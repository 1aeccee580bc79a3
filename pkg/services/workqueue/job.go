package workqueue

import (
	"encoding/json"
	"time"
)

// JobState is where a job sits in its queue.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobOptions controls retries for one job.
type JobOptions struct {
	// Attempts is the total number of runs, including the first.
	Attempts int `json:"attempts"`
	// BackoffMs is the delay before the first retry. Later retries double it.
	BackoffMs int64 `json:"backoffMs"`
}

// Backoff returns the initial retry delay.
func (o JobOptions) Backoff() time.Duration {
	return time.Duration(o.BackoffMs) * time.Millisecond
}

// Job is one unit of queued work as stored by a Broker.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	Opts         JobOptions      `json:"opts"`
	State        JobState        `json:"state"`
	AttemptsMade int             `json:"attemptsMade"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	ReturnValue  json.RawMessage `json:"returnValue,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	Failure      json.RawMessage `json:"failure,omitempty"`
}

// Decode unmarshals the job's payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Data, v)
}

func (j *Job) clone() *Job {
	c := *j
	return &c
}

// Counts holds the number of jobs per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
