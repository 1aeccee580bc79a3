package apperrors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyBatch      = errors.New("at least one comment id is required")
	ErrQueueClosed     = errors.New("queue closed")
	ErrLeaseLost       = errors.New("job lease lost")
	ErrUnauthenticated = errors.New("unauthenticated")
)
