package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/models"
	"github.com/ekaya-inc/comment-insights/pkg/services/workqueue"
)

// DefaultAnalysisBatchSize is how many comments one job analyzes.
const DefaultAnalysisBatchSize = 5

// ErrEmptyBatch is returned when a submission names no comments.
var ErrEmptyBatch = errors.New("at least one comment id is required")

// BatchSubmission describes the jobs created for one submission.
type BatchSubmission struct {
	JobIDs        []string `json:"jobIds"`
	TotalBatches  int      `json:"totalBatches"`
	TotalComments int      `json:"totalComments"`
}

// AnalysisService splits comment submissions into analyze-comments jobs.
type AnalysisService interface {
	SubmitBatch(ctx context.Context, commentIDs []uuid.UUID, metadata map[string]any) (*BatchSubmission, error)
}

type analysisService struct {
	queue     *workqueue.Queue
	batchSize int
	logger    *zap.Logger
}

// NewAnalysisService creates an AnalysisService that enqueues on queue.
// Retry attempts and backoff come from the queue manager's configuration.
func NewAnalysisService(queue *workqueue.Queue, batchSize int, logger *zap.Logger) AnalysisService {
	if batchSize <= 0 {
		batchSize = DefaultAnalysisBatchSize
	}
	return &analysisService{
		queue:     queue,
		batchSize: batchSize,
		logger:    logger.Named("analysis"),
	}
}

var _ AnalysisService = (*analysisService)(nil)

func (s *analysisService) SubmitBatch(ctx context.Context, commentIDs []uuid.UUID, metadata map[string]any) (*BatchSubmission, error) {
	if len(commentIDs) == 0 {
		return nil, ErrEmptyBatch
	}

	chunks := chunkIDs(commentIDs, s.batchSize)
	jobs := make([]workqueue.BulkJob, len(chunks))
	for i, chunk := range chunks {
		meta := make(map[string]any, len(metadata)+3)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["batchIndex"] = i
		meta["totalBatches"] = len(chunks)
		meta["totalComments"] = len(commentIDs)

		jobs[i] = workqueue.BulkJob{
			Name: AnalyzeCommentsJobName,
			Data: models.AnalyzeCommentsJob{CommentIDs: chunk, Metadata: meta},
		}
	}

	added, err := s.queue.AddBulk(ctx, jobs)
	if err != nil {
		return nil, fmt.Errorf("enqueue analysis batches: %w", err)
	}

	sub := &BatchSubmission{
		JobIDs:        make([]string, len(added)),
		TotalBatches:  len(chunks),
		TotalComments: len(commentIDs),
	}
	for i, job := range added {
		sub.JobIDs[i] = job.ID
	}

	s.logger.Info("Submitted comments for analysis",
		zap.Int("comments", len(commentIDs)),
		zap.Int("batches", len(chunks)),
		zap.Strings("job_ids", sub.JobIDs))

	return sub, nil
}

func chunkIDs(ids []uuid.UUID, size int) [][]uuid.UUID {
	if size <= 0 {
		size = DefaultAnalysisBatchSize
	}
	chunks := make([][]uuid.UUID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}
