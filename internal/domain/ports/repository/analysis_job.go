package repository

import (
	"context"
	"time"

	"video-analysis-pipeline/internal/domain/model"
)

// EnqueueResult tallies what happened to each job of an Enqueue batch.
type EnqueueResult struct {
	Inserted   int
	Duplicates int
	// Rejected counts asset-keyed jobs refused because their epoch key belongs
	// to an existing epoch-keyed job of the same source.
	Rejected int
}

func (r EnqueueResult) Add(o EnqueueResult) EnqueueResult {
	return EnqueueResult{
		Inserted:   r.Inserted + o.Inserted,
		Duplicates: r.Duplicates + o.Duplicates,
		Rejected:   r.Rejected + o.Rejected,
	}
}

// AnalysisJobRepository is the durable job queue plus the result rows it owns.
type AnalysisJobRepository interface {
	// Enqueue inserts jobs, silently skipping any whose key already exists.
	Enqueue(ctx context.Context, tx Tx, jobs []*model.AnalysisJob) (EnqueueResult, error)

	// ClaimNext atomically moves one claimable queued job to processing and
	// returns it with a fresh claim token. Returns domain.ErrNotFound when the
	// queue is empty; it never waits for work.
	ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*model.AnalysisJob, error)

	// ExtendLease pushes the lease of a job still held under claimToken.
	ExtendLease(ctx context.Context, jobID, claimToken string, lease time.Duration) error

	// MarkSucceeded stores the result and finalizes the job in one transaction.
	MarkSucceeded(ctx context.Context, jobID, claimToken string, result *model.AnalysisResult) error

	// MarkFailed records a failed attempt and returns the job's new status.
	MarkFailed(ctx context.Context, p model.FailParams) (model.JobStatus, error)

	// ReclaimExpired returns processing jobs whose lease ended before now to the
	// queue (or dead-letters them once maxAttempts is reached).
	ReclaimExpired(ctx context.Context, now time.Time, maxAttempts, limit int) (int, error)

	FindByID(ctx context.Context, tx Tx, id string) (*model.AnalysisJob, error)
	FindResultByJobID(ctx context.Context, jobID string) (*model.AnalysisResult, error)
	ListBySource(ctx context.Context, sourceID string, limit int) ([]*model.AnalysisJob, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}
