package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobDetail is a job plus its result once it has succeeded.
type JobDetail struct {
	Job    *model.AnalysisJob
	Result *model.AnalysisResult
}

type JobQueryUseCase interface {
	Get(ctx context.Context, id string) (*JobDetail, error)
	ListBySource(ctx context.Context, sourceID string, limit int) ([]*model.AnalysisJob, error)
	Stats(ctx context.Context) (map[model.JobStatus]int, error)
}

var _ JobQueryUseCase = (*jobQueryUC)(nil)

type jobQueryUC struct {
	jobs repository.AnalysisJobRepository
	log  *zerolog.Logger
}

func NewJobQueryUseCase(jobs repository.AnalysisJobRepository, logger *zerolog.Logger) *jobQueryUC {
	return &jobQueryUC{jobs: jobs, log: logger}
}

func (u *jobQueryUC) Get(ctx context.Context, id string) (*JobDetail, error) {
	job, err := u.jobs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	d := &JobDetail{Job: job}
	if job.Status != model.JobStatusSucceeded {
		return d, nil
	}
	res, err := u.jobs.FindResultByJobID(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		u.log.Warn().Str("job_id", id).Msg("succeeded job has no result row")
	case err != nil:
		return nil, err
	default:
		d.Result = res
	}
	return d, nil
}

func (u *jobQueryUC) ListBySource(ctx context.Context, sourceID string, limit int) ([]*model.AnalysisJob, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return u.jobs.ListBySource(ctx, sourceID, limit)
}

// Stats returns a count for every status, including those with no jobs.
func (u *jobQueryUC) Stats(ctx context.Context) (map[model.JobStatus]int, error) {
	counts, err := u.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[model.JobStatus]int, len(model.AllJobStatuses))
	for _, s := range model.AllJobStatuses {
		out[s] = counts[s]
	}
	return out, nil
}
