package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
	"video-analysis-pipeline/internal/domain/window"
	"video-analysis-pipeline/internal/infra/metrics"
)

// assetJobs decomposes a recording of duration seconds into asset-keyed jobs.
func assetJobs(sourceType model.SourceType, sourceID, assetID, playbackID string, duration float64, now time.Time) ([]*model.AnalysisJob, error) {
	if sourceID == "" || assetID == "" || playbackID == "" {
		return nil, fmt.Errorf("%w: source, asset and playback ids are required", domain.ErrInvalidArgument)
	}
	if duration < 0 {
		return nil, fmt.Errorf("%w: negative duration %v", domain.ErrInvalidArgument, duration)
	}
	windows := window.Decompose(duration)
	jobs := make([]*model.AnalysisJob, 0, len(windows))
	for _, w := range windows {
		j, err := model.NewAssetWindowJob(sourceType, sourceID, assetID, playbackID, w, now)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CompletionReconciler enqueues the definitive windows of a live stream's
// recording once the stream has ended.
type CompletionReconciler struct {
	sources repository.LiveSourceRepository
	jobs    repository.AnalysisJobRepository
	tm      repository.TransactionManager
	now     func() time.Time
	log     *zerolog.Logger
}

func NewCompletionReconciler(sources repository.LiveSourceRepository, jobs repository.AnalysisJobRepository, tm repository.TransactionManager, logger *zerolog.Logger) *CompletionReconciler {
	return &CompletionReconciler{sources: sources, jobs: jobs, tm: tm, now: time.Now, log: logger}
}

func (r *CompletionReconciler) WithClock(now func() time.Time) *CompletionReconciler {
	r.now = now
	return r
}

// Reconcile enqueues every window of the recording. Windows the live
// scheduler already covered are absorbed by the store's dedup; re-delivery
// of the same recording enqueues nothing new.
func (r *CompletionReconciler) Reconcile(ctx context.Context, rec model.CompletedRecording) (repository.EnqueueResult, error) {
	now := r.now()
	jobs, err := assetJobs(model.SourceTypeLive, rec.LiveSourceID, rec.AssetID, rec.PlaybackID, rec.Duration, now)
	if err != nil {
		return repository.EnqueueResult{}, err
	}

	var res repository.EnqueueResult
	err = r.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if len(jobs) > 0 {
			var err error
			if res, err = r.jobs.Enqueue(ctx, tx, jobs); err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
		}
		src, err := r.sources.FindByID(ctx, tx, rec.LiveSourceID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			r.log.Warn().Str("source_id", rec.LiveSourceID).Msg("completed recording for unknown live source")
			return nil
		case err != nil:
			return fmt.Errorf("load live source: %w", err)
		}
		if src.Status == model.LiveSourceStatusActive {
			return r.sources.SetStatus(ctx, tx, src.ID, model.LiveSourceStatusIdle, now)
		}
		return nil
	})
	if err != nil {
		return repository.EnqueueResult{}, err
	}

	metrics.ObserveEnqueue("reconcile", res.Inserted, res.Duplicates, res.Rejected)
	if res.Rejected > 0 {
		r.log.Warn().Str("asset_id", rec.AssetID).Int("rejected", res.Rejected).Msg("asset windows alias live windows")
	}
	r.log.Info().
		Str("source_id", rec.LiveSourceID).
		Str("asset_id", rec.AssetID).
		Float64("duration", rec.Duration).
		Int("windows", len(jobs)).
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Msg("recording reconciled")
	return res, nil
}

// VODEnqueuer enqueues the windows of an uploaded asset.
type VODEnqueuer struct {
	jobs repository.AnalysisJobRepository
	now  func() time.Time
	log  *zerolog.Logger
}

func NewVODEnqueuer(jobs repository.AnalysisJobRepository, logger *zerolog.Logger) *VODEnqueuer {
	return &VODEnqueuer{jobs: jobs, now: time.Now, log: logger}
}

func (v *VODEnqueuer) WithClock(now func() time.Time) *VODEnqueuer {
	v.now = now
	return v
}

func (v *VODEnqueuer) Enqueue(ctx context.Context, asset model.ReadyAsset) (repository.EnqueueResult, error) {
	jobs, err := assetJobs(model.SourceTypeVOD, asset.AssetID, asset.AssetID, asset.PlaybackID, asset.Duration, v.now())
	if err != nil {
		return repository.EnqueueResult{}, err
	}
	if len(jobs) == 0 {
		return repository.EnqueueResult{}, nil
	}
	res, err := v.jobs.Enqueue(ctx, repository.NoTX, jobs)
	if err != nil {
		return repository.EnqueueResult{}, fmt.Errorf("enqueue: %w", err)
	}
	metrics.ObserveEnqueue("vod", res.Inserted, res.Duplicates, res.Rejected)
	v.log.Info().
		Str("asset_id", asset.AssetID).
		Float64("duration", asset.Duration).
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Msg("vod asset enqueued")
	return res, nil
}
