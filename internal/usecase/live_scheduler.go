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

// TickLocker lets replicas skip a tick another replica is already running.
// It only saves work; correctness never depends on it.
type TickLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

type SourceError struct {
	SourceID string
	Err      error
}

// TickReport summarizes one scheduler tick.
type TickReport struct {
	Sources int
	Windows int
	repository.EnqueueResult
	Failures []SourceError
	// Skipped is set when another replica held the tick lock.
	Skipped bool
}

type LiveScheduler struct {
	sources repository.LiveSourceRepository
	jobs    repository.AnalysisJobRepository
	tm      repository.TransactionManager

	locker  TickLocker
	lockKey string
	lockTTL time.Duration

	log *zerolog.Logger
}

func NewLiveScheduler(sources repository.LiveSourceRepository, jobs repository.AnalysisJobRepository, tm repository.TransactionManager, logger *zerolog.Logger) *LiveScheduler {
	return &LiveScheduler{sources: sources, jobs: jobs, tm: tm, log: logger}
}

// WithLock enables single-flight ticks across replicas.
func (s *LiveScheduler) WithLock(l TickLocker, key string, ttl time.Duration) *LiveScheduler {
	s.locker, s.lockKey, s.lockTTL = l, key, ttl
	return s
}

// Tick enqueues every complete window each active source has accumulated
// since its watermark. A failing source is reported and the rest proceed.
func (s *LiveScheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	var rep TickReport

	if s.locker != nil {
		token, err := s.locker.TryLock(ctx, s.lockKey, s.lockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			s.log.Debug().Msg("live tick skipped: lock held")
			rep.Skipped = true
			return rep, nil
		case err != nil:
			s.log.Warn().Err(err).Msg("tick lock unavailable; running without it")
		default:
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), s.lockKey, token); err != nil {
					s.log.Warn().Err(err).Msg("release tick lock")
				}
			}()
		}
	}

	sources, err := s.sources.ListActive(ctx, repository.NoTX)
	if err != nil {
		metrics.IncLiveTickError()
		return rep, fmt.Errorf("list active sources: %w", err)
	}

	nowEpoch := now.Unix()
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if !src.Schedulable() {
			s.log.Warn().Str("source_id", src.ID).Msg("active source has no playback id; skipping")
			continue
		}
		rep.Sources++

		n, res, err := s.tickSource(ctx, src, nowEpoch, now)
		if err != nil {
			metrics.IncLiveTickError()
			s.log.Error().Err(err).Str("source_id", src.ID).Msg("live tick failed for source")
			rep.Failures = append(rep.Failures, SourceError{SourceID: src.ID, Err: err})
			continue
		}
		rep.Windows += n
		rep.EnqueueResult = rep.EnqueueResult.Add(res)
	}

	metrics.AddLiveTickWindows(rep.Windows)
	metrics.ObserveEnqueue("live", rep.Inserted, rep.Duplicates, rep.Rejected)
	s.log.Info().
		Int("sources", rep.Sources).
		Int("windows", rep.Windows).
		Int("inserted", rep.Inserted).
		Int("duplicates", rep.Duplicates).
		Int("failures", len(rep.Failures)).
		Msg("live tick done")
	return rep, nil
}

// tickSource enqueues a source's due windows and advances its watermark in
// one transaction, so a crash between the two cannot lose windows.
func (s *LiveScheduler) tickSource(ctx context.Context, src *model.LiveSource, nowEpoch int64, now time.Time) (int, repository.EnqueueResult, error) {
	windows, watermark := window.Advance(src.LastProcessedEpoch, nowEpoch)
	if len(windows) == 0 {
		return 0, repository.EnqueueResult{}, nil
	}

	jobs := make([]*model.AnalysisJob, 0, len(windows))
	for _, w := range windows {
		j, err := model.NewLiveWindowJob(src.ID, src.PlaybackID, w, now)
		if err != nil {
			return 0, repository.EnqueueResult{}, err
		}
		jobs = append(jobs, j)
	}

	var res repository.EnqueueResult
	err := s.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if res, err = s.jobs.Enqueue(ctx, tx, jobs); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		if err := s.sources.AdvanceWatermark(ctx, tx, src.ID, watermark, now); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, repository.EnqueueResult{}, err
	}
	return len(windows), res, nil
}
