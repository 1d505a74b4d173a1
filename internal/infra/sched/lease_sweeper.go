package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
	"video-analysis-pipeline/internal/infra/metrics"
)

// LeaseSweeper periodically returns jobs held by crashed workers to the
// queue and refreshes the per-status job gauges.
type LeaseSweeper struct {
	jobs        repository.AnalysisJobRepository
	interval    time.Duration
	batch       int
	maxAttempts int
	now         func() time.Time
	log         *zerolog.Logger
}

func NewLeaseSweeper(jobs repository.AnalysisJobRepository, interval time.Duration, batch, maxAttempts int, logger *zerolog.Logger) *LeaseSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	l := logger.With().Str("component", "LeaseSweeper").Logger()
	return &LeaseSweeper{
		jobs:        jobs,
		interval:    interval,
		batch:       batch,
		maxAttempts: maxAttempts,
		now:         time.Now,
		log:         &l,
	}
}

func (w *LeaseSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting lease sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping lease sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *LeaseSweeper) runOnce(ctx context.Context) {
	n, err := w.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("lease sweep error")
	}
	if n > 0 {
		w.log.Warn().Int("count", n).Msg("reclaimed jobs with expired leases")
	}
	if err := w.RefreshGauges(ctx); err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("refresh job gauges")
	}
}

// Sweep reclaims expired leases batch by batch until a short batch shows
// nothing is left. It returns how many jobs were reclaimed.
func (w *LeaseSweeper) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := w.jobs.ReclaimExpired(ctx, w.now(), w.maxAttempts, w.batch)
		total += n
		metrics.AddLeasesReclaimed(n)
		if err != nil {
			return total, err
		}
		if n < w.batch || ctx.Err() != nil {
			return total, nil
		}
	}
}

func (w *LeaseSweeper) RefreshGauges(ctx context.Context) error {
	counts, err := w.jobs.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, s := range model.AllJobStatuses {
		metrics.SetJobsByStatus(string(s), counts[s])
	}
	return nil
}
