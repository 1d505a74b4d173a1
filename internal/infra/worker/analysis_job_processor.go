package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
	"video-analysis-pipeline/internal/infra/logging"
	"video-analysis-pipeline/internal/infra/metrics"
	"video-analysis-pipeline/internal/usecase"
)

// finalizeTimeout bounds the status write after a job, which runs even
// when the worker is shutting down.
const finalizeTimeout = 10 * time.Second

// Pipeline is the analysis run for one claimed job.
type Pipeline interface {
	Run(ctx context.Context, job *model.AnalysisJob) usecase.Outcome
}

type ProcessorConfig struct {
	MaxAttempts    int
	LeaseTTL       time.Duration
	JobTimeout     time.Duration
	PollMin        time.Duration
	PollMax        time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type AnalysisJobProcessor struct {
	jobs     repository.AnalysisJobRepository
	pipeline Pipeline
	cfg      ProcessorConfig
	prefix   string
	now      func() time.Time
	jitter   func(d time.Duration) time.Duration
	log      *zerolog.Logger
}

func NewAnalysisJobProcessor(jobs repository.AnalysisJobRepository, pipeline Pipeline, cfg ProcessorConfig, log *zerolog.Logger) *AnalysisJobProcessor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.PollMin <= 0 {
		cfg.PollMin = 500 * time.Millisecond
	}
	if cfg.PollMax < cfg.PollMin {
		cfg.PollMax = cfg.PollMin
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 30 * time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return &AnalysisJobProcessor{
		jobs:     jobs,
		pipeline: pipeline,
		cfg:      cfg,
		prefix:   fmt.Sprintf("%s-%d", host, os.Getpid()),
		now:      time.Now,
		jitter:   fullJitter,
		log:      log,
	}
}

// Start runs one polling loop per pool worker. It returns immediately.
func (p *AnalysisJobProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Int("workers", pool.Size()).Msg("analysis job processor started")
	pool.Start(ctx, p.loop)
}

func (p *AnalysisJobProcessor) loop(ctx context.Context, id int) {
	workerID := fmt.Sprintf("%s-%d", p.prefix, id)
	idle := p.cfg.PollMin
	for ctx.Err() == nil {
		worked, err := p.ProcessOne(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Str("worker_id", workerID).Msg("claim failed")
		}
		if worked {
			idle = p.cfg.PollMin
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.jitter(idle)):
		}
		idle *= 2
		if idle > p.cfg.PollMax {
			idle = p.cfg.PollMax
		}
	}
}

// ProcessOne claims and runs at most one job. It reports whether a job was
// claimed; per-job failures are recorded on the job, not returned.
func (p *AnalysisJobProcessor) ProcessOne(ctx context.Context, workerID string) (bool, error) {
	job, err := p.jobs.ClaimNext(ctx, workerID, p.cfg.LeaseTTL)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metrics.IncJobClaimed()

	ctx = logging.WithSourceID(logging.WithJobID(ctx, job.ID), job.SourceID)
	log := logging.With(ctx, p.log)
	log.Info().
		Str("worker_id", workerID).
		Str("key", job.DedupKey()).
		Int("attempts", job.Attempts).
		Msg("job claimed")

	start := p.now()
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	stopBeat := p.heartbeat(jobCtx, cancel, job, log)
	out := p.run(jobCtx, job, log)
	stopBeat()
	cancel()

	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer fcancel()

	if out.Succeeded() {
		err := p.jobs.MarkSucceeded(fctx, job.ID, job.ClaimToken, out.Result)
		switch {
		case errors.Is(err, domain.ErrLeaseLost):
			log.Warn().Msg("lease lost before success could be recorded; result discarded")
		case err != nil:
			log.Error().Err(err).Msg("record success")
		default:
			metrics.IncJobFinished(string(model.JobStatusSucceeded))
			log.Info().Dur("duration", p.now().Sub(start)).Msg("job succeeded")
		}
		return true, nil
	}

	failure := errors.New("pipeline returned no result")
	if out.Failure != nil {
		failure = out.Failure
	}
	permanent := errors.Is(failure, domain.ErrPermanent)
	status, err := p.jobs.MarkFailed(fctx, model.FailParams{
		JobID:       job.ID,
		ClaimToken:  job.ClaimToken,
		Error:       failure.Error(),
		MaxAttempts: p.cfg.MaxAttempts,
		RetryAt:     p.now().Add(p.RetryDelay(job.Attempts + 1)),
		Permanent:   permanent,
	})
	switch {
	case errors.Is(err, domain.ErrLeaseLost):
		log.Warn().Err(failure).Msg("lease lost before failure could be recorded")
	case err != nil:
		log.Error().Err(err).AnErr("job_error", failure).Msg("record failure")
	default:
		metrics.IncJobFinished(string(status))
		log.Warn().
			Err(failure).
			Str("status", string(status)).
			Bool("permanent", permanent).
			Dur("duration", p.now().Sub(start)).
			Msg("job failed")
	}
	return true, nil
}

// run calls the pipeline and turns a panic into a job failure.
func (p *AnalysisJobProcessor) run(ctx context.Context, job *model.AnalysisJob, log *zerolog.Logger) (out usecase.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("pipeline panicked")
			out = usecase.Outcome{Failure: &usecase.StageError{Stage: "run", Err: fmt.Errorf("panic: %v", r)}}
		}
	}()
	return p.pipeline.Run(ctx, job)
}

// heartbeat extends the lease every third of its TTL until stopped. Losing
// the lease cancels the job.
func (p *AnalysisJobProcessor) heartbeat(ctx context.Context, cancel context.CancelFunc, job *model.AnalysisJob, log *zerolog.Logger) func() {
	every := p.cfg.LeaseTTL / 3
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				err := p.jobs.ExtendLease(ctx, job.ID, job.ClaimToken, p.cfg.LeaseTTL)
				if errors.Is(err, domain.ErrLeaseLost) {
					log.Warn().Msg("lease lost; abandoning job")
					cancel()
					return
				}
				if err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("extend lease")
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// RetryDelay is the backoff before attempt n+1, doubling from the base delay.
func (p *AnalysisJobProcessor) RetryDelay(attempts int) time.Duration {
	d := p.cfg.RetryBaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.cfg.RetryMaxDelay {
			return p.cfg.RetryMaxDelay
		}
	}
	return d
}

// fullJitter spreads idle polls of many workers over [d/2, d).
func fullJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(half)
}
