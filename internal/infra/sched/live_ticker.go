package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/usecase"
)

// Ticker is the live scheduler as seen by its trigger.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (usecase.TickReport, error)
}

// specParser accepts standard five-field specs, an optional leading seconds
// field, and descriptors such as "@every 30s".
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// LiveTicker fires LiveScheduler.Tick on a cron schedule. A tick still
// running when the next one is due is skipped, not queued.
type LiveTicker struct {
	spec    string
	timeout time.Duration
	ticker  Ticker
	cron    *cron.Cron
	base    context.Context
	now     func() time.Time
	log     *zerolog.Logger
}

func NewLiveTicker(spec string, timeout time.Duration, ticker Ticker, logger *zerolog.Logger) (*LiveTicker, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l := logger.With().Str("component", "LiveTicker").Logger()
	cl := cronLogger{log: &l}

	t := &LiveTicker{
		spec:    spec,
		timeout: timeout,
		ticker:  ticker,
		base:    context.Background(),
		now:     time.Now,
		log:     &l,
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	if _, err := t.cron.AddFunc(spec, t.fire); err != nil {
		return nil, fmt.Errorf("live tick schedule %q: %w", spec, err)
	}
	return t, nil
}

// Start begins firing in the background. Ticks derive their context from ctx.
func (t *LiveTicker) Start(ctx context.Context) {
	t.base = ctx
	t.cron.Start()
	t.log.Info().Str("schedule", t.spec).Msg("live ticker started")
}

// Stop halts the schedule and waits for a running tick until ctx is done.
func (t *LiveTicker) Stop(ctx context.Context) {
	done := t.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		t.log.Warn().Msg("live ticker stop timed out with a tick in flight")
	}
	t.log.Info().Msg("live ticker stopped")
}

func (t *LiveTicker) fire() {
	if t.base.Err() != nil {
		return
	}
	if _, err := t.RunOnce(t.base); err != nil {
		t.log.Error().Err(err).Msg("live tick failed")
	}
}

// RunOnce performs a single bounded tick.
func (t *LiveTicker) RunOnce(ctx context.Context) (usecase.TickReport, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.ticker.Tick(ctx, t.now())
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct {
	log *zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
