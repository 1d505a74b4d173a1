// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"video-analysis-pipeline/internal/config"
	"video-analysis-pipeline/internal/domain/ports/adapter"
	aiAdapters "video-analysis-pipeline/internal/infra/adapters/ai"
	"video-analysis-pipeline/internal/infra/adapters/detector"
	"video-analysis-pipeline/internal/infra/adapters/videohost"
	"video-analysis-pipeline/internal/infra/api"
	"video-analysis-pipeline/internal/infra/db/store"
	"video-analysis-pipeline/internal/infra/ffmpeg"
	"video-analysis-pipeline/internal/infra/logging"
	"video-analysis-pipeline/internal/infra/metrics"
	red "video-analysis-pipeline/internal/infra/redis"
	"video-analysis-pipeline/internal/infra/sched"
	"video-analysis-pipeline/internal/infra/worker"
	"video-analysis-pipeline/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

const tickLockKey = "lock:live_tick"

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "console logging and verbose defaults")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("app stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo("app", version, commit)
	logger.Info().Str("version", version).Str("db", cfg.Database.Driver).Msg("starting")

	// ---- Store ----
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	// ---- Redis (optional) ----
	var (
		locker  usecase.TickLocker
		deduper usecase.EventDeduper
		limiter api.Limiter
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		locker = red.NewLocker(rc)
		deduper = red.NewEventDeduper(rc, cfg.Redis.TTL)
		limiter = red.NewRateLimiter(rc)
		st.WithResultCache(rc, cfg.Redis.TTL)
		logger.Info().Msg("redis enabled: webhook dedup, tick lock, rate limit, result cache")
	}

	// ---- Adapters ----
	ff, err := ffmpeg.New(cfg.VideoHost.FFmpegPath, cfg.VideoHost.TempDir, logging.Component(logger, "ffmpeg"))
	if err != nil {
		return err
	}
	signer, err := videohost.NewSigner(cfg.VideoHost.SigningKeyID, cfg.VideoHost.SigningPrivateKey, cfg.VideoHost.TokenTTL)
	if err != nil {
		return fmt.Errorf("playback signer: %w", err)
	}
	host := videohost.NewMuxHost(cfg.VideoHost.StreamBaseURL, signer, ff, ff.TempDir(), logging.Component(logger, "videohost"))
	verifier := videohost.NewWebhookVerifier(cfg.VideoHost.WebhookSecret, cfg.VideoHost.WebhookTolerance)
	if !verifier.Enabled() {
		logger.Warn().Msg("video_host.webhook_secret not set; webhook signatures are NOT verified")
	}

	det, err := detector.NewClient(cfg.Detector.BaseURL, cfg.Detector.Model, cfg.Detector.APIKey, cfg.Detector.RatePerSecond, cfg.Detector.Timeout, logging.Component(logger, "detector"))
	if err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	summarizer, err := buildSummarizer(ctx, cfg.AI, ff, logger)
	if err != nil {
		return err
	}

	// ---- Use cases ----
	liveSched := usecase.NewLiveScheduler(st.Sources, st.Jobs, st.TM, logging.Component(logger, "LiveScheduler"))
	if locker != nil {
		liveSched.WithLock(locker, tickLockKey, cfg.Scheduler.LockTTL)
	}
	reconciler := usecase.NewCompletionReconciler(st.Sources, st.Jobs, st.TM, logging.Component(logger, "CompletionReconciler"))
	vod := usecase.NewVODEnqueuer(st.Jobs, logging.Component(logger, "VODEnqueuer"))
	lifecycle := usecase.NewLifecycleUseCase(st.Sources, reconciler, vod, deduper, logging.Component(logger, "Lifecycle"))
	queries := usecase.NewJobQueryUseCase(st.Jobs, logger)
	pipeline := usecase.NewAnalysisPipeline(host, ff, det, summarizer, usecase.PipelineOptions{
		FrameFPS:            cfg.Pipeline.FrameFPS,
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		DetectConcurrency:   cfg.Pipeline.DetectConcurrency,
	}, logging.Component(logger, "AnalysisPipeline"))

	// ---- Workers ----
	pool := worker.NewPool(cfg.Worker.Count, logger)
	processor := worker.NewAnalysisJobProcessor(st.Jobs, pipeline, worker.ProcessorConfig{
		MaxAttempts:    cfg.Worker.MaxAttempts,
		LeaseTTL:       cfg.Worker.LeaseTTL,
		JobTimeout:     cfg.Worker.JobTimeout,
		PollMin:        cfg.Worker.PollMin,
		PollMax:        cfg.Worker.PollMax,
		RetryBaseDelay: cfg.Worker.RetryBaseDelay,
		RetryMaxDelay:  cfg.Worker.RetryMaxDelay,
	}, logging.Component(logger, "AnalysisJobProcessor"))
	processor.Start(ctx, pool)
	defer pool.Stop()

	// ---- Background schedules ----
	g, gctx := errgroup.WithContext(ctx)

	sweeper := sched.NewLeaseSweeper(st.Jobs, cfg.Sweeper.Interval, cfg.Sweeper.Batch, cfg.Worker.MaxAttempts, logger)
	g.Go(func() error {
		if err := sweeper.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		st.ReportPoolStats(gctx, 15*time.Second, logger)
		return nil
	})

	if cfg.Scheduler.LiveTickCron != "" {
		ticker, err := sched.NewLiveTicker(cfg.Scheduler.LiveTickCron, cfg.Scheduler.TickTimeout, liveSched, logger)
		if err != nil {
			return err
		}
		ticker.Start(gctx)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.TickTimeout)
			defer cancel()
			ticker.Stop(sctx)
		}()
	} else {
		logger.Info().Msg("scheduler.live_tick_cron empty; live ticks only via trigger endpoint or cmd/tick")
	}

	// ---- HTTP ----
	srv := api.NewServer(api.Deps{
		Lifecycle: lifecycle,
		Jobs:      queries,
		Ticker:    liveSched,
		Verifier:  verifier,
		Limiter:   limiter,
		Ping:      st.Ping,
	}, api.Options{
		RequestTimeout:       cfg.HTTP.RequestTimeout,
		TriggerToken:         cfg.HTTP.TriggerToken,
		WebhookRatePerMinute: cfg.HTTP.WebhookRatePerMinute,
	}, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})

	return g.Wait()
}

// buildSummarizer assembles the primary provider, an optional fallback, and
// the concurrency cap around both.
func buildSummarizer(ctx context.Context, cfg config.AIConfig, frames adapter.FrameExtractor, logger *zerolog.Logger) (adapter.Summarizer, error) {
	primary, err := newProvider(ctx, cfg.Provider, cfg.Model, cfg, frames, logger)
	if err != nil {
		return nil, fmt.Errorf("ai provider %s: %w", cfg.Provider, err)
	}
	chain := aiAdapters.NewFailoverSummarizer(logger).Add(cfg.Provider, primary)
	if cfg.FallbackProvider != "" {
		fb, err := newProvider(ctx, cfg.FallbackProvider, "", cfg, frames, logger)
		if err != nil {
			logger.Warn().Err(err).Str("provider", cfg.FallbackProvider).Msg("fallback summarizer unavailable")
		} else {
			chain.Add(cfg.FallbackProvider, fb)
		}
	}
	logger.Info().Str("provider", cfg.Provider).Str("fallback", cfg.FallbackProvider).Str("model", cfg.Model).Msg("summarizer configured")
	return aiAdapters.NewLimitedSummarizer(chain, cfg.ConcurrentLimit), nil
}

func newProvider(ctx context.Context, name, model string, cfg config.AIConfig, frames adapter.FrameExtractor, logger *zerolog.Logger) (adapter.Summarizer, error) {
	switch name {
	case "gemini":
		return aiAdapters.NewGeminiSummarizer(ctx, cfg.GeminiKey, cfg.GeminiURL, model, cfg.MaxOutputTokens, cfg.UploadTimeout, logger)
	case "openai":
		return aiAdapters.NewOpenAISummarizer(cfg.OpenAIKey, cfg.OpenAIBaseURL, model, cfg.MaxOutputTokens, cfg.KeyFrames, frames, logger)
	case "noop":
		return aiAdapters.NewNoopSummarizer(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
