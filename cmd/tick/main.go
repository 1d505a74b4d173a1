// File: cmd/tick/main.go
//
// tick runs a single live scheduler pass and exits. It is meant for an
// external scheduler (system cron, Kubernetes CronJob) in deployments that
// leave scheduler.live_tick_cron empty.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"video-analysis-pipeline/internal/config"
	"video-analysis-pipeline/internal/infra/db/store"
	"video-analysis-pipeline/internal/infra/logging"
	red "video-analysis-pipeline/internal/infra/redis"
	"video-analysis-pipeline/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "console logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.TickTimeout)
	defer cancel()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	s := usecase.NewLiveScheduler(st.Sources, st.Jobs, st.TM, logging.Component(logger, "LiveScheduler"))
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; ticking without the lock")
		} else {
			defer rc.Close()
			s.WithLock(red.NewLocker(rc), "lock:live_tick", cfg.Scheduler.LockTTL)
		}
	}

	rep, err := s.Tick(ctx, time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("tick failed")
		st.Close()
		os.Exit(1)
	}
	logger.Info().
		Bool("skipped", rep.Skipped).
		Int("sources", rep.Sources).
		Int("windows", rep.Windows).
		Int("inserted", rep.Inserted).
		Int("failures", len(rep.Failures)).
		Msg("tick complete")
	if len(rep.Failures) > 0 {
		st.Close()
		os.Exit(2)
	}
}
