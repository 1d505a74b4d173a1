// File: cmd/migrate/main.go
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
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	schemaPath := flag.String("schema", "deploy/postgres/init.sql", "Postgres schema script (ignored for sqlite)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var script []byte
	if cfg.Database.Driver == store.DriverPostgres {
		if script, err = os.ReadFile(*schemaPath); err != nil {
			logger.Fatal().Err(err).Str("path", *schemaPath).Msg("read schema")
		}
	}

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	if err := st.Migrate(ctx, string(script)); err != nil {
		logger.Error().Err(err).Msg("migrate")
		st.Close()
		os.Exit(1)
	}
	logger.Info().Str("driver", st.Driver()).Msg("schema applied")
}
