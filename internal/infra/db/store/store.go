// Package store opens the configured job store behind the repository ports.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/config"
	"video-analysis-pipeline/internal/domain/ports/repository"
	pg "video-analysis-pipeline/internal/infra/db/postgres"
	"video-analysis-pipeline/internal/infra/db/sqlite"
	red "video-analysis-pipeline/internal/infra/redis"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Store struct {
	Jobs    repository.AnalysisJobRepository
	Sources repository.LiveSourceRepository
	TM      repository.TransactionManager

	driver string
	pool   *pgxpool.Pool
	conn   *sql.DB
}

// Open connects to Postgres or opens (and migrates) the SQLite file.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := pg.NewPgxPool(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		tm := pg.NewTxManager(pool)
		return &Store{
			Jobs:    pg.NewAnalysisJobRepo(pool, tm),
			Sources: pg.NewLiveSourceRepo(pool),
			TM:      tm,
			driver:  DriverPostgres,
			pool:    pool,
		}, nil
	case DriverSQLite:
		conn, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		tm := sqlite.NewTxManager(conn)
		return &Store{
			Jobs:    sqlite.NewAnalysisJobRepo(conn, tm),
			Sources: sqlite.NewLiveSourceRepo(conn),
			TM:      tm,
			driver:  DriverSQLite,
			conn:    conn,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func (s *Store) Driver() string { return s.driver }

// WithResultCache serves result lookups through Redis.
func (s *Store) WithResultCache(cache red.RedisClient, ttl time.Duration) {
	s.Jobs = pg.NewResultCacheDecorator(s.Jobs, cache, ttl)
}

// Migrate applies the schema. SQLite carries its own; Postgres runs script.
func (s *Store) Migrate(ctx context.Context, postgresScript string) error {
	if s.pool != nil {
		return pg.ApplySchema(ctx, s.pool, postgresScript)
	}
	return sqlite.Migrate(ctx, s.conn)
}

// ReportPoolStats publishes connection pool gauges until ctx is done. It is
// a no-op for SQLite.
func (s *Store) ReportPoolStats(ctx context.Context, interval time.Duration, log *zerolog.Logger) {
	if s.pool != nil {
		pg.ReportPoolStats(ctx, s.pool, interval, log)
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	return s.conn.PingContext(ctx)
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
