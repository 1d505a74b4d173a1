package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
)

var _ repository.LiveSourceRepository = (*liveSourceRepo)(nil)

const liveSourceColumns = `id, playback_id, last_processed_epoch, status, created_at, updated_at`

type liveSourceRepo struct {
	pool *pgxpool.Pool
}

func NewLiveSourceRepo(pool *pgxpool.Pool) *liveSourceRepo {
	return &liveSourceRepo{pool: pool}
}

func (r *liveSourceRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.LiveSource, error) {
	q := `SELECT ` + liveSourceColumns + ` FROM live_sources WHERE status = 'active' ORDER BY id;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.LiveSource
	for rows.Next() {
		s, err := scanLiveSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *liveSourceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.LiveSource, error) {
	q := `SELECT ` + liveSourceColumns + ` FROM live_sources WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanLiveSource(row)
}

func (r *liveSourceRepo) Activate(ctx context.Context, tx repository.Tx, id, playbackID string, now time.Time) error {
	if id == "" || playbackID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO live_sources (id, playback_id, last_processed_epoch, status, created_at, updated_at)
VALUES ($1, $2, NULL, 'active', $3, $3)
ON CONFLICT (id) DO UPDATE SET
  playback_id = EXCLUDED.playback_id,
  last_processed_epoch = CASE WHEN live_sources.status = 'active'
    THEN live_sources.last_processed_epoch ELSE NULL END,
  status = 'active',
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q, id, playbackID, now)
	return err
}

func (r *liveSourceRepo) SetStatus(ctx context.Context, tx repository.Tx, id string, status model.LiveSourceStatus, now time.Time) error {
	const q = `UPDATE live_sources SET status = $2, updated_at = $3 WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(status), now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *liveSourceRepo) AdvanceWatermark(ctx context.Context, tx repository.Tx, id string, epoch int64, now time.Time) error {
	const q = `
UPDATE live_sources SET last_processed_epoch = $2, updated_at = $3
WHERE id = $1 AND (last_processed_epoch IS NULL OR last_processed_epoch < $2);`
	_, err := execSQL(ctx, r.pool, tx, q, id, epoch, now)
	return err
}

func scanLiveSource(row pgx.Row) (*model.LiveSource, error) {
	var (
		s      model.LiveSource
		status string
	)
	if err := row.Scan(&s.ID, &s.PlaybackID, &s.LastProcessedEpoch, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Status = model.LiveSourceStatus(status)
	return &s, nil
}
