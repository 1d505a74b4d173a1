package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
)

var _ repository.LiveSourceRepository = (*liveSourceRepo)(nil)

const liveSourceColumns = `id, playback_id, last_processed_epoch, status, created_at, updated_at`

type liveSourceRepo struct {
	db *sql.DB
}

func NewLiveSourceRepo(conn *sql.DB) *liveSourceRepo {
	return &liveSourceRepo{db: conn}
}

func (r *liveSourceRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.LiveSource, error) {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, `SELECT `+liveSourceColumns+` FROM live_sources WHERE status = 'active' ORDER BY id`)
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
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return nil, err
	}
	return scanLiveSource(ex.QueryRowContext(ctx, `SELECT `+liveSourceColumns+` FROM live_sources WHERE id = ?1`, id))
}

func (r *liveSourceRepo) Activate(ctx context.Context, tx repository.Tx, id, playbackID string, now time.Time) error {
	if id == "" || playbackID == "" {
		return domain.ErrInvalidArgument
	}
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
INSERT INTO live_sources (id, playback_id, last_processed_epoch, status, created_at, updated_at)
VALUES (?1, ?2, NULL, 'active', ?3, ?3)
ON CONFLICT (id) DO UPDATE SET
  playback_id = excluded.playback_id,
  last_processed_epoch = CASE WHEN live_sources.status = 'active'
    THEN live_sources.last_processed_epoch ELSE NULL END,
  status = 'active',
  updated_at = excluded.updated_at`, id, playbackID, toMillis(now))
	return err
}

func (r *liveSourceRepo) SetStatus(ctx context.Context, tx repository.Tx, id string, status model.LiveSourceStatus, now time.Time) error {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	out, err := ex.ExecContext(ctx, `UPDATE live_sources SET status = ?2, updated_at = ?3 WHERE id = ?1`,
		id, string(status), toMillis(now))
	if err != nil {
		return err
	}
	n, err := affected(out)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *liveSourceRepo) AdvanceWatermark(ctx context.Context, tx repository.Tx, id string, epoch int64, now time.Time) error {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
UPDATE live_sources SET last_processed_epoch = ?2, updated_at = ?3
WHERE id = ?1 AND (last_processed_epoch IS NULL OR last_processed_epoch < ?2)`, id, epoch, toMillis(now))
	return err
}

func scanLiveSource(row rowScanner) (*model.LiveSource, error) {
	var (
		s                    model.LiveSource
		status               string
		watermark            sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&s.ID, &s.PlaybackID, &watermark, &status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if watermark.Valid {
		w := watermark.Int64
		s.LastProcessedEpoch = &w
	}
	s.Status = model.LiveSourceStatus(status)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}
