package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
	"video-analysis-pipeline/internal/infra/db"
)

var _ repository.AnalysisJobRepository = (*analysisJobRepo)(nil)

const jobColumns = `id, source_type, source_id, asset_id, playback_id, start_epoch, end_epoch,
asset_start_seconds, asset_end_seconds, status, attempts, last_error, result_ref,
claim_token, claimed_by, lease_expires_at, available_at, created_at, updated_at`

type analysisJobRepo struct {
	db  *sql.DB
	tm  repository.TransactionManager
	now func() time.Time
}

func NewAnalysisJobRepo(conn *sql.DB, tm repository.TransactionManager) *analysisJobRepo {
	return &analysisJobRepo{db: conn, tm: tm, now: time.Now}
}

func (r *analysisJobRepo) WithClock(now func() time.Time) *analysisJobRepo {
	r.now = now
	return r
}

func (r *analysisJobRepo) Enqueue(ctx context.Context, tx repository.Tx, jobs []*model.AnalysisJob) (repository.EnqueueResult, error) {
	var res repository.EnqueueResult
	if len(jobs) == 0 {
		return res, nil
	}
	if tx == nil {
		err := r.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			res, err = r.Enqueue(ctx, tx, jobs)
			return err
		})
		return res, err
	}
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return res, err
	}

	const aliasQ = `
SELECT EXISTS (
  SELECT 1 FROM analysis_jobs
  WHERE source_id = ?1 AND asset_start_seconds IS NULL AND start_epoch = ?2 AND end_epoch = ?3)`
	const insertQ = `
INSERT INTO analysis_jobs (id, source_type, source_id, asset_id, playback_id, start_epoch, end_epoch,
  asset_start_seconds, asset_end_seconds, status, attempts, last_error, available_at, created_at, updated_at)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, 'queued', 0, '', ?10, ?11, ?11)
ON CONFLICT DO NOTHING`

	for _, j := range jobs {
		if j.ID == "" {
			j.ID = model.NewJobID()
		}
		if j.CreatedAt.IsZero() {
			j.CreatedAt = r.now()
		}
		if j.AvailableAt.IsZero() {
			j.AvailableAt = j.CreatedAt
		}

		// Serialized connection: the check and the insert cannot interleave
		// with another writer.
		if j.KeySpace() == model.KeySpaceAsset {
			var taken bool
			if err := ex.QueryRowContext(ctx, aliasQ, j.SourceID, j.StartEpoch, j.EndEpoch).Scan(&taken); err != nil {
				return res, domain.ErrReadDatabaseRow
			}
			if taken {
				res.Rejected++
				continue
			}
		}

		out, err := ex.ExecContext(ctx, insertQ,
			j.ID, string(j.SourceType), j.SourceID, j.AssetID, j.PlaybackID, j.StartEpoch, j.EndEpoch,
			nullInt(j.AssetStartSeconds), nullInt(j.AssetEndSeconds), toMillis(j.AvailableAt), toMillis(j.CreatedAt))
		if err != nil {
			return res, fmt.Errorf("enqueue %s: %w", j.DedupKey(), err)
		}
		n, err := affected(out)
		if err != nil {
			return res, fmt.Errorf("enqueue %s: %w", j.DedupKey(), err)
		}
		if n == 1 {
			res.Inserted++
		} else {
			res.Duplicates++
		}
	}
	return res, nil
}

func (r *analysisJobRepo) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*model.AnalysisJob, error) {
	now := r.now()
	q := `
UPDATE analysis_jobs
SET status = 'processing', claim_token = ?1, claimed_by = ?2, lease_expires_at = ?3, updated_at = ?4
WHERE status = 'queued' AND id = (
  SELECT id FROM analysis_jobs
  WHERE status = 'queued' AND available_at <= ?4
  ORDER BY available_at, created_at
  LIMIT 1)
RETURNING ` + jobColumns
	row := r.db.QueryRowContext(ctx, q, model.NewClaimToken(), workerID, toMillis(now.Add(lease)), toMillis(now))
	return scanJob(row)
}

func (r *analysisJobRepo) ExtendLease(ctx context.Context, jobID, claimToken string, lease time.Duration) error {
	now := r.now()
	out, err := r.db.ExecContext(ctx, `
UPDATE analysis_jobs SET lease_expires_at = ?3, updated_at = ?4
WHERE id = ?1 AND claim_token = ?2 AND status = 'processing'`,
		jobID, claimToken, toMillis(now.Add(lease)), toMillis(now))
	if err != nil {
		return err
	}
	n, err := affected(out)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

func (r *analysisJobRepo) MarkSucceeded(ctx context.Context, jobID, claimToken string, result *model.AnalysisResult) error {
	if result == nil {
		return domain.ErrInvalidArgument
	}
	cols, err := db.EncodeResult(result)
	if err != nil {
		return err
	}
	now := r.now()
	return r.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(r.db, tx)
		if err != nil {
			return err
		}
		out, err := ex.ExecContext(ctx, `
UPDATE analysis_jobs
SET status = 'succeeded', attempts = attempts + 1, result_ref = ?3, last_error = '',
    claim_token = '', claimed_by = '', lease_expires_at = NULL, updated_at = ?4
WHERE id = ?1 AND claim_token = ?2 AND status = 'processing'`,
			jobID, claimToken, result.ID, toMillis(now))
		if err != nil {
			return err
		}
		n, err := affected(out)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrLeaseLost
		}

		_, err = ex.ExecContext(ctx, `
INSERT INTO analysis_results (id, job_id, summary, tags, entities, events, frame_detections, raw, created_at)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9)`,
			result.ID, jobID, result.Summary, string(cols.Tags), string(cols.Entities), string(cols.Events),
			string(cols.Frames), string(cols.Raw), toMillis(result.CreatedAt))
		return err
	})
}

func (r *analysisJobRepo) MarkFailed(ctx context.Context, p model.FailParams) (model.JobStatus, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `
UPDATE analysis_jobs
SET attempts = attempts + 1,
    status = CASE
      WHEN ?3 THEN 'failed'
      WHEN attempts + 1 < ?4 THEN 'queued'
      ELSE 'dead' END,
    last_error = ?5, available_at = ?6,
    claim_token = '', claimed_by = '', lease_expires_at = NULL, updated_at = ?7
WHERE id = ?1 AND claim_token = ?2 AND status = 'processing'
RETURNING status`,
		p.JobID, p.ClaimToken, p.Permanent, p.MaxAttempts, p.Error, toMillis(p.RetryAt), toMillis(r.now()),
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrLeaseLost
		}
		return "", err
	}
	return model.JobStatus(status), nil
}

func (r *analysisJobRepo) ReclaimExpired(ctx context.Context, now time.Time, maxAttempts, limit int) (int, error) {
	out, err := r.db.ExecContext(ctx, `
UPDATE analysis_jobs
SET attempts = attempts + 1,
    status = CASE WHEN attempts + 1 < ?2 THEN 'queued' ELSE 'dead' END,
    last_error = 'lease expired while held by ' || claimed_by,
    claim_token = '', claimed_by = '', lease_expires_at = NULL,
    available_at = ?1, updated_at = ?1
WHERE status = 'processing' AND id IN (
  SELECT id FROM analysis_jobs
  WHERE status = 'processing' AND lease_expires_at < ?1
  ORDER BY lease_expires_at
  LIMIT ?3)`, toMillis(now), maxAttempts, limit)
	if err != nil {
		return 0, err
	}
	n, err := affected(out)
	return int(n), err
}

func (r *analysisJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.AnalysisJob, error) {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return nil, err
	}
	return scanJob(ex.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = ?1`, id))
}

func (r *analysisJobRepo) FindResultByJobID(ctx context.Context, jobID string) (*model.AnalysisResult, error) {
	var (
		res                                 model.AnalysisResult
		tags, entities, events, frames, raw string
		createdAt                           int64
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, job_id, summary, tags, entities, events, frame_detections, raw, created_at
FROM analysis_results WHERE job_id = ?1`, jobID).
		Scan(&res.ID, &res.JobID, &res.Summary, &tags, &entities, &events, &frames, &raw, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	res.CreatedAt = fromMillis(createdAt)
	cols := db.ResultColumns{
		Tags: []byte(tags), Entities: []byte(entities), Events: []byte(events),
		Frames: []byte(frames), Raw: []byte(raw),
	}
	if err := cols.Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *analysisJobRepo) ListBySource(ctx context.Context, sourceID string, limit int) ([]*model.AnalysisJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE source_id = ?1 ORDER BY start_epoch, created_at LIMIT ?2`,
		sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AnalysisJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *analysisJobRepo) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM analysis_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.JobStatus]int, len(model.AllJobStatuses))
	for _, s := range model.AllJobStatuses {
		out[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.JobStatus(status)] = n
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*model.AnalysisJob, error) {
	var (
		j                      model.AnalysisJob
		sourceType, status     string
		assetStart, assetEnd   sql.NullInt64
		resultRef              sql.NullString
		leaseExpiresAt         sql.NullInt64
		availableAt, createdAt int64
		updatedAt              int64
	)
	err := row.Scan(
		&j.ID, &sourceType, &j.SourceID, &j.AssetID, &j.PlaybackID, &j.StartEpoch, &j.EndEpoch,
		&assetStart, &assetEnd, &status, &j.Attempts, &j.LastError, &resultRef,
		&j.ClaimToken, &j.ClaimedBy, &leaseExpiresAt, &availableAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.SourceType = model.SourceType(sourceType)
	j.Status = model.JobStatus(status)
	if assetStart.Valid && assetEnd.Valid {
		s, e := assetStart.Int64, assetEnd.Int64
		j.AssetStartSeconds, j.AssetEndSeconds = &s, &e
	}
	j.ResultRef = resultRef.String
	if leaseExpiresAt.Valid {
		t := fromMillis(leaseExpiresAt.Int64)
		j.LeaseExpiresAt = &t
	}
	j.AvailableAt = fromMillis(availableAt)
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	return &j, nil
}
