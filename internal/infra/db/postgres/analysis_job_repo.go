package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

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
	pool *pgxpool.Pool
	tm   repository.TransactionManager
	now  func() time.Time
}

func NewAnalysisJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *analysisJobRepo {
	return &analysisJobRepo{pool: pool, tm: tm, now: time.Now}
}

// WithClock replaces the time source used for lease and audit columns.
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

	// The NOT EXISTS clause keeps an asset-keyed job from aliasing an
	// epoch-keyed one with identical bounds on the same source.
	const q = `
INSERT INTO analysis_jobs (id, source_type, source_id, asset_id, playback_id, start_epoch, end_epoch,
  asset_start_seconds, asset_end_seconds, status, attempts, last_error, available_at, created_at, updated_at)
SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::bigint, $7::bigint,
  $8::bigint, $9::bigint, $10::text, 0, '', $11::timestamptz, $12::timestamptz, $12::timestamptz
WHERE $8::bigint IS NULL OR NOT EXISTS (
  SELECT 1 FROM analysis_jobs e
  WHERE e.source_id = $3::text AND e.asset_start_seconds IS NULL
    AND e.start_epoch = $6::bigint AND e.end_epoch = $7::bigint)
ON CONFLICT DO NOTHING;`

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
		tag, err := execSQL(ctx, r.pool, tx, q,
			j.ID, string(j.SourceType), j.SourceID, j.AssetID, j.PlaybackID, j.StartEpoch, j.EndEpoch,
			j.AssetStartSeconds, j.AssetEndSeconds, string(model.JobStatusQueued), j.AvailableAt, j.CreatedAt)
		if err != nil {
			return res, fmt.Errorf("enqueue %s: %w", j.DedupKey(), err)
		}
		if tag.RowsAffected() == 1 {
			res.Inserted++
			continue
		}
		aliased, err := r.epochKeyTaken(ctx, tx, j)
		if err != nil {
			return res, err
		}
		if aliased {
			res.Rejected++
		} else {
			res.Duplicates++
		}
	}
	return res, nil
}

func (r *analysisJobRepo) epochKeyTaken(ctx context.Context, tx repository.Tx, j *model.AnalysisJob) (bool, error) {
	if j.KeySpace() != model.KeySpaceAsset {
		return false, nil
	}
	const q = `
SELECT EXISTS (
  SELECT 1 FROM analysis_jobs
  WHERE source_id = $1 AND asset_start_seconds IS NULL AND start_epoch = $2 AND end_epoch = $3);`
	row, err := pickRow(ctx, r.pool, tx, q, j.SourceID, j.StartEpoch, j.EndEpoch)
	if err != nil {
		return false, err
	}
	var taken bool
	if err := row.Scan(&taken); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return taken, nil
}

func (r *analysisJobRepo) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*model.AnalysisJob, error) {
	now := r.now()
	q := `
UPDATE analysis_jobs
SET status = 'processing', claim_token = $1, claimed_by = $2, lease_expires_at = $3, updated_at = $4
WHERE status = 'queued' AND id = (
  SELECT id FROM analysis_jobs
  WHERE status = 'queued' AND available_at <= $4
  ORDER BY available_at, created_at
  LIMIT 1
  FOR UPDATE SKIP LOCKED)
RETURNING ` + jobColumns + `;`

	row, err := pickRow(ctx, r.pool, nil, q, model.NewClaimToken(), workerID, now.Add(lease), now)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *analysisJobRepo) ExtendLease(ctx context.Context, jobID, claimToken string, lease time.Duration) error {
	now := r.now()
	const q = `
UPDATE analysis_jobs SET lease_expires_at = $3, updated_at = $4
WHERE id = $1 AND claim_token = $2 AND status = 'processing';`
	tag, err := execSQL(ctx, r.pool, nil, q, jobID, claimToken, now.Add(lease), now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
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
		const upd = `
UPDATE analysis_jobs
SET status = 'succeeded', attempts = attempts + 1, result_ref = $3, last_error = '',
    claim_token = '', claimed_by = '', lease_expires_at = NULL, updated_at = $4
WHERE id = $1 AND claim_token = $2 AND status = 'processing';`
		tag, err := execSQL(ctx, r.pool, tx, upd, jobID, claimToken, result.ID, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrLeaseLost
		}

		const ins = `
INSERT INTO analysis_results (id, job_id, summary, tags, entities, events, frame_detections, raw, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
		_, err = execSQL(ctx, r.pool, tx, ins,
			result.ID, jobID, result.Summary, cols.Tags, cols.Entities, cols.Events, cols.Frames, cols.Raw, result.CreatedAt)
		return err
	})
}

func (r *analysisJobRepo) MarkFailed(ctx context.Context, p model.FailParams) (model.JobStatus, error) {
	const q = `
UPDATE analysis_jobs
SET attempts = attempts + 1,
    status = CASE
      WHEN $3::boolean THEN 'failed'
      WHEN attempts + 1 < $4::int THEN 'queued'
      ELSE 'dead' END,
    last_error = $5, available_at = $6,
    claim_token = '', claimed_by = '', lease_expires_at = NULL, updated_at = $7
WHERE id = $1 AND claim_token = $2 AND status = 'processing'
RETURNING status;`
	row, err := pickRow(ctx, r.pool, nil, q, p.JobID, p.ClaimToken, p.Permanent, p.MaxAttempts, p.Error, p.RetryAt, r.now())
	if err != nil {
		return "", err
	}
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrLeaseLost
		}
		return "", domain.ErrReadDatabaseRow
	}
	return model.JobStatus(status), nil
}

func (r *analysisJobRepo) ReclaimExpired(ctx context.Context, now time.Time, maxAttempts, limit int) (int, error) {
	const q = `
UPDATE analysis_jobs
SET attempts = attempts + 1,
    status = CASE WHEN attempts + 1 < $2::int THEN 'queued' ELSE 'dead' END,
    last_error = 'lease expired while held by ' || claimed_by,
    claim_token = '', claimed_by = '', lease_expires_at = NULL,
    available_at = $1, updated_at = $1
WHERE status = 'processing' AND id IN (
  SELECT id FROM analysis_jobs
  WHERE status = 'processing' AND lease_expires_at < $1
  ORDER BY lease_expires_at
  LIMIT $3
  FOR UPDATE SKIP LOCKED);`
	tag, err := execSQL(ctx, r.pool, nil, q, now, maxAttempts, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *analysisJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.AnalysisJob, error) {
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *analysisJobRepo) FindResultByJobID(ctx context.Context, jobID string) (*model.AnalysisResult, error) {
	const q = `
SELECT id, job_id, summary, tags, entities, events, frame_detections, raw, created_at
FROM analysis_results WHERE job_id = $1;`
	row, err := pickRow(ctx, r.pool, nil, q, jobID)
	if err != nil {
		return nil, err
	}
	var (
		res  model.AnalysisResult
		cols db.ResultColumns
	)
	if err := row.Scan(&res.ID, &res.JobID, &res.Summary, &cols.Tags, &cols.Entities, &cols.Events,
		&cols.Frames, &cols.Raw, &res.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
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
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE source_id = $1 ORDER BY start_epoch, created_at LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, nil, q, sourceID, limit)
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
	rows, err := queryRows(ctx, r.pool, nil, `SELECT status, COUNT(*) FROM analysis_jobs GROUP BY status;`)
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

func scanJob(row pgx.Row) (*model.AnalysisJob, error) {
	var (
		j          model.AnalysisJob
		sourceType string
		status     string
		resultRef  *string
	)
	err := row.Scan(
		&j.ID, &sourceType, &j.SourceID, &j.AssetID, &j.PlaybackID, &j.StartEpoch, &j.EndEpoch,
		&j.AssetStartSeconds, &j.AssetEndSeconds, &status, &j.Attempts, &j.LastError, &resultRef,
		&j.ClaimToken, &j.ClaimedBy, &j.LeaseExpiresAt, &j.AvailableAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.SourceType = model.SourceType(sourceType)
	j.Status = model.JobStatus(status)
	if resultRef != nil {
		j.ResultRef = *resultRef
	}
	return &j, nil
}
