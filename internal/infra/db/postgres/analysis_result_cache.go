package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
	"video-analysis-pipeline/internal/infra/metrics"
	red "video-analysis-pipeline/internal/infra/redis"
)

var _ repository.AnalysisJobRepository = (*resultCacheDecorator)(nil)

// resultCacheDecorator serves FindResultByJobID from Redis. Results are
// written once with the job's success and never change afterwards, so
// entries only expire and are never invalidated.
type resultCacheDecorator struct {
	repository.AnalysisJobRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewResultCacheDecorator(inner repository.AnalysisJobRepository, cache red.RedisClient, ttl time.Duration) repository.AnalysisJobRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &resultCacheDecorator{AnalysisJobRepository: inner, cache: cache, ttl: ttl}
}

func resultKey(jobID string) string { return "analysis_result:" + jobID }

func (d *resultCacheDecorator) FindResultByJobID(ctx context.Context, jobID string) (*model.AnalysisResult, error) {
	key := resultKey(jobID)
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var res model.AnalysisResult
		if json.Unmarshal([]byte(val), &res) == nil {
			metrics.IncCacheRequest("analysis_result", "hit")
			return &res, nil
		}
	case !errors.Is(err, red.Nil):
		metrics.IncCacheRequest("analysis_result", "error")
	}

	metrics.IncCacheRequest("analysis_result", "miss")
	res, err := d.AnalysisJobRepository.FindResultByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(res); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return res, nil
}
