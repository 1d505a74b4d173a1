//go:build !integration

package postgres

import (
	"context"
	"time"

	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
	red "video-analysis-pipeline/internal/infra/redis"
)

// mockInnerJobRepo mocks the database repository the result cache wraps.
// Only FindResultByJobID is exercised; the embedded interface panics on anything else.
type mockInnerJobRepo struct {
	repository.AnalysisJobRepository
	FindResultByJobIDFunc func(ctx context.Context, jobID string) (*model.AnalysisResult, error)
}

func (m *mockInnerJobRepo) FindResultByJobID(ctx context.Context, jobID string) (*model.AnalysisResult, error) {
	return m.FindResultByJobIDFunc(ctx, jobID)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error { return nil }
func (m *mockRedisClient) Ping(ctx context.Context) error                { return nil }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return 0, nil
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (m *mockRedisClient) Close() error { return nil }
