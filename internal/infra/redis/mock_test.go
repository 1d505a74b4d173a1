//go:build !integration

package redis

import (
	"context"
	"sync"
	"time"
)

// memClient is an in-memory RedisClient good enough for counter and SetNX tests.
type memClient struct {
	mu      sync.Mutex
	data    map[string]string
	counts  map[string]int64
	expires map[string]time.Duration
}

var _ RedisClient = (*memClient)(nil)

func newMemClient() *memClient {
	return &memClient{data: map[string]string{}, counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (m *memClient) Ping(context.Context) error { return nil }
func (m *memClient) Set(_ context.Context, key string, value interface{}, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = "set"
	m.expires[key] = exp
	return nil
}
func (m *memClient) SetNX(_ context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = "set"
	m.expires[key] = exp
	return true, nil
}
func (m *memClient) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", Nil
	}
	return v, nil
}
func (m *memClient) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}
func (m *memClient) Expire(_ context.Context, key string, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = exp
	return nil
}
func (m *memClient) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		delete(m.counts, k)
	}
	return nil
}
func (m *memClient) Close() error { return nil }
