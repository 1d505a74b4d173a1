package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// setupTestDB opens a fresh database file under t.TempDir.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func setupJobRepo(t *testing.T) (*analysisJobRepo, *fakeClock) {
	t.Helper()
	conn := setupTestDB(t)
	clk := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	return NewAnalysisJobRepo(conn, NewTxManager(conn)).WithClock(clk.Now), clk
}

type countResult struct {
	n   int64
	err error
}

func (r countResult) LastInsertId() (int64, error) { return 0, nil }
func (r countResult) RowsAffected() (int64, error) { return r.n, r.err }

func TestAffected(t *testing.T) {
	if n, err := affected(countResult{n: 2}); err != nil || n != 2 {
		t.Fatalf("affected = %d, %v", n, err)
	}
	boom := errors.New("driver gone")
	if _, err := affected(countResult{n: 1, err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected driver error, got %v", err)
	}
}
