//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/adapter"
	"video-analysis-pipeline/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Repositories
// =============================

// ---- MockJobRepo: in-memory queue with the store's dedup rules ----

type MockJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]*model.AnalysisJob // by dedup key
	results map[string]*model.AnalysisResult

	EnqueueFunc func(ctx context.Context, tx repository.Tx, jobs []*model.AnalysisJob) (repository.EnqueueResult, error)
	Calls       int
}

var _ repository.AnalysisJobRepository = (*MockJobRepo)(nil)

func NewMockJobRepo() *MockJobRepo {
	return &MockJobRepo{jobs: map[string]*model.AnalysisJob{}, results: map[string]*model.AnalysisResult{}}
}

func epochKey(j *model.AnalysisJob) string {
	return fmt.Sprintf("%s/%s[%d,%d)", j.SourceID, model.KeySpaceEpoch, j.StartEpoch, j.EndEpoch)
}

func (m *MockJobRepo) Enqueue(ctx context.Context, tx repository.Tx, jobs []*model.AnalysisJob) (repository.EnqueueResult, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, tx, jobs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var res repository.EnqueueResult
	for _, j := range jobs {
		key := j.DedupKey()
		if _, ok := m.jobs[key]; ok {
			res.Duplicates++
			continue
		}
		if j.KeySpace() == model.KeySpaceAsset {
			if _, ok := m.jobs[epochKey(j)]; ok {
				res.Rejected++
				continue
			}
		}
		cp := *j
		m.jobs[key] = &cp
		res.Inserted++
	}
	return res, nil
}

// All returns stored jobs ordered by (source, start).
func (m *MockJobRepo) All() []*model.AnalysisJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.AnalysisJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].SourceID != out[b].SourceID {
			return out[a].SourceID < out[b].SourceID
		}
		return out[a].StartEpoch < out[b].StartEpoch
	})
	return out
}

func (m *MockJobRepo) Put(j *model.AnalysisJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.DedupKey()] = &cp
}

func (m *MockJobRepo) PutResult(r *model.AnalysisResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.JobID] = r
}

func (m *MockJobRepo) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*model.AnalysisJob, error) {
	return nil, domain.ErrNotFound
}

func (m *MockJobRepo) ExtendLease(ctx context.Context, jobID, claimToken string, lease time.Duration) error {
	return nil
}

func (m *MockJobRepo) MarkSucceeded(ctx context.Context, jobID, claimToken string, result *model.AnalysisResult) error {
	return nil
}

func (m *MockJobRepo) MarkFailed(ctx context.Context, p model.FailParams) (model.JobStatus, error) {
	return model.JobStatusQueued, nil
}

func (m *MockJobRepo) ReclaimExpired(ctx context.Context, now time.Time, maxAttempts, limit int) (int, error) {
	return 0, nil
}

func (m *MockJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockJobRepo) FindResultByJobID(ctx context.Context, jobID string) (*model.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (m *MockJobRepo) ListBySource(ctx context.Context, sourceID string, limit int) ([]*model.AnalysisJob, error) {
	var out []*model.AnalysisJob
	for _, j := range m.All() {
		if j.SourceID == sourceID && len(out) < limit {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *MockJobRepo) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	out := map[model.JobStatus]int{}
	for _, j := range m.All() {
		out[j.Status]++
	}
	return out, nil
}

// ---- MockLiveSourceRepo ----

type MockLiveSourceRepo struct {
	mu      sync.Mutex
	sources map[string]*model.LiveSource

	ListActiveErr       error
	AdvanceWatermarkErr map[string]error
}

var _ repository.LiveSourceRepository = (*MockLiveSourceRepo)(nil)

func NewMockLiveSourceRepo(sources ...*model.LiveSource) *MockLiveSourceRepo {
	m := &MockLiveSourceRepo{sources: map[string]*model.LiveSource{}, AdvanceWatermarkErr: map[string]error{}}
	for _, s := range sources {
		cp := *s
		m.sources[s.ID] = &cp
	}
	return m
}

func (m *MockLiveSourceRepo) Get(id string) *model.LiveSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *MockLiveSourceRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.LiveSource, error) {
	if m.ListActiveErr != nil {
		return nil, m.ListActiveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LiveSource
	for _, s := range m.sources {
		if s.Status == model.LiveSourceStatusActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *MockLiveSourceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.LiveSource, error) {
	if s := m.Get(id); s != nil {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockLiveSourceRepo) Activate(ctx context.Context, tx repository.Tx, id, playbackID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		m.sources[id] = &model.LiveSource{ID: id, PlaybackID: playbackID, Status: model.LiveSourceStatusActive, CreatedAt: now, UpdatedAt: now}
		return nil
	}
	if s.Status != model.LiveSourceStatusActive {
		s.LastProcessedEpoch = nil
	}
	s.PlaybackID, s.Status, s.UpdatedAt = playbackID, model.LiveSourceStatusActive, now
	return nil
}

func (m *MockLiveSourceRepo) SetStatus(ctx context.Context, tx repository.Tx, id string, status model.LiveSourceStatus, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status, s.UpdatedAt = status, now
	return nil
}

func (m *MockLiveSourceRepo) AdvanceWatermark(ctx context.Context, tx repository.Tx, id string, epoch int64, now time.Time) error {
	if err := m.AdvanceWatermarkErr[id]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return domain.ErrNotFound
	}
	if s.LastProcessedEpoch == nil || *s.LastProcessedEpoch < epoch {
		e := epoch
		s.LastProcessedEpoch = &e
	}
	return nil
}

// ---- MockTxManager ----

// MockTxManager runs fn inline. Rollback is not simulated; tests that need
// atomicity use the store tests.
type MockTxManager struct {
	Calls int
}

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.Calls++
	return fn(ctx, nil)
}

// =============================
// Coordination
// =============================

type MockLocker struct {
	TryLockErr error
	Unlocked   int
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.TryLockErr != nil {
		return "", m.TryLockErr
	}
	return "token", nil
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.Unlocked++
	return nil
}

type MockDeduper struct {
	mu     sync.Mutex
	seen   map[string]bool
	Err    error
	Forgot []string
}

func NewMockDeduper() *MockDeduper { return &MockDeduper{seen: map[string]bool{}} }

func (m *MockDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *MockDeduper) Forget(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	m.Forgot = append(m.Forgot, id)
	return nil
}

// =============================
// Adapters
// =============================

type MockVideoHost struct {
	mu       sync.Mutex
	Requests []adapter.SegmentRequest
	Closed   int
	Err      error
}

var _ adapter.VideoHost = (*MockVideoHost)(nil)

func (m *MockVideoHost) FetchSegment(ctx context.Context, req adapter.SegmentRequest) (*adapter.Segment, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return &adapter.Segment{Path: "/tmp/seg.mp4", Size: 1024, Close: func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Closed++
		return nil
	}}, nil
}

type MockFrameExtractor struct {
	Frames []adapter.Frame
	Err    error
	GotFPS float64
}

var _ adapter.FrameExtractor = (*MockFrameExtractor)(nil)

func (m *MockFrameExtractor) Extract(ctx context.Context, videoPath string, fps float64) ([]adapter.Frame, error) {
	m.GotFPS = fps
	return m.Frames, m.Err
}

type MockDetector struct {
	DetectFunc func(ctx context.Context, jpeg []byte) (*adapter.DetectionResponse, error)
}

var _ adapter.ObjectDetector = (*MockDetector)(nil)

func (m *MockDetector) Detect(ctx context.Context, jpeg []byte) (*adapter.DetectionResponse, error) {
	return m.DetectFunc(ctx, jpeg)
}

type MockSummarizer struct {
	SummarizeFunc func(ctx context.Context, req adapter.SummaryRequest) (*adapter.SegmentSummary, error)
}

var _ adapter.Summarizer = (*MockSummarizer)(nil)

func (m *MockSummarizer) Summarize(ctx context.Context, req adapter.SummaryRequest) (*adapter.SegmentSummary, error) {
	return m.SummarizeFunc(ctx, req)
}
