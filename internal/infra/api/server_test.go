//go:build !integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
	"video-analysis-pipeline/internal/infra/adapters/videohost"
	"video-analysis-pipeline/internal/infra/api"
	"video-analysis-pipeline/internal/usecase"
)

//
// ---------------- use case fakes ----------------
//

type fakeLifecycle struct {
	events []*model.LifecycleEvent
	out    usecase.LifecycleOutcome
	err    error
}

func (f *fakeLifecycle) Handle(ctx context.Context, ev *model.LifecycleEvent) (usecase.LifecycleOutcome, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return "", f.err
	}
	if f.out == "" {
		return usecase.OutcomeApplied, nil
	}
	return f.out, nil
}

type fakeJobs struct {
	detail    *usecase.JobDetail
	list      []*model.AnalysisJob
	stats     map[model.JobStatus]int
	err       error
	lastLimit int
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*usecase.JobDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.detail == nil || f.detail.Job.ID != id {
		return nil, domain.ErrNotFound
	}
	return f.detail, nil
}

func (f *fakeJobs) ListBySource(ctx context.Context, sourceID string, limit int) ([]*model.AnalysisJob, error) {
	f.lastLimit = limit
	return f.list, f.err
}

func (f *fakeJobs) Stats(ctx context.Context) (map[model.JobStatus]int, error) {
	return f.stats, f.err
}

type tickFunc func(ctx context.Context, now time.Time) (usecase.TickReport, error)

func (f tickFunc) Tick(ctx context.Context, now time.Time) (usecase.TickReport, error) {
	return f(ctx, now)
}

type denyLimiter struct{ err error }

func (d denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, d.err
}

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func newServer(deps api.Deps, opts api.Options) http.Handler {
	if deps.Lifecycle == nil {
		deps.Lifecycle = &fakeLifecycle{}
	}
	if deps.Jobs == nil {
		deps.Jobs = &fakeJobs{}
	}
	if deps.Ticker == nil {
		deps.Ticker = tickFunc(func(context.Context, time.Time) (usecase.TickReport, error) {
			return usecase.TickReport{}, nil
		})
	}
	return api.NewServer(deps, opts, newLogger()).Routes()
}

func do(h http.Handler, method, path string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const activeEvent = `{"id":"evt-1","type":"video.live_stream.active","data":{"id":"ls-1","playback_ids":[{"id":"pb-1"}]}}`

//
// -------------------- tests --------------------
//

func TestWebhook(t *testing.T) {
	verifier := videohost.NewWebhookVerifier("secret", 5*time.Minute)
	signed := func(body string) map[string]string {
		return map[string]string{videohost.SignatureHeader: verifier.SignatureFor(time.Now(), []byte(body))}
	}

	t.Run("valid signature is handled", func(t *testing.T) {
		lc := &fakeLifecycle{}
		h := newServer(api.Deps{Lifecycle: lc, Verifier: verifier}, api.Options{})

		rec := do(h, http.MethodPost, "/webhooks/video-host", []byte(activeEvent), signed(activeEvent))
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
		if len(lc.events) != 1 || lc.events[0].SourceID != "ls-1" || lc.events[0].PlaybackID != "pb-1" {
			t.Fatalf("unexpected events %+v", lc.events)
		}
		var body struct {
			Outcome string `json:"outcome"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Outcome != "applied" {
			t.Errorf("unexpected outcome %q", body.Outcome)
		}
	})

	t.Run("bad signature is rejected before handling", func(t *testing.T) {
		lc := &fakeLifecycle{}
		h := newServer(api.Deps{Lifecycle: lc, Verifier: verifier}, api.Options{})

		rec := do(h, http.MethodPost, "/webhooks/video-host", []byte(activeEvent), map[string]string{videohost.SignatureHeader: "t=1,v1=00"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
		if len(lc.events) != 0 {
			t.Fatal("handler must not run for unsigned events")
		}
	})

	t.Run("unknown event type is acknowledged", func(t *testing.T) {
		body := `{"id":"evt-2","type":"video.upload.created","data":{}}`
		h := newServer(api.Deps{Verifier: verifier}, api.Options{})
		rec := do(h, http.MethodPost, "/webhooks/video-host", []byte(body), signed(body))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ignored") {
			t.Fatalf("want 200 ignored, got %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		h := newServer(api.Deps{}, api.Options{})
		rec := do(h, http.MethodPost, "/webhooks/video-host", []byte("not json"), nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("handling failure asks for redelivery", func(t *testing.T) {
		h := newServer(api.Deps{Lifecycle: &fakeLifecycle{err: errors.New("db down")}}, api.Options{})
		rec := do(h, http.MethodPost, "/webhooks/video-host", []byte(activeEvent), nil)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("want 500, got %d", rec.Code)
		}
	})

	t.Run("invalid event content is 422", func(t *testing.T) {
		lc := &fakeLifecycle{err: domain.ErrInvalidArgument}
		h := newServer(api.Deps{Lifecycle: lc}, api.Options{})
		rec := do(h, http.MethodPost, "/webhooks/video-host", []byte(activeEvent), nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("want 422, got %d", rec.Code)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		h := newServer(api.Deps{Limiter: denyLimiter{}}, api.Options{WebhookRatePerMinute: 10})
		rec := do(h, http.MethodPost, "/webhooks/video-host", []byte(activeEvent), nil)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("want 429, got %d", rec.Code)
		}
	})

	t.Run("limiter outage lets traffic through", func(t *testing.T) {
		h := newServer(api.Deps{Limiter: denyLimiter{err: errors.New("redis down")}}, api.Options{WebhookRatePerMinute: 10})
		rec := do(h, http.MethodPost, "/webhooks/video-host", []byte(activeEvent), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
	})
}

func TestTrigger(t *testing.T) {
	rep := usecase.TickReport{
		Sources:       2,
		Windows:       3,
		EnqueueResult: repository.EnqueueResult{Inserted: 2, Duplicates: 1},
		Failures:      []usecase.SourceError{{SourceID: "ls-9", Err: errors.New("boom")}},
	}
	var ticks int
	ticker := tickFunc(func(ctx context.Context, now time.Time) (usecase.TickReport, error) {
		ticks++
		return rep, nil
	})

	t.Run("requires token when configured", func(t *testing.T) {
		h := newServer(api.Deps{Ticker: ticker}, api.Options{TriggerToken: "s3cret"})
		if rec := do(h, http.MethodPost, "/internal/scheduler/tick", nil, nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
		if ticks != 0 {
			t.Fatal("tick ran without authorization")
		}

		rec := do(h, http.MethodPost, "/internal/scheduler/tick", nil, map[string]string{"Authorization": "Bearer s3cret"})
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var body struct {
			Windows  int      `json:"windows"`
			Inserted int      `json:"inserted"`
			Failed   []string `json:"failed_sources"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Windows != 3 || body.Inserted != 2 || len(body.Failed) != 1 || body.Failed[0] != "ls-9" {
			t.Errorf("unexpected report %+v", body)
		}
	})

	t.Run("tick error is 500", func(t *testing.T) {
		h := newServer(api.Deps{Ticker: tickFunc(func(context.Context, time.Time) (usecase.TickReport, error) {
			return usecase.TickReport{}, errors.New("db down")
		})}, api.Options{})
		if rec := do(h, http.MethodPost, "/internal/scheduler/tick", nil, nil); rec.Code != http.StatusInternalServerError {
			t.Fatalf("want 500, got %d", rec.Code)
		}
	})
}

func TestJobsAPI(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	job := &model.AnalysisJob{
		ID:         "job-1",
		SourceType: model.SourceTypeLive,
		SourceID:   "ls-1",
		PlaybackID: "pb-1",
		StartEpoch: 1_699_999_940,
		EndEpoch:   1_700_000_000,
		Status:     model.JobStatusSucceeded,
		Attempts:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	res := model.NewAnalysisResult("job-1", now)
	res.Summary = "two people talking"

	jobs := &fakeJobs{
		detail: &usecase.JobDetail{Job: job, Result: res},
		list:   []*model.AnalysisJob{job},
		stats:  map[model.JobStatus]int{model.JobStatusQueued: 4, model.JobStatusSucceeded: 1},
	}
	h := newServer(api.Deps{Jobs: jobs}, api.Options{})

	t.Run("get job with result", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/api/v1/jobs/job-1", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
		var body struct {
			Job struct {
				ID       string `json:"id"`
				Status   string `json:"status"`
				KeySpace string `json:"key_space"`
			} `json:"job"`
			Result *struct {
				Summary string `json:"summary"`
			} `json:"result"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Job.ID != "job-1" || body.Job.Status != "succeeded" || body.Job.KeySpace != "epoch" {
			t.Errorf("unexpected job %+v", body.Job)
		}
		if body.Result == nil || body.Result.Summary != "two people talking" {
			t.Errorf("unexpected result %+v", body.Result)
		}
	})

	t.Run("missing job is 404", func(t *testing.T) {
		if rec := do(h, http.MethodGet, "/api/v1/jobs/nope", nil, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("want 404, got %d", rec.Code)
		}
	})

	t.Run("stats", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/api/v1/jobs/stats", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var body map[string]int
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["queued"] != 4 || body["succeeded"] != 1 {
			t.Errorf("unexpected stats %v", body)
		}
	})

	t.Run("list by source passes limit", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/api/v1/sources/ls-1/jobs?limit=5", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		if jobs.lastLimit != 5 {
			t.Errorf("limit = %d, want 5", jobs.lastLimit)
		}
		if !strings.Contains(rec.Body.String(), `"items"`) {
			t.Errorf("unexpected body %s", rec.Body.String())
		}
	})

	t.Run("oversized limit is capped", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/api/v1/sources/ls-1/jobs?limit=1000000", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if jobs.lastLimit != 1000 {
			t.Errorf("limit = %d, want 1000", jobs.lastLimit)
		}
	})

	t.Run("bad limit is 400", func(t *testing.T) {
		if rec := do(h, http.MethodGet, "/api/v1/sources/ls-1/jobs?limit=abc", nil, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})
}

func TestHealthAndTraceID(t *testing.T) {
	h := newServer(api.Deps{Ping: func(context.Context) error { return nil }}, api.Options{})
	rec := do(h, http.MethodGet, "/health", nil, map[string]string{"X-Request-ID": "req-42"})
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("trace id not echoed: %q", rec.Header().Get("X-Request-ID"))
	}

	down := newServer(api.Deps{Ping: func(context.Context) error { return errors.New("db down") }}, api.Options{})
	if rec := do(down, http.MethodGet, "/health", nil, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Code)
	}
}
