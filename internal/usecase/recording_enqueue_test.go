//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
	"video-analysis-pipeline/internal/usecase"
)

func fixedClock() func() time.Time {
	t := time.Unix(1_700_000_000, 0)
	return func() time.Time { return t }
}

func TestCompletionReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()
	rec := model.CompletedRecording{LiveSourceID: "s1", AssetID: "a1", PlaybackID: "pb-a1", Duration: 125}

	t.Run("enqueues full windows plus tail and idles the source", func(t *testing.T) {
		sources := NewMockLiveSourceRepo(activeSource("s1", ptr(baseEpoch)))
		jobs := NewMockJobRepo()
		r := usecase.NewCompletionReconciler(sources, jobs, &MockTxManager{}, newTestLogger()).WithClock(fixedClock())

		res, err := r.Reconcile(ctx, rec)
		if err != nil {
			t.Fatalf("expected no error, but got %v", err)
		}
		if res.Inserted != 3 {
			t.Fatalf("expected 3 inserted, got %+v", res)
		}
		want := [][2]int64{{0, 60}, {60, 120}, {120, 125}}
		for i, j := range jobs.All() {
			if j.KeySpace() != model.KeySpaceAsset {
				t.Errorf("job %d must be asset keyed", i)
			}
			if *j.AssetStartSeconds != want[i][0] || *j.AssetEndSeconds != want[i][1] {
				t.Errorf("job %d = [%d,%d), want %v", i, *j.AssetStartSeconds, *j.AssetEndSeconds, want[i])
			}
			if j.SourceType != model.SourceTypeLive || j.SourceID != "s1" || j.AssetID != "a1" || j.PlaybackID != "pb-a1" {
				t.Errorf("unexpected job identity %+v", j)
			}
		}
		if st := sources.Get("s1").Status; st != model.LiveSourceStatusIdle {
			t.Errorf("expected source idle, got %s", st)
		}
		if wm := sources.Get("s1").LastProcessedEpoch; wm == nil || *wm != baseEpoch {
			t.Errorf("reconciler must not move the watermark, got %v", wm)
		}
	})

	t.Run("redelivery enqueues nothing new", func(t *testing.T) {
		jobs := NewMockJobRepo()
		r := usecase.NewCompletionReconciler(NewMockLiveSourceRepo(activeSource("s1", nil)), jobs, &MockTxManager{}, newTestLogger())

		if _, err := r.Reconcile(ctx, rec); err != nil {
			t.Fatal(err)
		}
		res, err := r.Reconcile(ctx, rec)
		if err != nil {
			t.Fatal(err)
		}
		if res.Inserted != 0 || res.Duplicates != 3 {
			t.Fatalf("expected all duplicates, got %+v", res)
		}
	})

	t.Run("merges with live windows without aliasing", func(t *testing.T) {
		sources := NewMockLiveSourceRepo(activeSource("s1", ptr(baseEpoch)))
		jobs := NewMockJobRepo()
		s := usecase.NewLiveScheduler(sources, jobs, &MockTxManager{}, newTestLogger())
		if _, err := s.Tick(ctx, time.Unix(baseEpoch+120, 0)); err != nil {
			t.Fatal(err)
		}

		r := usecase.NewCompletionReconciler(sources, jobs, &MockTxManager{}, newTestLogger())
		res, err := r.Reconcile(ctx, rec)
		if err != nil {
			t.Fatal(err)
		}
		if res.Inserted != 3 || res.Rejected != 0 {
			t.Fatalf("expected asset windows alongside live windows, got %+v", res)
		}
		if n := len(jobs.All()); n != 5 {
			t.Errorf("expected 2 live + 3 asset jobs, got %d", n)
		}
	})

	t.Run("unknown source still enqueues", func(t *testing.T) {
		jobs := NewMockJobRepo()
		r := usecase.NewCompletionReconciler(NewMockLiveSourceRepo(), jobs, &MockTxManager{}, newTestLogger())

		res, err := r.Reconcile(ctx, rec)
		if err != nil || res.Inserted != 3 {
			t.Fatalf("expected 3 inserted, got %+v %v", res, err)
		}
	})

	t.Run("missing playback id is rejected", func(t *testing.T) {
		r := usecase.NewCompletionReconciler(NewMockLiveSourceRepo(), NewMockJobRepo(), &MockTxManager{}, newTestLogger())
		bad := rec
		bad.PlaybackID = ""
		if _, err := r.Reconcile(ctx, bad); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestVODEnqueuer_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("exact multiple has no tail", func(t *testing.T) {
		jobs := NewMockJobRepo()
		v := usecase.NewVODEnqueuer(jobs, newTestLogger()).WithClock(fixedClock())

		res, err := v.Enqueue(ctx, model.ReadyAsset{AssetID: "a1", PlaybackID: "pb", Duration: 120})
		if err != nil {
			t.Fatalf("expected no error, but got %v", err)
		}
		if res.Inserted != 2 {
			t.Fatalf("expected 2 windows, got %+v", res)
		}
		for _, j := range jobs.All() {
			if j.SourceType != model.SourceTypeVOD || j.SourceID != "a1" || j.AssetID != "a1" {
				t.Errorf("unexpected job identity %+v", j)
			}
			if !j.AvailableAt.Equal(fixedClock()()) {
				t.Errorf("expected job available immediately, got %v", j.AvailableAt)
			}
		}
	})

	t.Run("short asset yields a single tail window", func(t *testing.T) {
		jobs := NewMockJobRepo()
		v := usecase.NewVODEnqueuer(jobs, newTestLogger())

		res, err := v.Enqueue(ctx, model.ReadyAsset{AssetID: "a1", PlaybackID: "pb", Duration: 12.5})
		if err != nil || res.Inserted != 1 {
			t.Fatalf("expected 1 window, got %+v %v", res, err)
		}
		if j := jobs.All()[0]; *j.AssetEndSeconds != 13 {
			t.Errorf("expected tail to round up to 13, got %d", *j.AssetEndSeconds)
		}
	})

	t.Run("zero duration enqueues nothing", func(t *testing.T) {
		jobs := NewMockJobRepo()
		v := usecase.NewVODEnqueuer(jobs, newTestLogger())

		res, err := v.Enqueue(ctx, model.ReadyAsset{AssetID: "a1", PlaybackID: "pb", Duration: 0})
		if err != nil || res.Inserted != 0 || jobs.Calls != 0 {
			t.Fatalf("expected no enqueue, got %+v %v calls=%d", res, err, jobs.Calls)
		}
	})

	t.Run("store error is returned", func(t *testing.T) {
		jobs := NewMockJobRepo()
		jobs.EnqueueFunc = func(context.Context, repository.Tx, []*model.AnalysisJob) (repository.EnqueueResult, error) {
			return repository.EnqueueResult{}, errors.New("db down")
		}
		v := usecase.NewVODEnqueuer(jobs, newTestLogger())
		if _, err := v.Enqueue(ctx, model.ReadyAsset{AssetID: "a1", PlaybackID: "pb", Duration: 60}); err == nil {
			t.Fatal("expected error")
		}
	})
}
