//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/window"
	"video-analysis-pipeline/internal/usecase"
)

func TestJobQueryUseCase(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	jobs := NewMockJobRepo()
	done, _ := model.NewLiveWindowJob("s1", "pb", window.Window{Start: 0, End: 60}, now)
	done.Status = model.JobStatusSucceeded
	jobs.Put(done)
	jobs.PutResult(&model.AnalysisResult{ID: "r1", JobID: done.ID, Summary: "ok"})
	queued, _ := model.NewLiveWindowJob("s1", "pb", window.Window{Start: 60, End: 120}, now)
	jobs.Put(queued)

	uc := usecase.NewJobQueryUseCase(jobs, newTestLogger())

	t.Run("succeeded job carries its result", func(t *testing.T) {
		d, err := uc.Get(ctx, done.ID)
		if err != nil {
			t.Fatal(err)
		}
		if d.Result == nil || d.Result.Summary != "ok" {
			t.Errorf("expected result, got %+v", d.Result)
		}
	})

	t.Run("queued job has no result", func(t *testing.T) {
		d, err := uc.Get(ctx, queued.ID)
		if err != nil || d.Result != nil {
			t.Fatalf("unexpected %+v %v", d, err)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		if _, err := uc.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("stats include every status", func(t *testing.T) {
		stats, err := uc.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(stats) != len(model.AllJobStatuses) {
			t.Errorf("expected %d statuses, got %v", len(model.AllJobStatuses), stats)
		}
		if stats[model.JobStatusQueued] != 1 || stats[model.JobStatusSucceeded] != 1 || stats[model.JobStatusDead] != 0 {
			t.Errorf("unexpected stats %v", stats)
		}
	})

	t.Run("list by source defaults the limit", func(t *testing.T) {
		list, err := uc.ListBySource(ctx, "s1", 0)
		if err != nil || len(list) != 2 {
			t.Fatalf("expected 2 jobs, got %d %v", len(list), err)
		}
	})
}
