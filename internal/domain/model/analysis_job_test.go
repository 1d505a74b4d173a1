//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/window"
)

func TestNewLiveWindowJob(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("should build an epoch keyed queued job", func(t *testing.T) {
		job, err := NewLiveWindowJob("live-1", "pb-1", window.Window{Start: 100, End: 160}, now)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if job.ID == "" {
			t.Error("expected job ID to be non-empty")
		}
		if job.Status != JobStatusQueued {
			t.Errorf("expected status 'queued', got '%s'", job.Status)
		}
		if job.KeySpace() != KeySpaceEpoch {
			t.Errorf("expected epoch key space, got %s", job.KeySpace())
		}
		if job.AssetStartSeconds != nil || job.AssetEndSeconds != nil {
			t.Error("live jobs must not carry an asset key")
		}
		if job.Window() != (window.Window{Start: 100, End: 160}) {
			t.Errorf("unexpected window %v", job.Window())
		}
		if !job.AvailableAt.Equal(now) {
			t.Errorf("expected job to be available immediately")
		}
	})

	t.Run("should reject missing identifiers", func(t *testing.T) {
		_, err := NewLiveWindowJob("", "pb-1", window.Window{Start: 0, End: 60}, now)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should reject empty windows", func(t *testing.T) {
		_, err := NewLiveWindowJob("live-1", "pb-1", window.Window{Start: 60, End: 60}, now)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestNewAssetWindowJob(t *testing.T) {
	now := time.Now()
	job, err := NewAssetWindowJob(SourceTypeVOD, "asset-1", "asset-1", "pb-9", window.Window{Start: 120, End: 125}, now)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if job.KeySpace() != KeySpaceAsset {
		t.Fatalf("expected asset key space, got %s", job.KeySpace())
	}
	if *job.AssetStartSeconds != 120 || *job.AssetEndSeconds != 125 {
		t.Errorf("unexpected asset key [%d,%d)", *job.AssetStartSeconds, *job.AssetEndSeconds)
	}
	if job.StartEpoch != 120 || job.EndEpoch != 125 {
		t.Errorf("expected epoch columns to mirror asset-relative seconds, got [%d,%d)", job.StartEpoch, job.EndEpoch)
	}
	if job.DedupKey() != "asset-1/asset[120,125)" {
		t.Errorf("unexpected dedup key %q", job.DedupKey())
	}
}

func TestNextStatusAfterFailure(t *testing.T) {
	tests := []struct {
		attempts, max int
		permanent     bool
		want          JobStatus
	}{
		{1, 3, false, JobStatusQueued},
		{2, 3, false, JobStatusQueued},
		{3, 3, false, JobStatusDead},
		{4, 3, false, JobStatusDead},
		{1, 3, true, JobStatusFailed},
	}
	for _, tt := range tests {
		if got := NextStatusAfterFailure(tt.attempts, tt.max, tt.permanent); got != tt.want {
			t.Errorf("NextStatusAfterFailure(%d,%d,%v) = %s, want %s", tt.attempts, tt.max, tt.permanent, got, tt.want)
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for _, s := range AllJobStatuses {
		want := s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusDead
		if s.Terminal() != want {
			t.Errorf("status %s: Terminal() = %v", s, s.Terminal())
		}
	}
}

func TestEnumsValidate(t *testing.T) {
	if !SeverityHigh.Valid() || Severity("Critical").Valid() {
		t.Error("severity validation is wrong")
	}
	if !EventTypeTraffic.Valid() || EventType("traffic").Valid() {
		t.Error("event type validation must be exact")
	}
}
