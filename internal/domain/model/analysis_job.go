package model

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/window"
)

type SourceType string

const (
	SourceTypeVOD  SourceType = "vod"
	SourceTypeLive SourceType = "live"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDead       JobStatus = "dead"
)

// AllJobStatuses lists statuses in lifecycle order; used for stats and gauges.
var AllJobStatuses = []JobStatus{
	JobStatusQueued, JobStatusProcessing, JobStatusSucceeded, JobStatusFailed, JobStatusDead,
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusDead
}

// KeySpace names which uniqueness key a job is deduplicated on.
type KeySpace string

const (
	// KeySpaceEpoch dedups on (source, startEpoch, endEpoch). Used by live ticks.
	KeySpaceEpoch KeySpace = "epoch"
	// KeySpaceAsset dedups on (source, assetStartSeconds, assetEndSeconds). Used for recordings.
	KeySpaceAsset KeySpace = "asset"
)

// AnalysisJob is one (source, window) unit of work.
//
// StartEpoch/EndEpoch are always set. For recordings they hold asset-relative
// seconds so every row has the same shape. AssetStartSeconds/AssetEndSeconds are
// set only for recording jobs and make the asset key space authoritative for them.
type AnalysisJob struct {
	ID         string
	SourceType SourceType
	SourceID   string
	AssetID    string
	PlaybackID string

	StartEpoch        int64
	EndEpoch          int64
	AssetStartSeconds *int64
	AssetEndSeconds   *int64

	Status    JobStatus
	Attempts  int
	LastError string
	ResultRef string

	ClaimToken     string
	ClaimedBy      string
	LeaseExpiresAt *time.Time
	AvailableAt    time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// KeySpace reports which uniqueness key applies to the job.
func (j *AnalysisJob) KeySpace() KeySpace {
	if j.AssetStartSeconds != nil && j.AssetEndSeconds != nil {
		return KeySpaceAsset
	}
	return KeySpaceEpoch
}

// Window returns the bounds the segment is fetched with, in the job's own key space.
func (j *AnalysisJob) Window() window.Window {
	if j.KeySpace() == KeySpaceAsset {
		return window.Window{Start: *j.AssetStartSeconds, End: *j.AssetEndSeconds}
	}
	return window.Window{Start: j.StartEpoch, End: j.EndEpoch}
}

// DedupKey is a human readable rendering of the uniqueness key, for logs.
func (j *AnalysisJob) DedupKey() string {
	return fmt.Sprintf("%s/%s%s", j.SourceID, j.KeySpace(), j.Window())
}

// NewLiveWindowJob builds an epoch-keyed job for a live source window.
func NewLiveWindowJob(sourceID, playbackID string, w window.Window, now time.Time) (*AnalysisJob, error) {
	if sourceID == "" || playbackID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if w.Length() <= 0 {
		return nil, fmt.Errorf("empty window %s: %w", w, domain.ErrInvalidArgument)
	}
	return &AnalysisJob{
		ID:          NewJobID(),
		SourceType:  SourceTypeLive,
		SourceID:    sourceID,
		PlaybackID:  playbackID,
		StartEpoch:  w.Start,
		EndEpoch:    w.End,
		Status:      JobStatusQueued,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewAssetWindowJob builds an asset-keyed job for a window of a recorded asset.
// The epoch columns mirror the asset-relative bounds.
func NewAssetWindowJob(sourceType SourceType, sourceID, assetID, playbackID string, w window.Window, now time.Time) (*AnalysisJob, error) {
	if sourceID == "" || playbackID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if w.Start < 0 || w.Length() <= 0 {
		return nil, fmt.Errorf("invalid asset window %s: %w", w, domain.ErrInvalidArgument)
	}
	start, end := w.Start, w.End
	return &AnalysisJob{
		ID:                NewJobID(),
		SourceType:        sourceType,
		SourceID:          sourceID,
		AssetID:           assetID,
		PlaybackID:        playbackID,
		StartEpoch:        start,
		EndEpoch:          end,
		AssetStartSeconds: &start,
		AssetEndSeconds:   &end,
		Status:            JobStatusQueued,
		AvailableAt:       now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// NewJobID returns a lexically sortable job identifier.
func NewJobID() string { return ulid.Make().String() }

// NewClaimToken returns a token identifying one claim of a job.
func NewClaimToken() string { return ulid.Make().String() }

// FailParams carries everything MarkFailed needs to decide the next status.
type FailParams struct {
	JobID       string
	ClaimToken  string
	Error       string
	MaxAttempts int
	RetryAt     time.Time
	Permanent   bool
}

// NextStatusAfterFailure returns the status a job moves to once its attempt
// counter has been incremented to attempts.
func NextStatusAfterFailure(attempts, maxAttempts int, permanent bool) JobStatus {
	switch {
	case permanent:
		return JobStatusFailed
	case attempts < maxAttempts:
		return JobStatusQueued
	default:
		return JobStatusDead
	}
}
