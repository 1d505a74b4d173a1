package model

import "time"

type LifecycleEventType string

const (
	EventLiveStreamActive         LifecycleEventType = "video.live_stream.active"
	EventLiveStreamIdle           LifecycleEventType = "video.live_stream.idle"
	EventLiveStreamDisabled       LifecycleEventType = "video.live_stream.disabled"
	EventAssetReady               LifecycleEventType = "video.asset.ready"
	EventAssetLiveStreamCompleted LifecycleEventType = "video.asset.live_stream_completed"
)

// LifecycleEvent is a video-host notification reduced to the fields the
// pipeline acts on. For live-stream events SourceID is the stream id; for
// asset events AssetID is set and SourceID carries the originating stream, if any.
type LifecycleEvent struct {
	ID         string
	Type       LifecycleEventType
	SourceID   string
	AssetID    string
	PlaybackID string
	Duration   float64
	OccurredAt time.Time
}

// CompletedRecording is the asset a live stream left behind when it ended.
type CompletedRecording struct {
	LiveSourceID string
	AssetID      string
	PlaybackID   string
	Duration     float64
}

// ReadyAsset is an uploaded asset that finished processing.
type ReadyAsset struct {
	AssetID    string
	PlaybackID string
	Duration   float64
}
