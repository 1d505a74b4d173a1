package adapter

import (
	"context"

	"video-analysis-pipeline/internal/domain/window"
)

// Addressing tells the video host how to interpret a segment's bounds.
type Addressing string

const (
	// AddressingEpoch bounds are Unix epoch seconds on a live stream's timeline.
	AddressingEpoch Addressing = "epoch"
	// AddressingAsset bounds are seconds relative to the start of an asset.
	AddressingAsset Addressing = "asset"
)

type SegmentRequest struct {
	PlaybackID string
	Window     window.Window
	Addressing Addressing
}

// Segment is a locally materialized video byte range. Callers must call Close.
type Segment struct {
	Path  string
	Size  int64
	Close func() error
}

// VideoHost fetches the bytes of one window from the external video host.
type VideoHost interface {
	FetchSegment(ctx context.Context, req SegmentRequest) (*Segment, error)
}
