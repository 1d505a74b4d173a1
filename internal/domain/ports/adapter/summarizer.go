package adapter

import (
	"context"
	"encoding/json"

	"video-analysis-pipeline/internal/domain/model"
)

type SummaryRequest struct {
	VideoPath string
	// WindowSeconds is the segment length; event timestamps must fall inside it.
	WindowSeconds int64
}

// SegmentSummary is the structured object the multimodal model returns.
type SegmentSummary struct {
	Summary  string          `json:"summary"`
	Tags     []string        `json:"tags"`
	Entities []model.Entity  `json:"entities"`
	Events   []model.Event   `json:"events"`
	Raw      json.RawMessage `json:"-"`
}

// Summarizer is the port for the multimodal analysis provider.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (*SegmentSummary, error)
}
