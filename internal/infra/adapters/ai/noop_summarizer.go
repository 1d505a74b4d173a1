package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Summarizer = (*NoopSummarizer)(nil)

// NoopSummarizer is for local runs without provider keys. It returns a
// placeholder summary so the detection stage can be exercised end to end.
type NoopSummarizer struct{}

func NewNoopSummarizer() *NoopSummarizer { return &NoopSummarizer{} }

func (NoopSummarizer) Summarize(ctx context.Context, req adapter.SummaryRequest) (*adapter.SegmentSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &adapter.SegmentSummary{
		Summary:  fmt.Sprintf("Summarization disabled; %ds segment not analyzed.", req.WindowSeconds),
		Tags:     []string{},
		Entities: []model.Entity{},
		Events:   []model.Event{},
		Raw:      json.RawMessage(`{"provider":"noop"}`),
	}, nil
}
