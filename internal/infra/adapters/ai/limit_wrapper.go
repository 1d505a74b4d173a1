package ai

import (
	"context"

	"video-analysis-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Summarizer = (*limitedSummarizer)(nil)

type limitedSummarizer struct {
	inner adapter.Summarizer
	sem   chan struct{}
}

// NewLimitedSummarizer caps the number of in-flight multimodal calls across
// all workers of the process.
func NewLimitedSummarizer(inner adapter.Summarizer, maxConcurrent int) adapter.Summarizer {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedSummarizer{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedSummarizer) Summarize(ctx context.Context, req adapter.SummaryRequest) (*adapter.SegmentSummary, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Summarize(ctx, req)
}
