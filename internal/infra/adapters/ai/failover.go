package ai

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Summarizer = (*FailoverSummarizer)(nil)

// FailoverSummarizer tries providers in order. A schema violation or a
// transient error moves on to the next provider; a permanent error or a
// cancelled context stops the chain.
type FailoverSummarizer struct {
	names     []string
	providers []adapter.Summarizer
	log       *zerolog.Logger
}

func NewFailoverSummarizer(log *zerolog.Logger) *FailoverSummarizer {
	l := log.With().Str("component", "summarizer_failover").Logger()
	return &FailoverSummarizer{log: &l}
}

// Add appends a provider to the chain; nil providers are skipped.
func (f *FailoverSummarizer) Add(name string, s adapter.Summarizer) *FailoverSummarizer {
	if s != nil {
		f.names = append(f.names, name)
		f.providers = append(f.providers, s)
	}
	return f
}

func (f *FailoverSummarizer) Len() int { return len(f.providers) }

func (f *FailoverSummarizer) Summarize(ctx context.Context, req adapter.SummaryRequest) (*adapter.SegmentSummary, error) {
	if len(f.providers) == 0 {
		return nil, errors.New("no summarization provider configured")
	}
	var lastErr error
	for i, p := range f.providers {
		out, err := p.Summarize(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrPermanent) || ctx.Err() != nil {
			return nil, err
		}
		if i < len(f.providers)-1 {
			f.log.Warn().Err(err).Str("provider", f.names[i]).Str("next", f.names[i+1]).Msg("summarizer failed, trying next provider")
		}
	}
	return nil, lastErr
}
