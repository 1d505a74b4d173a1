package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/ports/adapter"
	"video-analysis-pipeline/internal/infra/metrics"
)

var _ adapter.Summarizer = (*OpenAISummarizer)(nil)

// imageTokens is what one low-detail image costs in prompt tokens.
const imageTokens = 85

// OpenAISummarizer summarizes a segment from evenly spaced keyframes, since
// chat completions take images rather than video.
type OpenAISummarizer struct {
	client    openai.Client
	model     string
	maxOut    int
	keyFrames int
	frames    adapter.FrameExtractor
	countText func(string) int
	log       *zerolog.Logger
}

func NewOpenAISummarizer(apiKey, baseURL, model string, maxOut, keyFrames int, frames adapter.FrameExtractor, log *zerolog.Logger) (*OpenAISummarizer, error) {
	if apiKey == "" {
		return nil, errors.New("openai: empty api key")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if keyFrames <= 0 {
		keyFrames = 8
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	l := log.With().Str("component", "openai_summarizer").Logger()
	return &OpenAISummarizer{
		client:    openai.NewClient(opts...),
		model:     model,
		maxOut:    maxOut,
		keyFrames: keyFrames,
		frames:    frames,
		countText: tiktokenCounter(model),
		log:       &l,
	}, nil
}

func (o *OpenAISummarizer) Summarize(ctx context.Context, req adapter.SummaryRequest) (*adapter.SegmentSummary, error) {
	window := req.WindowSeconds
	if window <= 0 {
		return nil, fmt.Errorf("openai: window %d: %w", window, domain.ErrInvalidArgument)
	}
	// Sample a little above the target so short tails still yield frames.
	fps := math.Max(float64(o.keyFrames)/float64(window), 0.1)
	frames, err := o.frames.Extract(ctx, req.VideoPath, fps)
	if err != nil {
		return nil, fmt.Errorf("openai keyframes: %w", err)
	}
	frames = pickEvenly(frames, o.keyFrames)
	if len(frames) == 0 {
		return nil, domain.ErrNoFrames
	}

	prompt := promptFor(window)
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(prompt)}
	for _, f := range frames {
		parts = append(parts, openai.TextContentPart(fmt.Sprintf("Frame at %.1fs:", f.Offset)))
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f.JPEG),
			Detail: "low",
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "segment_analysis",
					Schema: jsonSchema(),
					Strict: openai.Bool(true),
				},
			},
		},
		Temperature: openai.Float(0.2),
	}
	if o.maxOut > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxOut))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		metrics.ObserveAICall("openai", o.model, 0, 0, latency, false)
		return nil, classify("openai", err)
	}

	in, out := int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens)
	if in == 0 {
		in = o.countText(prompt) + imageTokens*len(frames)
	}
	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	summary, err := ParseSummary(content, window)
	metrics.ObserveAICall("openai", o.model, in, out, latency, err == nil)
	if err != nil {
		return nil, err
	}
	o.log.Debug().Int("frames", len(frames)).Int("tokens_in", in).Int("tokens_out", out).
		Int64("latency_ms", latency).Msg("segment summarized")
	return summary, nil
}

// pickEvenly keeps at most n frames spread across the input.
func pickEvenly(frames []adapter.Frame, n int) []adapter.Frame {
	if n <= 0 || len(frames) <= n {
		return frames
	}
	out := make([]adapter.Frame, 0, n)
	step := float64(len(frames)) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, frames[int(float64(i)*step)])
	}
	return out
}

// tiktokenCounter returns a prompt token counter for model. The encoding is
// loaded on first use; if it cannot be loaded the count falls back to a
// four-characters-per-token estimate.
func tiktokenCounter(model string) func(string) int {
	var (
		once sync.Once
		enc  *tiktoken.Tiktoken
	)
	return func(text string) int {
		once.Do(func() {
			e, err := tiktoken.EncodingForModel(model)
			if err != nil {
				e, err = tiktoken.GetEncoding("cl100k_base")
			}
			if err == nil {
				enc = e
			}
		})
		if enc == nil {
			return len(strings.TrimSpace(text))/4 + 1
		}
		return len(enc.Encode(text, nil, nil))
	}
}
