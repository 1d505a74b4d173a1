package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/adapter"
	"video-analysis-pipeline/internal/infra/metrics"
)

var _ adapter.Summarizer = (*GeminiSummarizer)(nil)

// geminiAPI is the slice of the genai client the summarizer needs.
type geminiAPI interface {
	Upload(ctx context.Context, path, mimeType string) (*genai.File, error)
	GetFile(ctx context.Context, name string) (*genai.File, error)
	DeleteFile(ctx context.Context, name string) error
	Generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type sdkGemini struct{ client *genai.Client }

func (s sdkGemini) Upload(ctx context.Context, path, mimeType string) (*genai.File, error) {
	return s.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
}

func (s sdkGemini) GetFile(ctx context.Context, name string) (*genai.File, error) {
	return s.client.Files.Get(ctx, name, nil)
}

func (s sdkGemini) DeleteFile(ctx context.Context, name string) error {
	_, err := s.client.Files.Delete(ctx, name, nil)
	return err
}

func (s sdkGemini) Generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return s.client.Models.GenerateContent(ctx, model, contents, cfg)
}

// GeminiSummarizer uploads the segment through the Files API and asks the
// model for a schema-constrained JSON summary of the whole video.
type GeminiSummarizer struct {
	api           geminiAPI
	model         string
	maxOut        int
	uploadTimeout time.Duration
	pollEvery     time.Duration
	log           *zerolog.Logger
}

func NewGeminiSummarizer(ctx context.Context, apiKey, baseURL, model string, maxOut int, uploadTimeout time.Duration, log *zerolog.Logger) (*GeminiSummarizer, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return newGeminiSummarizer(sdkGemini{client: c}, model, maxOut, uploadTimeout, log), nil
}

func newGeminiSummarizer(api geminiAPI, model string, maxOut int, uploadTimeout time.Duration, log *zerolog.Logger) *GeminiSummarizer {
	if uploadTimeout <= 0 {
		uploadTimeout = 2 * time.Minute
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	l := log.With().Str("component", "gemini_summarizer").Logger()
	return &GeminiSummarizer{
		api:           api,
		model:         model,
		maxOut:        maxOut,
		uploadTimeout: uploadTimeout,
		pollEvery:     2 * time.Second,
		log:           &l,
	}
}

func (g *GeminiSummarizer) Summarize(ctx context.Context, req adapter.SummaryRequest) (*adapter.SegmentSummary, error) {
	start := time.Now()
	file, err := g.api.Upload(ctx, req.VideoPath, "video/mp4")
	if err != nil {
		return nil, classify("gemini upload", err)
	}
	name := file.Name
	defer func() {
		// The caller's ctx may already be done; cleanup gets its own budget.
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := g.api.DeleteFile(dctx, name); err != nil {
			g.log.Warn().Err(err).Str("file", name).Msg("delete uploaded segment")
		}
	}()

	active, err := g.waitActive(ctx, file)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(active.URI, active.MIMEType),
			genai.NewPartFromText(promptFor(req.WindowSeconds)),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   genaiSchema(),
		Temperature:      genai.Ptr[float32](0.2),
	}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}

	resp, err := g.api.Generate(ctx, g.model, contents, cfg)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		metrics.ObserveAICall("gemini", g.model, 0, 0, latency, false)
		return nil, classify("gemini generate", err)
	}

	var in, out int
	if resp.UsageMetadata != nil {
		in = int(resp.UsageMetadata.PromptTokenCount)
		out = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	summary, err := ParseSummary(responseText(resp), req.WindowSeconds)
	metrics.ObserveAICall("gemini", g.model, in, out, latency, err == nil)
	if err != nil {
		return nil, err
	}
	g.log.Debug().Int("tokens_in", in).Int("tokens_out", out).Int64("latency_ms", latency).
		Int("events", len(summary.Events)).Msg("segment summarized")
	return summary, nil
}

// waitActive polls until the uploaded file has been processed.
func (g *GeminiSummarizer) waitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	ctx, cancel := context.WithTimeout(ctx, g.uploadTimeout)
	defer cancel()

	t := time.NewTicker(g.pollEvery)
	defer t.Stop()
	for {
		switch file.State {
		case genai.FileStateActive:
			return file, nil
		case genai.FileStateFailed:
			msg := "processing failed"
			if file.Error != nil && file.Error.Message != "" {
				msg = file.Error.Message
			}
			return nil, fmt.Errorf("gemini file %s: %s", file.Name, msg)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gemini file %s not active: %w", file.Name, ctx.Err())
		case <-t.C:
		}
		next, err := g.api.GetFile(ctx, file.Name)
		if err != nil {
			return nil, classify("gemini get file", err)
		}
		file = next
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	text := ""
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			text += p.Text
		}
	}
	return text
}

func genaiSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	num := &genai.Schema{Type: genai.TypeNumber}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": str,
			"tags": {
				Type:     genai.TypeArray,
				Items:    str,
				MaxItems: genai.Ptr[int64](model.MaxTags),
			},
			"entities": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"type":       str,
						"name":       str,
						"confidence": {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(1.0)},
					},
					Required: []string{"type", "name", "confidence"},
				},
			},
			"events": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":                    str,
						"description":             str,
						"severity":                {Type: genai.TypeString, Enum: enumStrings(model.Severities)},
						"type":                    {Type: genai.TypeString, Enum: enumStrings(model.EventTypes)},
						"timestamp_seconds":       num,
						"affected_entity_indices": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeInteger}},
					},
					Required: []string{"name", "description", "severity", "type", "timestamp_seconds"},
				},
			},
		},
		Required:         []string{"summary", "tags", "entities", "events"},
		PropertyOrdering: []string{"summary", "tags", "entities", "events"},
	}
}
