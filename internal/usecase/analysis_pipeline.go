package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"math"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/adapter"
	"video-analysis-pipeline/internal/infra/metrics"
)

type Stage string

const (
	StageFetch     Stage = "fetch"
	StageDetect    Stage = "detect"
	StageSummarize Stage = "summarize"
)

// StageError names the pipeline stage an error came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Outcome is either a merged Result or a Failure; never both. Nothing is
// persisted by the pipeline itself.
type Outcome struct {
	Result  *model.AnalysisResult
	Failure *StageError
}

func (o Outcome) Succeeded() bool { return o.Failure == nil && o.Result != nil }

type PipelineOptions struct {
	FrameFPS            float64
	ConfidenceThreshold float64
	DetectConcurrency   int
}

type AnalysisPipeline struct {
	host       adapter.VideoHost
	frames     adapter.FrameExtractor
	detector   adapter.ObjectDetector
	summarizer adapter.Summarizer
	opts       PipelineOptions
	now        func() time.Time
	log        *zerolog.Logger
}

func NewAnalysisPipeline(host adapter.VideoHost, frames adapter.FrameExtractor, detector adapter.ObjectDetector, summarizer adapter.Summarizer, opts PipelineOptions, logger *zerolog.Logger) *AnalysisPipeline {
	if opts.FrameFPS <= 0 {
		opts.FrameFPS = 8
	}
	if opts.DetectConcurrency <= 0 {
		opts.DetectConcurrency = 4
	}
	return &AnalysisPipeline{
		host:       host,
		frames:     frames,
		detector:   detector,
		summarizer: summarizer,
		opts:       opts,
		now:        time.Now,
		log:        logger,
	}
}

func (p *AnalysisPipeline) WithClock(now func() time.Time) *AnalysisPipeline {
	p.now = now
	return p
}

func fail(stage Stage, err error) Outcome {
	return Outcome{Failure: &StageError{Stage: stage, Err: err}}
}

// recoverStage turns a panic inside a stage goroutine into that stage's
// error so it fails the job instead of the process.
func (p *AnalysisPipeline) recoverStage(stage Stage, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	p.log.Error().
		Str("stage", string(stage)).
		Interface("panic", r).
		Str("stack", string(debug.Stack())).
		Msg("stage panicked")
	*errp = &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
}

// Run analyzes the job's segment: fetch, then detection and summarization
// concurrently, then merge.
func (p *AnalysisPipeline) Run(ctx context.Context, job *model.AnalysisJob) Outcome {
	w := job.Window()
	req := adapter.SegmentRequest{PlaybackID: job.PlaybackID, Window: w, Addressing: adapter.AddressingAsset}
	if job.KeySpace() == model.KeySpaceEpoch {
		req.Addressing = adapter.AddressingEpoch
	}

	start := time.Now()
	seg, err := p.host.FetchSegment(ctx, req)
	metrics.ObserveStage(string(StageFetch), time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return fail(StageFetch, err)
	}
	defer func() {
		if err := seg.Close(); err != nil {
			p.log.Warn().Err(err).Str("path", seg.Path).Msg("remove segment file")
		}
	}()

	var (
		detections []model.FrameDetections
		detectRaw  json.RawMessage
		summary    *adapter.SegmentSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer p.recoverStage(StageDetect, &err)
		t := time.Now()
		detections, detectRaw, err = p.detect(gctx, seg.Path, w.Length())
		metrics.ObserveStage(string(StageDetect), time.Since(t).Milliseconds(), err == nil)
		if err != nil {
			return &StageError{Stage: StageDetect, Err: err}
		}
		return nil
	})
	g.Go(func() (err error) {
		defer p.recoverStage(StageSummarize, &err)
		t := time.Now()
		summary, err = p.summarizer.Summarize(gctx, adapter.SummaryRequest{VideoPath: seg.Path, WindowSeconds: w.Length()})
		metrics.ObserveStage(string(StageSummarize), time.Since(t).Milliseconds(), err == nil)
		if err != nil {
			return &StageError{Stage: StageSummarize, Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return Outcome{Failure: se}
		}
		return fail(StageDetect, err)
	}

	res := model.NewAnalysisResult(job.ID, p.now())
	res.Summary = summary.Summary
	if summary.Tags != nil {
		res.Tags = summary.Tags
	}
	if summary.Entities != nil {
		res.Entities = summary.Entities
	}
	if summary.Events != nil {
		res.Events = summary.Events
	}
	res.FrameDetections = detections
	if len(summary.Raw) > 0 {
		res.Raw[string(StageSummarize)] = summary.Raw
	}
	if len(detectRaw) > 0 {
		res.Raw[string(StageDetect)] = detectRaw
	}
	return Outcome{Result: res}
}

// detect samples frames and runs the detector on each with bounded
// parallelism. Frame order is preserved.
func (p *AnalysisPipeline) detect(ctx context.Context, videoPath string, windowLen int64) ([]model.FrameDetections, json.RawMessage, error) {
	frames, err := p.frames.Extract(ctx, videoPath, p.opts.FrameFPS)
	if err != nil {
		return nil, nil, err
	}

	out := make([]model.FrameDetections, len(frames))
	raws := make([]json.RawMessage, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.DetectConcurrency)
	for i, f := range frames {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("frame %d: panic: %v", f.Index, r)
				}
			}()
			resp, err := p.detector.Detect(gctx, f.JPEG)
			if err != nil {
				return fmt.Errorf("frame %d: %w", f.Index, err)
			}
			out[i] = model.FrameDetections{
				FrameTimestamp: clampOffset(f.Offset, windowLen),
				FrameIndex:     f.Index,
				Detections:     p.filter(resp, f.JPEG),
			}
			raws[i] = resp.Raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	raw, err := json.Marshal(raws)
	if err != nil {
		return nil, nil, fmt.Errorf("encode detector payloads: %w", err)
	}
	return out, raw, nil
}

// filter drops low-confidence predictions and normalizes the rest.
func (p *AnalysisPipeline) filter(resp *adapter.DetectionResponse, frame []byte) []model.Detection {
	imgW, imgH := resp.ImageWidth, resp.ImageHeight
	if imgW <= 0 || imgH <= 0 {
		if cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame)); err == nil {
			imgW, imgH = float64(cfg.Width), float64(cfg.Height)
		}
	}

	dets := make([]model.Detection, 0, len(resp.Predictions))
	for _, pr := range resp.Predictions {
		if pr.Confidence < p.opts.ConfidenceThreshold {
			continue
		}
		box, ok := model.NormalizeCenterBox(pr.X, pr.Y, pr.Width, pr.Height, imgW, imgH)
		if !ok {
			p.log.Debug().Str("class", pr.Class).Msg("dropping prediction: unknown frame size")
			continue
		}
		dets = append(dets, model.Detection{Class: pr.Class, Confidence: pr.Confidence, BBox: box})
	}
	return dets
}

// clampOffset keeps a frame timestamp inside [0, windowLen).
func clampOffset(offset float64, windowLen int64) float64 {
	if offset < 0 || math.IsNaN(offset) {
		return 0
	}
	if limit := float64(windowLen); offset >= limit {
		return math.Nextafter(limit, 0)
	}
	return offset
}
