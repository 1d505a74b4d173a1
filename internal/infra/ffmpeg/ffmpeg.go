// Package ffmpeg shells out to the ffmpeg binary for segment remuxing and
// frame sampling.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/ports/adapter"
)

// maxStderr bounds how much ffmpeg output is carried into an error.
const maxStderr = 512

type Runner struct {
	path    string
	tempDir string
	log     *zerolog.Logger
}

var _ adapter.FrameExtractor = (*Runner)(nil)

// New resolves the ffmpeg binary and prepares the scratch directory.
func New(path, tempDir string, log *zerolog.Logger) (*Runner, error) {
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "video-analysis")
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	if log == nil {
		l := zerolog.Nop()
		log = &l
	}
	return &Runner{path: resolved, tempDir: tempDir, log: log}, nil
}

func (r *Runner) TempDir() string { return r.tempDir }

// Remux copies the streams of input (a local file or HLS URL) into an MP4 at out.
func (r *Runner) Remux(ctx context.Context, input, out string) error {
	return r.run(ctx,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-movflags", "+faststart",
		out,
	)
}

// Extract samples JPEG frames at fps. Frame i sits at offset i/fps.
func (r *Runner) Extract(ctx context.Context, videoPath string, fps float64) ([]adapter.Frame, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("%w: fps must be positive", domain.ErrInvalidArgument)
	}
	dir, err := os.MkdirTemp(r.tempDir, "frames-*")
	if err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	rate := strconv.FormatFloat(fps, 'f', -1, 64)
	err = r.run(ctx,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", videoPath,
		"-vf", "fps="+rate,
		"-q:v", "3",
		filepath.Join(dir, "frame_%05d.jpg"),
	)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	frames := make([]adapter.Frame, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", e.Name(), err)
		}
		idx := len(frames)
		frames = append(frames, adapter.Frame{
			Index:  idx,
			Offset: float64(idx) / fps,
			JPEG:   b,
		})
	}
	if len(frames) == 0 {
		return nil, domain.ErrNoFrames
	}
	r.log.Debug().Str("video", videoPath).Int("frames", len(frames)).Float64("fps", fps).Msg("frames extracted")
	return frames, nil
}

func (r *Runner) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, r.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return nil
}
