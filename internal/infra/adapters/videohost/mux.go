// Package videohost talks to a Mux-style video host: clipped HLS playback for
// segment fetches and signed lifecycle webhooks.
package videohost

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/ports/adapter"
)

// Remuxer turns a playable input into a local MP4.
type Remuxer interface {
	Remux(ctx context.Context, input, out string) error
}

type MuxHost struct {
	baseURL string
	signer  *Signer
	remux   Remuxer
	tempDir string
	log     *zerolog.Logger
}

var _ adapter.VideoHost = (*MuxHost)(nil)

// NewMuxHost builds the fetcher. signer may be nil for public playback ids.
func NewMuxHost(baseURL string, signer *Signer, remux Remuxer, tempDir string, log *zerolog.Logger) *MuxHost {
	if log == nil {
		l := zerolog.Nop()
		log = &l
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &MuxHost{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		remux:   remux,
		tempDir: tempDir,
		log:     log,
	}
}

// clipParams returns the playback modifiers that clip the manifest to the window.
func clipParams(req adapter.SegmentRequest) (map[string]any, error) {
	start, end := req.Window.Start, req.Window.End
	switch req.Addressing {
	case adapter.AddressingEpoch:
		return map[string]any{"program_start_time": start, "program_end_time": end}, nil
	case adapter.AddressingAsset:
		return map[string]any{"asset_start_time": start, "asset_end_time": end}, nil
	default:
		return nil, fmt.Errorf("%w: addressing %q", domain.ErrInvalidArgument, req.Addressing)
	}
}

// ManifestURL returns the clipped HLS manifest for the request.
func (h *MuxHost) ManifestURL(req adapter.SegmentRequest) (string, error) {
	if req.PlaybackID == "" {
		return "", fmt.Errorf("%w: playback id is required", domain.ErrPermanent)
	}
	params, err := clipParams(req)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	if h.signer != nil {
		tok, err := h.signer.Token(req.PlaybackID, params)
		if err != nil {
			return "", err
		}
		q.Set("token", tok)
	} else {
		for k, v := range params {
			q.Set(k, strconv.FormatInt(v.(int64), 10))
		}
	}
	return h.baseURL + "/" + url.PathEscape(req.PlaybackID) + ".m3u8?" + q.Encode(), nil
}

// FetchSegment materializes the requested window as a temporary MP4.
func (h *MuxHost) FetchSegment(ctx context.Context, req adapter.SegmentRequest) (*adapter.Segment, error) {
	src, err := h.ManifestURL(req)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(h.tempDir, "segment-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("create segment file: %w", err)
	}
	path := f.Name()
	_ = f.Close()
	cleanup := func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	if err := h.remux.Remux(ctx, src, path); err != nil {
		_ = cleanup()
		if req.Addressing == adapter.AddressingAsset && assetGone(err) {
			return nil, fmt.Errorf("%w: fetch segment %s: %v", domain.ErrPermanent, req.Window, err)
		}
		return nil, fmt.Errorf("fetch segment %s: %w", req.Window, err)
	}

	st, err := os.Stat(path)
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("stat segment: %w", err)
	}
	if st.Size() == 0 {
		_ = cleanup()
		return nil, fmt.Errorf("%w: %s %s", domain.ErrEmptySegment, req.PlaybackID, req.Window)
	}

	h.log.Debug().
		Str("playback_id", req.PlaybackID).
		Str("window", req.Window.String()).
		Int64("bytes", st.Size()).
		Msg("segment fetched")
	return &adapter.Segment{Path: path, Size: st.Size(), Close: cleanup}, nil
}

// assetGone reports whether the host said the asset no longer exists. Live
// edges can 404 briefly, so only asset addressing treats this as final.
func assetGone(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "404 Not Found") || strings.Contains(msg, "410 Gone")
}
