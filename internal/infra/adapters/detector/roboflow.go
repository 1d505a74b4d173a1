// Package detector calls a Roboflow-style hosted inference endpoint.
package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/ports/adapter"
	"video-analysis-pipeline/internal/infra/metrics"
)

const maxResponseBytes = 4 << 20

type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	log      *zerolog.Logger
}

var _ adapter.ObjectDetector = (*Client)(nil)

// NewClient builds a detector for model (e.g. "coco/3"). ratePerSecond <= 0
// leaves calls unthrottled.
func NewClient(baseURL, model, apiKey string, ratePerSecond float64, timeout time.Duration, log *zerolog.Logger) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: detector model is required", domain.ErrInvalidArgument)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		l := zerolog.Nop()
		log = &l
	}
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		if b := int(ratePerSecond); b > burst {
			burst = b
		}
	}
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/" + strings.Trim(model, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
		log:      log,
	}, nil
}

// flexFloat accepts both JSON numbers and numeric strings; the hosted API
// has returned image dimensions in either form.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type inferResponse struct {
	Predictions []adapter.Prediction `json:"predictions"`
	Image       struct {
		Width  flexFloat `json:"width"`
		Height flexFloat `json:"height"`
	} `json:"image"`
}

func (c *Client) Detect(ctx context.Context, jpeg []byte) (*adapter.DetectionResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	body := base64.StdEncoding.EncodeToString(jpeg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+q.Encode(), strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncDetectorCall(false)
		return nil, fmt.Errorf("detect: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.IncDetectorCall(false)
		return nil, fmt.Errorf("read detect response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.IncDetectorCall(false)
		err := fmt.Errorf("detect: status %d: %s", resp.StatusCode, truncate(raw, 256))
		if permanentStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: %v", domain.ErrPermanent, err)
		}
		return nil, err
	}

	var out inferResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		metrics.IncDetectorCall(false)
		return nil, fmt.Errorf("decode detect response: %w", err)
	}
	metrics.IncDetectorCall(true)
	c.log.Debug().
		Int("predictions", len(out.Predictions)).
		Dur("latency", time.Since(start)).
		Msg("detect ok")

	return &adapter.DetectionResponse{
		Predictions: out.Predictions,
		ImageWidth:  float64(out.Image.Width),
		ImageHeight: float64(out.Image.Height),
		Raw:         json.RawMessage(bytes.TrimSpace(raw)),
	}, nil
}

func permanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone,
		http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
