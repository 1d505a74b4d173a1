//go:build !integration

package detector

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"video-analysis-pipeline/internal/domain"
)

func TestDetect_DecodesPredictions(t *testing.T) {
	var gotBody, gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotKey = r.URL.Query().Get("api_key")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"time": 0.05,
			"image": {"width": "640", "height": 480},
			"predictions": [{"x": 320, "y": 240, "width": 64, "height": 48, "confidence": 0.91, "class": "person"}]
		}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "coco/3", "k1", 0, time.Second, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := c.Detect(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if gotPath != "/coco/3" || gotKey != "k1" {
		t.Errorf("unexpected request path=%q key=%q", gotPath, gotKey)
	}
	if gotBody != base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8}) {
		t.Errorf("expected base64 body, got %q", gotBody)
	}
	if resp.ImageWidth != 640 || resp.ImageHeight != 480 {
		t.Errorf("unexpected image size %vx%v", resp.ImageWidth, resp.ImageHeight)
	}
	if len(resp.Predictions) != 1 || resp.Predictions[0].Class != "person" || resp.Predictions[0].X != 320 {
		t.Errorf("unexpected predictions %+v", resp.Predictions)
	}
	if len(resp.Raw) == 0 {
		t.Error("expected raw payload to be kept")
	}
}

func TestDetect_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c, _ := NewClient(srv.URL, "m/1", "k", 0, time.Second, nil)
			_, err := c.Detect(context.Background(), []byte("x"))
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, domain.ErrPermanent) != tt.permanent {
				t.Errorf("permanent = %v, want %v (%v)", errors.Is(err, domain.ErrPermanent), tt.permanent, err)
			}
		})
	}
}

func TestDetect_RateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"predictions":[],"image":{"width":1,"height":1}}`)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "m/1", "k", 0.5, time.Second, nil)
	if _, err := c.Detect(context.Background(), []byte("x")); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Detect(ctx, []byte("x")); err == nil {
		t.Fatal("expected the second call to be throttled past the deadline")
	}
}

func TestNewClient_RequiresModel(t *testing.T) {
	if _, err := NewClient("http://x", "", "k", 1, 0, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
