package videohost

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>" over "<t>.<body>".
const SignatureHeader = "Mux-Signature"

type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &WebhookVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (v *WebhookVerifier) Enabled() bool { return len(v.secret) > 0 }

// Verify checks the signature header against body. Any mismatch, malformed
// header or stale timestamp yields ErrInvalidSignature.
func (v *WebhookVerifier) Verify(header string, body []byte) error {
	if !v.Enabled() {
		return nil
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", domain.ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}

	expected := v.sign(ts, body)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", domain.ErrInvalidSignature)
}

// SignatureFor builds a header value for body at t. Used by tests and local tooling.
func (v *WebhookVerifier) SignatureFor(t time.Time, body []byte) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(v.sign(ts, body))
}

func (v *WebhookVerifier) sign(ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

type webhookEnvelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Object    struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"object"`
	Data struct {
		ID           string  `json:"id"`
		LiveStreamID string  `json:"live_stream_id"`
		Duration     float64 `json:"duration"`
		PlaybackIDs  []struct {
			ID     string `json:"id"`
			Policy string `json:"policy"`
		} `json:"playback_ids"`
	} `json:"data"`
}

// ParseEvent decodes a webhook body. Types the pipeline does not act on
// return ErrUnknownEvent together with the partially decoded event.
func ParseEvent(body []byte) (*model.LifecycleEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode webhook: %v", domain.ErrInvalidArgument, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: webhook id and type are required", domain.ErrInvalidArgument)
	}

	ev := &model.LifecycleEvent{
		ID:         env.ID,
		Type:       model.LifecycleEventType(env.Type),
		Duration:   env.Data.Duration,
		OccurredAt: env.CreatedAt,
	}
	if len(env.Data.PlaybackIDs) > 0 {
		ev.PlaybackID = env.Data.PlaybackIDs[0].ID
	}

	switch ev.Type {
	case model.EventLiveStreamActive, model.EventLiveStreamIdle, model.EventLiveStreamDisabled:
		ev.SourceID = env.Data.ID
		if ev.SourceID == "" {
			ev.SourceID = env.Object.ID
		}
	case model.EventAssetReady, model.EventAssetLiveStreamCompleted:
		ev.AssetID = env.Data.ID
		if ev.AssetID == "" {
			ev.AssetID = env.Object.ID
		}
		ev.SourceID = env.Data.LiveStreamID
	default:
		return ev, fmt.Errorf("%w: %s", domain.ErrUnknownEvent, env.Type)
	}
	return ev, nil
}
