package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const MaxTags = 10

type Severity string

const (
	SeverityMinor  Severity = "Minor"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

var Severities = []Severity{SeverityMinor, SeverityMedium, SeverityHigh}

type EventType string

const (
	EventTypeSafety        EventType = "Safety"
	EventTypeSecurity      EventType = "Security"
	EventTypeMedical       EventType = "Medical"
	EventTypeTraffic       EventType = "Traffic"
	EventTypeOperational   EventType = "Operational"
	EventTypeEnvironmental EventType = "Environmental"
	EventTypeOther         EventType = "Other"
)

var EventTypes = []EventType{
	EventTypeSafety, EventTypeSecurity, EventTypeMedical, EventTypeTraffic,
	EventTypeOperational, EventTypeEnvironmental, EventTypeOther,
}

func (s Severity) Valid() bool {
	for _, v := range Severities {
		if s == v {
			return true
		}
	}
	return false
}

func (t EventType) Valid() bool {
	for _, v := range EventTypes {
		if t == v {
			return true
		}
	}
	return false
}

type Entity struct {
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type Event struct {
	Name                  string    `json:"name"`
	Description           string    `json:"description"`
	Severity              Severity  `json:"severity"`
	Type                  EventType `json:"type"`
	TimestampSeconds      float64   `json:"timestamp_seconds"`
	AffectedEntityIndices []int     `json:"affected_entity_indices,omitempty"`
}

// BoundingBox is normalized to [0,1] with X/Y at the top-left corner.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Detection struct {
	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

type FrameDetections struct {
	FrameTimestamp float64     `json:"frame_timestamp"`
	FrameIndex     int         `json:"frame_index"`
	Detections     []Detection `json:"detections"`
}

// AnalysisResult is the merged output of both analysis stages for one job.
type AnalysisResult struct {
	ID              string
	JobID           string
	Summary         string
	Tags            []string
	Entities        []Entity
	Events          []Event
	FrameDetections []FrameDetections
	// Raw keeps each stage's unredacted provider payload keyed by stage name.
	Raw       map[string]json.RawMessage
	CreatedAt time.Time
}

func NewAnalysisResult(jobID string, now time.Time) *AnalysisResult {
	return &AnalysisResult{
		ID:              uuid.NewString(),
		JobID:           jobID,
		Tags:            []string{},
		Entities:        []Entity{},
		Events:          []Event{},
		FrameDetections: []FrameDetections{},
		Raw:             map[string]json.RawMessage{},
		CreatedAt:       now,
	}
}

// NormalizeCenterBox converts a pixel box given by its center into a
// top-left normalized box. ok is false when the image size is unknown.
func NormalizeCenterBox(cx, cy, w, h, imgW, imgH float64) (BoundingBox, bool) {
	if imgW <= 0 || imgH <= 0 {
		return BoundingBox{}, false
	}
	return BoundingBox{
		X:      clamp01((cx - w/2) / imgW),
		Y:      clamp01((cy - h/2) / imgH),
		Width:  clamp01(w / imgW),
		Height: clamp01(h / imgH),
	}, true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
