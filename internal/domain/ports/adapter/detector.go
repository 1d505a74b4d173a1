package adapter

import (
	"context"
	"encoding/json"
)

// Prediction is one detector hit in source pixel coordinates. X and Y are the
// center of the box.
type Prediction struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
}

type DetectionResponse struct {
	Predictions []Prediction
	ImageWidth  float64
	ImageHeight float64
	Raw         json.RawMessage
}

// ObjectDetector runs object detection on a single JPEG frame.
type ObjectDetector interface {
	Detect(ctx context.Context, jpeg []byte) (*DetectionResponse, error)
}

// Frame is one sampled still of a segment.
type Frame struct {
	Index int
	// Offset is seconds from the start of the segment.
	Offset float64
	JPEG   []byte
}

// FrameExtractor samples frames from a local video file at a fixed rate.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath string, fps float64) ([]Frame, error)
}
