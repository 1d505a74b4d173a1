package model

import "time"

type LiveSourceStatus string

const (
	LiveSourceStatusActive   LiveSourceStatus = "active"
	LiveSourceStatusIdle     LiveSourceStatus = "idle"
	LiveSourceStatusDisabled LiveSourceStatus = "disabled"
)

// LiveSource holds the scheduling watermark of one live stream.
// LastProcessedEpoch is the exclusive end of the last enqueued window; nil until
// the first tick after the source goes active.
type LiveSource struct {
	ID                 string
	PlaybackID         string
	LastProcessedEpoch *int64
	Status             LiveSourceStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (s *LiveSource) Schedulable() bool {
	return s.Status == LiveSourceStatusActive && s.PlaybackID != ""
}
