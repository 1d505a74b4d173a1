package repository

import (
	"context"
	"time"

	"video-analysis-pipeline/internal/domain/model"
)

type LiveSourceRepository interface {
	ListActive(ctx context.Context, tx Tx) ([]*model.LiveSource, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.LiveSource, error)

	// Activate creates the source or flips it back to active. A source that was
	// not already active gets its watermark cleared so the next tick re-seeds it.
	Activate(ctx context.Context, tx Tx, id, playbackID string, now time.Time) error

	SetStatus(ctx context.Context, tx Tx, id string, status model.LiveSourceStatus, now time.Time) error

	// AdvanceWatermark moves the watermark forward to epoch; it never moves backwards.
	AdvanceWatermark(ctx context.Context, tx Tx, id string, epoch int64, now time.Time) error
}
