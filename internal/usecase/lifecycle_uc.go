package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/repository"
	"video-analysis-pipeline/internal/infra/metrics"
)

// EventDeduper remembers delivered webhook ids.
type EventDeduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type LifecycleOutcome string

const (
	OutcomeApplied   LifecycleOutcome = "applied"
	OutcomeDuplicate LifecycleOutcome = "duplicate"
	OutcomeIgnored   LifecycleOutcome = "ignored"
)

// LifecycleUseCase routes video-host lifecycle events to the live source
// registry, the completion reconciler and the VOD enqueuer.
type LifecycleUseCase interface {
	Handle(ctx context.Context, ev *model.LifecycleEvent) (LifecycleOutcome, error)
}

var _ LifecycleUseCase = (*lifecycleUC)(nil)

type lifecycleUC struct {
	sources    repository.LiveSourceRepository
	reconciler *CompletionReconciler
	vod        *VODEnqueuer
	dedup      EventDeduper
	now        func() time.Time
	log        *zerolog.Logger
}

// NewLifecycleUseCase wires the handlers. dedup may be nil; handlers are
// idempotent, so dedup only avoids repeated work.
func NewLifecycleUseCase(sources repository.LiveSourceRepository, reconciler *CompletionReconciler, vod *VODEnqueuer, dedup EventDeduper, logger *zerolog.Logger) *lifecycleUC {
	return &lifecycleUC{sources: sources, reconciler: reconciler, vod: vod, dedup: dedup, now: time.Now, log: logger}
}

func (u *lifecycleUC) Handle(ctx context.Context, ev *model.LifecycleEvent) (LifecycleOutcome, error) {
	if u.dedup != nil {
		first, err := u.dedup.FirstSeen(ctx, ev.ID)
		if err != nil {
			u.log.Warn().Err(err).Str("event_id", ev.ID).Msg("webhook dedup unavailable")
		} else if !first {
			metrics.IncWebhookEvent(string(ev.Type), string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
	}

	out, err := u.apply(ctx, ev)
	if err != nil {
		metrics.IncWebhookEvent(string(ev.Type), "error")
		if u.dedup != nil {
			// Let the host's redelivery try again.
			if ferr := u.dedup.Forget(context.WithoutCancel(ctx), ev.ID); ferr != nil {
				u.log.Warn().Err(ferr).Str("event_id", ev.ID).Msg("forget webhook event")
			}
		}
		return "", err
	}
	metrics.IncWebhookEvent(string(ev.Type), string(out))
	u.log.Info().
		Str("event_id", ev.ID).
		Str("type", string(ev.Type)).
		Str("source_id", ev.SourceID).
		Str("asset_id", ev.AssetID).
		Str("outcome", string(out)).
		Msg("lifecycle event handled")
	return out, nil
}

func (u *lifecycleUC) apply(ctx context.Context, ev *model.LifecycleEvent) (LifecycleOutcome, error) {
	now := u.now()
	switch ev.Type {
	case model.EventLiveStreamActive:
		if ev.SourceID == "" || ev.PlaybackID == "" {
			return "", fmt.Errorf("%w: live stream event without id or playback id", domain.ErrInvalidArgument)
		}
		if err := u.sources.Activate(ctx, repository.NoTX, ev.SourceID, ev.PlaybackID, now); err != nil {
			return "", fmt.Errorf("activate source: %w", err)
		}
		return OutcomeApplied, nil

	case model.EventLiveStreamIdle, model.EventLiveStreamDisabled:
		status := model.LiveSourceStatusIdle
		if ev.Type == model.EventLiveStreamDisabled {
			status = model.LiveSourceStatusDisabled
		}
		err := u.sources.SetStatus(ctx, repository.NoTX, ev.SourceID, status, now)
		if errors.Is(err, domain.ErrNotFound) {
			return OutcomeIgnored, nil
		}
		if err != nil {
			return "", fmt.Errorf("set source status: %w", err)
		}
		return OutcomeApplied, nil

	case model.EventAssetLiveStreamCompleted:
		if ev.SourceID == "" {
			return OutcomeIgnored, nil
		}
		_, err := u.reconciler.Reconcile(ctx, model.CompletedRecording{
			LiveSourceID: ev.SourceID,
			AssetID:      ev.AssetID,
			PlaybackID:   ev.PlaybackID,
			Duration:     ev.Duration,
		})
		if err != nil {
			return "", err
		}
		return OutcomeApplied, nil

	case model.EventAssetReady:
		// Live-derived recordings are enqueued by the reconciler on completion.
		if ev.SourceID != "" {
			return OutcomeIgnored, nil
		}
		_, err := u.vod.Enqueue(ctx, model.ReadyAsset{
			AssetID:    ev.AssetID,
			PlaybackID: ev.PlaybackID,
			Duration:   ev.Duration,
		})
		if err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}
	return OutcomeIgnored, nil
}
