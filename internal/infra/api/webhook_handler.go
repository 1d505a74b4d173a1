package api

import (
	"errors"
	"io"
	"net/http"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/infra/adapters/videohost"
	"video-analysis-pipeline/internal/infra/logging"
	"video-analysis-pipeline/internal/infra/metrics"
	"video-analysis-pipeline/internal/usecase"
)

const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Outcome string `json:"outcome"`
}

// handleWebhook answers 2xx for anything that must not be redelivered and
// 5xx when handling failed and the host should retry.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.With(r.Context(), s.log)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if s.deps.Verifier != nil {
		if err := s.deps.Verifier.Verify(r.Header.Get(videohost.SignatureHeader), body); err != nil {
			metrics.IncWebhookEvent("unknown", "rejected")
			log.Warn().Err(err).Msg("webhook signature rejected")
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	ev, err := videohost.ParseEvent(body)
	switch {
	case errors.Is(err, domain.ErrUnknownEvent):
		metrics.IncWebhookEvent("unknown", string(usecase.OutcomeIgnored))
		writeJSON(w, http.StatusOK, webhookResponse{Outcome: string(usecase.OutcomeIgnored)})
		return
	case err != nil:
		metrics.IncWebhookEvent("unknown", "rejected")
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	out, err := s.deps.Lifecycle.Handle(r.Context(), ev)
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		log.Warn().Err(err).Str("event_id", ev.ID).Msg("webhook event rejected")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		log.Error().Err(err).Str("event_id", ev.ID).Str("type", string(ev.Type)).Msg("webhook handling failed")
		writeError(w, http.StatusInternalServerError, "handling failed")
	default:
		writeJSON(w, http.StatusOK, webhookResponse{Outcome: string(out)})
	}
}
