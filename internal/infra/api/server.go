package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"video-analysis-pipeline/internal/usecase"
)

// WebhookVerifier authenticates a raw webhook body against its signature header.
type WebhookVerifier interface {
	Verify(header string, body []byte) error
}

// Ticker runs one live scheduler pass.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (usecase.TickReport, error)
}

// Deps are the use cases behind the HTTP surface. Limiter and Ping are optional.
type Deps struct {
	Lifecycle usecase.LifecycleUseCase
	Jobs      usecase.JobQueryUseCase
	Ticker    Ticker
	Verifier  WebhookVerifier
	Limiter   Limiter
	Ping      func(ctx context.Context) error
}

type Options struct {
	RequestTimeout       time.Duration
	TriggerToken         string
	WebhookRatePerMinute int
}

// Server exposes the webhook receiver, the tick trigger and the read-only job API.
type Server struct {
	deps Deps
	opts Options
	now  func() time.Time
	log  *zerolog.Logger
}

func NewServer(deps Deps, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	l := logger.With().Str("component", "api").Logger()
	return &Server{deps: deps, opts: opts, now: time.Now, log: &l}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.opts.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.With(RateLimit(s.deps.Limiter, "webhook", s.opts.WebhookRatePerMinute, s.log)).
		Post("/webhooks/video-host", s.handleWebhook)
	r.With(BearerToken(s.opts.TriggerToken)).
		Post("/internal/scheduler/tick", s.handleTick)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/jobs/stats", s.handleJobStats)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/sources/{id}/jobs", s.handleListSourceJobs)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Ticker.Tick(r.Context(), s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("triggered tick failed")
		writeError(w, http.StatusInternalServerError, "tick failed")
		return
	}
	writeJSON(w, http.StatusOK, toTickView(rep))
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}
