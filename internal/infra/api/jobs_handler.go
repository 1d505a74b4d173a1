package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/usecase"
)

// maxListLimit caps how many jobs one list request returns.
const maxListLimit = 1000

type jobView struct {
	ID                string     `json:"id"`
	SourceType        string     `json:"source_type"`
	SourceID          string     `json:"source_id"`
	AssetID           string     `json:"asset_id,omitempty"`
	PlaybackID        string     `json:"playback_id"`
	KeySpace          string     `json:"key_space"`
	StartEpoch        int64      `json:"start_epoch"`
	EndEpoch          int64      `json:"end_epoch"`
	AssetStartSeconds *int64     `json:"asset_start_seconds,omitempty"`
	AssetEndSeconds   *int64     `json:"asset_end_seconds,omitempty"`
	Status            string     `json:"status"`
	Attempts          int        `json:"attempts"`
	LastError         string     `json:"last_error,omitempty"`
	ResultRef         string     `json:"result_ref,omitempty"`
	LeaseExpiresAt    *time.Time `json:"lease_expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type resultView struct {
	ID              string                     `json:"id"`
	Summary         string                     `json:"summary"`
	Tags            []string                   `json:"tags"`
	Entities        []model.Entity             `json:"entities"`
	Events          []model.Event              `json:"events"`
	FrameDetections []model.FrameDetections    `json:"frame_detections"`
	Raw             map[string]json.RawMessage `json:"raw,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
}

type jobDetailView struct {
	Job    jobView     `json:"job"`
	Result *resultView `json:"result,omitempty"`
}

type tickView struct {
	Sources    int      `json:"sources"`
	Windows    int      `json:"windows"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected"`
	Skipped    bool     `json:"skipped"`
	Failures   []string `json:"failed_sources"`
}

func toJobView(j *model.AnalysisJob) jobView {
	return jobView{
		ID:                j.ID,
		SourceType:        string(j.SourceType),
		SourceID:          j.SourceID,
		AssetID:           j.AssetID,
		PlaybackID:        j.PlaybackID,
		KeySpace:          string(j.KeySpace()),
		StartEpoch:        j.StartEpoch,
		EndEpoch:          j.EndEpoch,
		AssetStartSeconds: j.AssetStartSeconds,
		AssetEndSeconds:   j.AssetEndSeconds,
		Status:            string(j.Status),
		Attempts:          j.Attempts,
		LastError:         j.LastError,
		ResultRef:         j.ResultRef,
		LeaseExpiresAt:    j.LeaseExpiresAt,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
}

func toResultView(r *model.AnalysisResult) *resultView {
	if r == nil {
		return nil
	}
	return &resultView{
		ID:              r.ID,
		Summary:         r.Summary,
		Tags:            r.Tags,
		Entities:        r.Entities,
		Events:          r.Events,
		FrameDetections: r.FrameDetections,
		Raw:             r.Raw,
		CreatedAt:       r.CreatedAt,
	}
}

func toTickView(rep usecase.TickReport) tickView {
	v := tickView{
		Sources:    rep.Sources,
		Windows:    rep.Windows,
		Inserted:   rep.Inserted,
		Duplicates: rep.Duplicates,
		Rejected:   rep.Rejected,
		Skipped:    rep.Skipped,
		Failures:   []string{},
	}
	for _, f := range rep.Failures {
		v.Failures = append(v.Failures, f.SourceID)
	}
	return v
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Jobs.Stats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("job stats")
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	out := make(map[string]int, len(counts))
	for st, n := range counts {
		out[string(st)] = n
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("get job")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, jobDetailView{Job: toJobView(d.Job), Result: toResultView(d.Result)})
}

func (s *Server) handleListSourceJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	jobs, err := s.deps.Jobs.ListBySource(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list source jobs")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	items := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, toJobView(j))
	}
	writeJSON(w, http.StatusOK, struct {
		Items []jobView `json:"items"`
	}{Items: items})
}
