// Package api exposes the screening pipeline over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/blakegallagher1/gpc-cres/internal/model"
	"github.com/blakegallagher1/gpc-cres/internal/pipeline"
	"github.com/blakegallagher1/gpc-cres/internal/store"
)

// Handler implements the HTTP endpoints.
type Handler struct {
	store    store.Store
	pipeline *pipeline.Pipeline
}

// NewHandler creates a Handler.
func NewHandler(st store.Store, p *pipeline.Pipeline) *Handler {
	return &Handler{store: st, pipeline: p}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			zap.L().Error("api: encode response", zap.Error(err))
		}
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// Ingest accepts a document of extracted field values and queues it.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var payload model.IngestionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	job, err := h.pipeline.Ingest(r.Context(), projectID, payload)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// UpdateFields applies edited field values as a new run.
func (h *Handler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req struct {
		Values []model.IngestionValue `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	delta := make([]model.FieldValue, 0, len(req.Values))
	for _, v := range req.Values {
		delta = append(delta, model.FieldValue{
			FieldKey:    v.FieldKey,
			ValueNumber: v.ValueNumber,
			ValueText:   v.ValueText,
			Confidence:  v.Confidence,
			Method:      v.Method,
			Citations:   v.Citations,
		})
	}

	run, err := h.pipeline.UpdateFields(r.Context(), projectID, delta)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusAccepted, run)
}

// Rerun queues a manual recomputation with the current inputs.
func (h *Handler) Rerun(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	run, err := h.pipeline.StartRun(r.Context(), projectID, model.TriggerManualRerun, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusAccepted, run)
}

// ListRuns returns a project's run history, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	runs, err := h.store.ListRuns(r.Context(), store.RunFilter{ProjectID: projectID})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetRun returns one run with its final (override-applied) scores.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	score, err := h.pipeline.FinalScores(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"run": run, "score": score})
}

// LatestScore returns the final scores of a project's most recent run.
func (h *Handler) LatestScore(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	run, err := h.store.LatestRun(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "no runs for project"})
		return
	}
	score, err := h.pipeline.FinalScores(r.Context(), run.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"run": run, "score": score})
}

// MarkReviewed clears a run's review flag.
func (h *Handler) MarkReviewed(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := h.pipeline.MarkReviewed(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// CreateOverride records a manual correction.
func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req struct {
		Scope       string   `json:"scope"`
		FieldKey    string   `json:"field_key"`
		ValueNumber *float64 `json:"value_number,omitempty"`
		ValueText   string   `json:"value_text,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	override, err := h.pipeline.CreateOverride(r.Context(), model.Override{
		ProjectID:   projectID,
		Scope:       model.OverrideScope(req.Scope),
		FieldKey:    req.FieldKey,
		ValueNumber: req.ValueNumber,
		ValueText:   req.ValueText,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusCreated, override)
}

// ListOverrides returns a project's overrides, newest first, optionally
// filtered by ?scope=field|score.
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	scope := model.OverrideScope(r.URL.Query().Get("scope"))

	overrides, err := h.store.ListOverrides(r.Context(), projectID, scope)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, overrides)
}

// RequestExport queues a workbook export.
func (h *Handler) RequestExport(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req struct {
		RunID string `json:"run_id,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	job, err := h.pipeline.RequestExport(r.Context(), projectID, req.RunID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// GetExportJob returns an export job's status and file path.
func (h *Handler) GetExportJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.store.GetExportJob(r.Context(), jobID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// ListPlaybooks returns all playbook versions, newest first.
func (h *Handler) ListPlaybooks(w http.ResponseWriter, r *http.Request) {
	playbooks, err := h.store.ListPlaybooks(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, playbooks)
}

// CreatePlaybook creates a new playbook version from a settings document.
// Omitted sections fall back to defaults.
func (h *Handler) CreatePlaybook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version  int             `json:"version,omitempty"`
		Settings json.RawMessage `json:"settings,omitempty"`
		Activate bool            `json:"activate,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	settings, err := model.SettingsFromJSON(req.Settings)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	pb, err := h.store.CreatePlaybookVersion(r.Context(), req.Version, settings, false)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	// Activation goes through the pipeline so every project gets rescreened.
	if req.Activate {
		pb, err = h.pipeline.ActivatePlaybook(r.Context(), pb.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	respondJSON(w, http.StatusCreated, pb)
}

// ActivatePlaybook switches the active playbook version.
func (h *Handler) ActivatePlaybook(w http.ResponseWriter, r *http.Request) {
	playbookID := chi.URLParam(r, "playbookID")

	pb, err := h.pipeline.ActivatePlaybook(r.Context(), playbookID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, pb)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
