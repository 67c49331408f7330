package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler exposes job endpoints using go-chi.
type Handler struct {
	mgr *Manager
	log *slog.Logger
}

// NewHandler returns a Handler that uses the given Manager and Logger.
func NewHandler(mgr *Manager, log *slog.Logger) *Handler {
	return &Handler{mgr: mgr, log: log}
}

type submitRequest struct {
	Input string `json:"input"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitJob handles POST /jobs.
// Body: { "input": "https://example.com/playlist.m3u8|My Video" }.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "" {
		h.log.Debug("invalid submit body")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be {\"input\": \"<url>\" } or {\"input\": \"<url>|<name>\"}"})
		return
	}

	job, err := h.mgr.Submit(req.Input)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		h.log.Error("submit failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("job submitted", slog.String("job_id", job.ID.String()))
	writeJSON(w, http.StatusAccepted, job)
}

// GetJob handles GET /jobs/{job_id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, found := h.mgr.Snapshot(id)
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetJobEvents handles GET /jobs/{job_id}/events.
func (h *Handler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	events, found := h.mgr.Events(id)
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// CancelJob handles POST /jobs/{job_id}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	found, err := h.mgr.Cancel(id)
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if errors.Is(err, ErrJobFinished) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	h.log.Info("job cancel requested", slog.String("job_id", id.String()))
	w.WriteHeader(http.StatusAccepted)
}

// jobID parses the job_id URL parameter, writing a 400 on failure.
func (h *Handler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "job_id must be a uuid"})
		return uuid.UUID{}, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
