package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/pkg/types"
)

// MemoryHandlers serves the extract-then-finalize memory flow.
type MemoryHandlers struct {
	app *app.App
}

// NewMemoryHandlers creates memory handlers.
func NewMemoryHandlers(a *app.App) *MemoryHandlers {
	return &MemoryHandlers{app: a}
}

// ExtractMemoriesRequest is the body of POST /api/twins/{twin}/memories/extract.
type ExtractMemoriesRequest struct {
	Turns []types.Turn `json:"turns"`
}

// FinalizeMemoriesRequest is the body of POST /api/twins/{twin}/memories/finalize.
type FinalizeMemoriesRequest struct {
	SessionID  string                  `json:"session_id,omitempty"`
	SourceType string                  `json:"source_type,omitempty"`
	Candidates []types.MemoryCandidate `json:"candidates"`
}

// UpdateMemoryRequest is the body of PATCH /api/memories/{id}.
type UpdateMemoryRequest struct {
	Status string `json:"status"`
}

// Extract handles POST /api/twins/{twin}/memories/extract. Nothing is stored.
func (h *MemoryHandlers) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractMemoriesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if _, err := h.app.Store.GetTwin(r.Context(), r.PathValue("twin")); err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}
	ex, err := h.app.Memory.Extract(r.Context(), req.Turns)
	if err != nil {
		respondServiceError(w, "memory extraction failed", err)
		return
	}
	respondJSON(w, http.StatusOK, ex)
}

// Finalize handles POST /api/twins/{twin}/memories/finalize. Candidates that
// clear the confidence floor are stored as proposed.
func (h *MemoryHandlers) Finalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeMemoriesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	twinID := r.PathValue("twin")
	if _, err := h.app.Store.GetTwin(r.Context(), twinID); err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	if req.SourceType == "" {
		req.SourceType = "interview"
	}
	report, err := h.app.Memory.Finalize(r.Context(), twinID, req.SessionID, req.SourceType, req.Candidates)
	if err != nil {
		respondServiceError(w, "memory finalize failed", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// List handles GET /api/twins/{twin}/memories?status=.
func (h *MemoryHandlers) List(w http.ResponseWriter, r *http.Request) {
	var status types.MemoryStatus
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := types.ParseMemoryStatus(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid status", err)
			return
		}
		status = parsed
	}
	records, err := h.app.Memory.Memories(r.Context(), r.PathValue("twin"), status)
	if err != nil {
		respondServiceError(w, "failed to list memories", err)
		return
	}
	if records == nil {
		records = []*types.MemoryRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"memories": records})
}

// Update handles PATCH /api/memories/{id}. Proposed records can be confirmed
// or rejected.
func (h *MemoryHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateMemoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	status, err := types.ParseMemoryStatus(req.Status)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid status", err)
		return
	}
	id := r.PathValue("id")
	if err := h.app.Store.UpdateMemoryStatus(r.Context(), id, status); err != nil {
		respondServiceError(w, "failed to update memory", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": status})
}
