package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// TwinHandlers serves twin creation and lookup.
type TwinHandlers struct {
	app *app.App
}

// NewTwinHandlers creates twin handlers.
func NewTwinHandlers(a *app.App) *TwinHandlers {
	return &TwinHandlers{app: a}
}

// CreateTwinRequest is the body of POST /api/twins.
type CreateTwinRequest struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
}

// TwinResponse is a twin with its sources and resolved specialization.
type TwinResponse struct {
	Twin    *types.Twin                           `json:"twin"`
	Profile interface{}                           `json:"profile"`
	Sources *storage.PaginatedResult[types.Source] `json:"sources,omitempty"`
}

// CreateTwin handles POST /api/twins.
func (h *TwinHandlers) CreateTwin(w http.ResponseWriter, r *http.Request) {
	var req CreateTwinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	profile, err := h.app.Profiles.Resolve(req.Specialization)
	if err != nil {
		respondServiceError(w, "invalid specialization", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	twin := &types.Twin{ID: req.ID, Name: req.Name, Specialization: string(profile.Kind)}
	if err := h.app.Store.CreateTwin(r.Context(), twin); err != nil {
		respondServiceError(w, "failed to create twin", err)
		return
	}
	respondJSON(w, http.StatusCreated, TwinResponse{Twin: twin, Profile: profile})
}

// GetTwin handles GET /api/twins/{twin}. Sources are paginated with page and limit.
func (h *TwinHandlers) GetTwin(w http.ResponseWriter, r *http.Request) {
	twin, profile, err := h.app.Profiles.ForTwin(r.Context(), h.app.Store, r.PathValue("twin"))
	if err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}

	opts := storage.ListOptions{
		Page:      parseInt(r.URL.Query().Get("page"), 1),
		Limit:     parseInt(r.URL.Query().Get("limit"), 20),
		SortBy:    r.URL.Query().Get("sort_by"),
		SortOrder: r.URL.Query().Get("sort_order"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		s, err := types.ParseSourceStatus(status)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid status", err)
			return
		}
		opts.Status = s
	}
	opts.Normalize()

	sources, err := h.app.Store.ListSources(r.Context(), twin.ID, opts)
	if err != nil {
		respondServiceError(w, "failed to list sources", err)
		return
	}
	respondJSON(w, http.StatusOK, TwinResponse{Twin: twin, Profile: profile, Sources: sources})
}
