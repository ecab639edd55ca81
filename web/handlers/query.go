package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/retrieval"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// QueryHandlers serves owner and public retrieval, the concept graph and
// readiness.
type QueryHandlers struct {
	app *app.App
}

// NewQueryHandlers creates query handlers.
func NewQueryHandlers(a *app.App) *QueryHandlers {
	return &QueryHandlers{app: a}
}

// QueryRequest is the body of both query routes.
type QueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// PublicQueryResponse is the public query result. It never carries the trace.
type PublicQueryResponse struct {
	Citations  []types.Citation  `json:"citations"`
	GraphFacts []types.GraphFact `json:"graph_facts"`
}

// VerifyRequest is the body of POST /api/twins/{twin}/verify.
type VerifyRequest struct {
	Queries []string `json:"queries"`
}

// OwnerQuery handles POST /api/twins/{twin}/query. Results are unfiltered and
// include the retrieval trace.
func (h *QueryHandlers) OwnerQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required", nil)
		return
	}
	res, err := h.app.Retrieval.OwnerQuery(r.Context(), r.PathValue("twin"), req.Query, req.TopK)
	if err != nil {
		respondServiceError(w, "query failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// PublicQuery handles POST /public/{token}/query. Error bodies are generic:
// an unusable token is 404, bad input 400 and everything else 503.
func (h *QueryHandlers) PublicQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request", Code: "INVALID_REQUEST"})
		return
	}
	res, err := h.app.Retrieval.PublicQuery(r.Context(), r.PathValue("token"), req.Query, req.TopK)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, PublicQueryResponse{Citations: res.Citations, GraphFacts: res.GraphFacts})
	case errors.Is(err, retrieval.ErrInvalidShareToken):
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Code: "NOT_FOUND"})
	case errors.Is(err, storage.ErrInvalidInput):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request", Code: "INVALID_REQUEST"})
	default:
		respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Code: "UNAVAILABLE"})
	}
}

// Graph handles GET /api/twins/{twin}/graph?limit=N.
func (h *QueryHandlers) Graph(w http.ResponseWriter, r *http.Request) {
	twinID := r.PathValue("twin")
	if _, err := h.app.Store.GetTwin(r.Context(), twinID); err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}
	g, err := h.app.Extractor.Graph(r.Context(), twinID, parseInt(r.URL.Query().Get("limit"), 200))
	if err != nil {
		respondServiceError(w, "failed to load graph", err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

// Readiness handles GET /api/twins/{twin}/readiness.
func (h *QueryHandlers) Readiness(w http.ResponseWriter, r *http.Request) {
	twinID := r.PathValue("twin")
	if _, err := h.app.Store.GetTwin(r.Context(), twinID); err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}
	v, err := h.app.Readiness.Check(r.Context(), twinID)
	if err != nil {
		respondServiceError(w, "readiness check failed", err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// Verify handles POST /api/twins/{twin}/verify. It runs the queries as the
// owner, records the run and returns it.
func (h *QueryHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	twinID := r.PathValue("twin")
	if _, err := h.app.Store.GetTwin(r.Context(), twinID); err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}
	run, err := h.app.Readiness.RunVerification(r.Context(), twinID, req.Queries)
	if err != nil {
		respondServiceError(w, "verification failed", err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}
