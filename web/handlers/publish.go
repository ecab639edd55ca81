package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// PublishHandlers serves the publish allowlist and share tokens.
type PublishHandlers struct {
	app *app.App
}

// NewPublishHandlers creates publish handlers.
func NewPublishHandlers(a *app.App) *PublishHandlers {
	return &PublishHandlers{app: a}
}

// PublishRequest is the body of PUT /api/twins/{twin}/publish. It replaces
// the whole allowlist.
type PublishRequest struct {
	SourceIDs []string `json:"source_ids"`
	Topics    []string `json:"topics"`
}

// ShareTokenRequest is the body of POST /api/twins/{twin}/share-tokens.
// ExpiresIn is a Go duration such as "72h"; empty means no expiry.
type ShareTokenRequest struct {
	ExpiresIn string `json:"expires_in,omitempty"`
}

// GetPublish handles GET /api/twins/{twin}/publish.
func (h *PublishHandlers) GetPublish(w http.ResponseWriter, r *http.Request) {
	twinID := r.PathValue("twin")
	if _, err := h.app.Store.GetTwin(r.Context(), twinID); err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}
	list, err := h.app.Store.GetAllowlist(r.Context(), twinID)
	if err != nil {
		respondServiceError(w, "failed to load allowlist", err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// PutPublish handles PUT /api/twins/{twin}/publish. Every listed source must
// belong to the twin. The change applies to the next public query.
func (h *PublishHandlers) PutPublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	twinID := r.PathValue("twin")
	if _, err := h.app.Store.GetTwin(r.Context(), twinID); err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}

	list := &types.PublishAllowlist{TwinID: twinID, SourceIDs: []string{}, Topics: []string{}}
	for _, id := range req.SourceIDs {
		src, err := h.app.Store.GetSource(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && src.TwinID != twinID) {
			respondServiceError(w, "invalid source", fmt.Errorf("%w: source %s is not a source of twin %s", storage.ErrInvalidInput, id, twinID))
			return
		}
		if err != nil {
			respondServiceError(w, "failed to load source", err)
			return
		}
		list.SourceIDs = append(list.SourceIDs, id)
	}
	for _, topic := range req.Topics {
		if topic = strings.TrimSpace(topic); topic != "" {
			list.Topics = append(list.Topics, topic)
		}
	}

	if err := h.app.Store.SetAllowlist(r.Context(), list); err != nil {
		respondServiceError(w, "failed to save allowlist", err)
		return
	}
	saved, err := h.app.Store.GetAllowlist(r.Context(), twinID)
	if err != nil {
		respondServiceError(w, "failed to load allowlist", err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

// CreateShareToken handles POST /api/twins/{twin}/share-tokens.
func (h *PublishHandlers) CreateShareToken(w http.ResponseWriter, r *http.Request) {
	var req ShareTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	twinID := r.PathValue("twin")
	if _, err := h.app.Store.GetTwin(r.Context(), twinID); err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}

	tok := &types.ShareToken{
		Token:     uuid.New().String(),
		TwinID:    twinID,
		CreatedAt: time.Now(),
	}
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "expires_in must be a positive duration", err)
			return
		}
		exp := tok.CreatedAt.Add(d)
		tok.ExpiresAt = &exp
	}

	if err := h.app.Store.CreateShareToken(r.Context(), tok); err != nil {
		respondServiceError(w, "failed to create share token", err)
		return
	}
	respondJSON(w, http.StatusCreated, tok)
}

// RevokeShareToken handles DELETE /api/share-tokens/{token}.
func (h *PublishHandlers) RevokeShareToken(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Store.RevokeShareToken(r.Context(), r.PathValue("token"), time.Now()); err != nil {
		respondServiceError(w, "failed to revoke share token", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
