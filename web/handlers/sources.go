package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/ingest"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 64 << 20

// SourceHandlers serves the source lifecycle: ingestion, review and removal.
type SourceHandlers struct {
	app *app.App
}

// NewSourceHandlers creates source handlers.
func NewSourceHandlers(a *app.App) *SourceHandlers {
	return &SourceHandlers{app: a}
}

// CreateSourceRequest is the JSON body of POST /api/twins/{twin}/sources.
// Exactly one of Text, Data, URL or Turns carries the content; Kind selects
// which. Data is base64 in JSON.
type CreateSourceRequest struct {
	ID          string       `json:"id,omitempty"`
	Kind        string       `json:"kind"`
	Title       string       `json:"title,omitempty"`
	Label       string       `json:"label,omitempty"`
	Confirmed   bool         `json:"confirmed,omitempty"`
	Text        string       `json:"text,omitempty"`
	Data        []byte       `json:"data,omitempty"`
	Filename    string       `json:"filename,omitempty"`
	ContentType string       `json:"content_type,omitempty"`
	URL         string       `json:"url,omitempty"`
	Turns       []types.Turn `json:"turns,omitempty"`
}

// input converts the request body to an ingest input. Plain text is treated
// as a text/plain file.
func (req *CreateSourceRequest) input() ingest.Input {
	in := ingest.Input{
		Kind:        types.SourceKind(req.Kind),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Data:        req.Data,
		URL:         req.URL,
		Turns:       req.Turns,
	}
	if in.Kind == "" && req.Text != "" {
		in.Kind = types.SourceKindFile
	}
	if req.Text != "" && len(in.Data) == 0 {
		in.Data = []byte(req.Text)
		if in.Filename == "" {
			in.Filename = "content.txt"
		}
		if in.ContentType == "" {
			in.ContentType = "text/plain"
		}
	}
	return in
}

// SourceResponse is a source, plus the pipeline error when ingestion failed.
type SourceResponse struct {
	Source *types.Source `json:"source"`
	Error  string        `json:"error,omitempty"`
}

// CreateSource handles POST /api/twins/{twin}/sources.
func (h *SourceHandlers) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req CreateSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	h.ingest(w, r, ingest.Request{
		TwinID:    r.PathValue("twin"),
		SourceID:  req.ID,
		Title:     req.Title,
		Label:     types.SourceLabel(req.Label),
		Confirmed: req.Confirmed,
		Input:     req.input(),
	})
}

// UploadSource handles POST /api/twins/{twin}/sources/upload, a multipart
// form with a "file" part and optional id, title, label and confirmed fields.
func (h *SourceHandlers) UploadSource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read upload", err)
		return
	}

	h.ingest(w, r, ingest.Request{
		TwinID:    r.PathValue("twin"),
		SourceID:  r.FormValue("id"),
		Title:     r.FormValue("title"),
		Label:     types.SourceLabel(r.FormValue("label")),
		Confirmed: r.FormValue("confirmed") == "true",
		Input: ingest.Input{
			Kind:        types.SourceKindFile,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		},
	})
}

func (h *SourceHandlers) ingest(w http.ResponseWriter, r *http.Request, req ingest.Request) {
	src, err := h.app.Ingest.Ingest(r.Context(), req)
	h.respondPipeline(w, http.StatusCreated, src, err)
}

// respondPipeline reports the outcome of an ingestion run. A run that failed
// after the source was created still returns the source; its status is
// failed and the error is included.
func (h *SourceHandlers) respondPipeline(w http.ResponseWriter, okStatus int, src *types.Source, err error) {
	if err != nil && src == nil {
		respondServiceError(w, "failed to ingest source", err)
		return
	}
	if err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, SourceResponse{Source: src, Error: err.Error()})
		return
	}
	respondJSON(w, okStatus, SourceResponse{Source: src})
}

// GetSource handles GET /api/sources/{id}.
func (h *SourceHandlers) GetSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.app.Store.GetSource(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, "failed to get source", err)
		return
	}
	respondJSON(w, http.StatusOK, SourceResponse{Source: src})
}

// DeleteSource handles DELETE /api/sources/{id}. Published sources are
// deactivated; others are deleted outright.
func (h *SourceHandlers) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	soft, err := h.app.Ingest.Deactivate(r.Context(), id)
	if err != nil {
		respondServiceError(w, "failed to remove source", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":          id,
		"deactivated": soft,
		"deleted":     !soft,
	})
}

// ReingestSource handles POST /api/sources/{id}/reingest. An empty body
// re-extracts from the stored URL or content.
func (h *SourceHandlers) ReingestSource(w http.ResponseWriter, r *http.Request) {
	var req CreateSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	src, err := h.app.Ingest.Reingest(r.Context(), r.PathValue("id"), req.input())
	h.respondPipeline(w, http.StatusOK, src, err)
}

// ApproveSource handles POST /api/sources/{id}/approve. It queues an
// indexing job.
func (h *SourceHandlers) ApproveSource(w http.ResponseWriter, r *http.Request) {
	job, err := h.app.Ingest.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, "failed to approve source", err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// RejectSource handles POST /api/sources/{id}/reject.
func (h *SourceHandlers) RejectSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.app.Ingest.Reject(r.Context(), id); err != nil {
		respondServiceError(w, "failed to reject source", err)
		return
	}
	src, err := h.app.Store.GetSource(r.Context(), id)
	if err != nil {
		respondServiceError(w, "failed to get source", err)
		return
	}
	respondJSON(w, http.StatusOK, SourceResponse{Source: src})
}

// ExtractGraph handles POST /api/sources/{id}/graph. It queues a graph
// extraction job.
func (h *SourceHandlers) ExtractGraph(w http.ResponseWriter, r *http.Request) {
	job, err := h.app.Ingest.EnqueueGraphExtraction(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, "failed to queue graph extraction", err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// sourceOfTwin loads a source and checks it belongs to twinID.
func (h *SourceHandlers) sourceOfTwin(r *http.Request, twinID, sourceID string) (*types.Source, error) {
	src, err := h.app.Store.GetSource(r.Context(), sourceID)
	if err != nil {
		return nil, err
	}
	if src.TwinID != twinID {
		return nil, fmt.Errorf("%w: source %s", storage.ErrNotFound, sourceID)
	}
	return src, nil
}

// ListChunks handles GET /api/twins/{twin}/sources/{id}/chunks.
func (h *SourceHandlers) ListChunks(w http.ResponseWriter, r *http.Request) {
	src, err := h.sourceOfTwin(r, r.PathValue("twin"), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, "failed to get source", err)
		return
	}
	chunks, err := h.app.Store.ListChunks(r.Context(), src.ID)
	if err != nil {
		respondServiceError(w, "failed to list chunks", err)
		return
	}
	if chunks == nil {
		chunks = []*types.Chunk{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"source_id": src.ID,
		"chunks":    chunks,
	})
}
