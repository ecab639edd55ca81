package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/engine"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// JobHandlers serves the training job queue.
type JobHandlers struct {
	app *app.App
}

// NewJobHandlers creates job handlers.
func NewJobHandlers(a *app.App) *JobHandlers {
	return &JobHandlers{app: a}
}

// Drain handles POST /api/twins/{twin}/drain. It processes one batch of the
// twin's queued jobs and reports what is left.
func (h *JobHandlers) Drain(w http.ResponseWriter, r *http.Request) {
	twinID := r.PathValue("twin")
	if _, err := h.app.Store.GetTwin(r.Context(), twinID); err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}
	result, err := h.app.Queue.Drain(r.Context(), twinID)
	if err != nil {
		respondServiceError(w, "failed to drain jobs", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ListJobs handles GET /api/twins/{twin}/jobs with optional status,
// source_id and limit filters.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.JobFilter{
		SourceID: q.Get("source_id"),
		Limit:    parseInt(q.Get("limit"), 100),
	}
	if s := q.Get("status"); s != "" {
		status, err := types.ParseJobStatus(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid status", err)
			return
		}
		filter.Status = status
	}

	jobs, err := h.app.Queue.Jobs(r.Context(), r.PathValue("twin"), filter)
	if err != nil {
		respondServiceError(w, "failed to list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*types.TrainingJob{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// RetryJob handles POST /api/jobs/{id}/retry. Only failed and
// needs_attention jobs can be retried.
func (h *JobHandlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.app.Queue.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, "failed to retry job", err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// FeedbackRequest is the body of POST /api/twins/{twin}/feedback.
type FeedbackRequest struct {
	SessionID string       `json:"session_id"`
	Turns     []types.Turn `json:"turns"`
}

// QueueFeedback handles POST /api/twins/{twin}/feedback. The transcript is
// learned from by a feedback_learning job.
func (h *JobHandlers) QueueFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Turns) == 0 {
		respondError(w, http.StatusBadRequest, "turns are required", nil)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	h.enqueue(w, r, types.JobTypeFeedbackLearning, engine.FeedbackPayload{
		SessionID: req.SessionID,
		Turns:     req.Turns,
	})
}

// HealthCheckRequest is the body of POST /api/twins/{twin}/health-check.
type HealthCheckRequest struct {
	Queries []string `json:"queries,omitempty"`
}

// QueueHealthCheck handles POST /api/twins/{twin}/health-check. Queries are
// optional; when present the job runs them as a verification first.
func (h *JobHandlers) QueueHealthCheck(w http.ResponseWriter, r *http.Request) {
	var req HealthCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	queries := make([]string, 0, len(req.Queries))
	for _, q := range req.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	h.enqueue(w, r, types.JobTypeHealthCheck, engine.HealthCheckPayload{Queries: queries})
}

func (h *JobHandlers) enqueue(w http.ResponseWriter, r *http.Request, jt types.JobType, payload interface{}) {
	twinID := r.PathValue("twin")
	if _, err := h.app.Store.GetTwin(r.Context(), twinID); err != nil {
		respondServiceError(w, "failed to load twin", err)
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode payload", err)
		return
	}
	job := &types.TrainingJob{
		ID:      uuid.New().String(),
		TwinID:  twinID,
		Type:    jt,
		Payload: string(body),
	}
	if err := h.app.Queue.Enqueue(r.Context(), job); err != nil {
		respondServiceError(w, "failed to queue job", err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}
