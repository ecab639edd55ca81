package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/config"
	"github.com/scrypster/twinrag/internal/server"
	"github.com/scrypster/twinrag/pkg/types"
	"github.com/scrypster/twinrag/web/handlers"
)

const notes = "Sourdough bread relies on a wild yeast starter that must be fed daily with flour and water."

type apiFixture struct {
	app     *app.App
	handler http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.DataPath = app.MemoryDataPath
	cfg.Jobs.SchedulerEnabled = false

	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	hub := handlers.NewWebSocketHub()
	go hub.Run()
	t.Cleanup(func() {
		hub.Stop()
		_ = a.Close()
	})

	f := &apiFixture{app: a, handler: server.NewHandler(a, hub)}
	require.NoError(t, a.Store.CreateTwin(context.Background(), &types.Twin{ID: "twin-1", Name: "Baker"}))
	return f
}

func (f *apiFixture) call(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(method, path, &buf))

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	}
	return w, out
}

func TestCreateTwin_Validation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing name", map[string]string{"specialization": "coach"}, http.StatusBadRequest},
		{"unknown specialization", map[string]string{"name": "X", "specialization": "wizard"}, http.StatusBadRequest},
		{"duplicate id", map[string]string{"id": "twin-1", "name": "Again"}, http.StatusConflict},
		{"generated id", map[string]string{"name": "Coach", "specialization": "coach"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := f.call(t, "POST", "/api/twins", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w, _ := f.call(t, "POST", "/api/twins", `{"name":"X","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTwin(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"id": "s1", "text": notes})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := f.call(t, "GET", "/api/twins/twin-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "twin-1", body["twin"].(map[string]interface{})["id"])
	assert.Equal(t, "general", body["profile"].(map[string]interface{})["kind"])
	sources := body["sources"].(map[string]interface{})
	assert.EqualValues(t, 1, sources["total"])

	w, _ = f.call(t, "GET", "/api/twins/twin-1?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.call(t, "GET", "/api/twins/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSource_FailedPipelineReturnsSource(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"id": "short", "text": "too short"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	src := body["source"].(map[string]interface{})
	assert.Equal(t, "failed", src["status"])
	assert.NotEmpty(t, body["error"])

	w, body = f.call(t, "GET", "/api/sources/short", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "failed", body["source"].(map[string]interface{})["status"])
}

func TestCreateSource_Rejections(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.call(t, "POST", "/api/twins/missing/sources", map[string]string{"text": notes})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"label": "rumour", "text": notes})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"kind": "video", "text": notes})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadSource(t *testing.T) {
	f := newAPIFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("id", "upload-1"))
	require.NoError(t, mw.WriteField("title", "Uploaded notes"))
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte(notes))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/twins/twin-1/sources/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body handlers.SourceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "upload-1", body.Source.ID)
	assert.Equal(t, "Uploaded notes", body.Source.Title)
	assert.Equal(t, types.SourceStatusLive, body.Source.Status)

	w, chunks := f.call(t, "GET", "/api/twins/twin-1/sources/upload-1/chunks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, chunks["chunks"], body.Source.ChunkCount)

	w, _ = f.call(t, "GET", "/api/twins/other/sources/upload-1/chunks", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSourceReview(t *testing.T) {
	f := newAPIFixture(t)
	w, _ := f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"id": "s1", "text": notes})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := f.call(t, "POST", "/api/sources/s1/reject", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", body["source"].(map[string]interface{})["staging"])

	// Rejected is terminal.
	w, _ = f.call(t, "POST", "/api/sources/s1/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = f.call(t, "POST", "/api/sources/missing/approve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReingestAndGraph(t *testing.T) {
	f := newAPIFixture(t)
	w, _ := f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"id": "s1", "text": notes})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := f.call(t, "POST", "/api/sources/s1/reingest", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "live", body["source"].(map[string]interface{})["status"])

	w, body = f.call(t, "POST", "/api/sources/s1/graph", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "graph_extraction", body["type"])

	w, body = f.call(t, "GET", "/api/twins/twin-1/jobs?status=queued", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["jobs"], 1)

	w, _ = f.call(t, "GET", "/api/twins/twin-1/jobs?status=stalled", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.call(t, "GET", "/api/twins/twin-1/graph?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body, "stats")
}

func TestDeleteSource_Unpublished(t *testing.T) {
	f := newAPIFixture(t)
	w, _ := f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"id": "s1", "text": notes})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := f.call(t, "DELETE", "/api/sources/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["deleted"])
	assert.Equal(t, false, body["deactivated"])

	w, _ = f.call(t, "GET", "/api/sources/s1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryJob_OnlyFailedJobs(t *testing.T) {
	f := newAPIFixture(t)
	w, _ := f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"id": "s1", "text": notes})
	require.Equal(t, http.StatusCreated, w.Code)

	w, job := f.call(t, "POST", "/api/sources/s1/graph", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w, _ = f.call(t, "POST", "/api/jobs/"+job["id"].(string)+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = f.call(t, "POST", "/api/jobs/missing/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeedbackJob_ProposesMemories(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.call(t, "POST", "/api/twins/twin-1/feedback", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, job := f.call(t, "POST", "/api/twins/twin-1/feedback", map[string]interface{}{
		"turns": []types.Turn{
			{Role: "assistant", Text: "What are you working towards?"},
			{Role: "user", Text: "I want to run a marathon next spring."},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "feedback_learning", job["type"])

	w, drain := f.call(t, "POST", "/api/twins/twin-1/drain", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, drain["processed"])

	w, body := f.call(t, "GET", "/api/twins/twin-1/memories?status=proposed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	memories := body["memories"].([]interface{})
	require.Len(t, memories, 1)
	assert.Equal(t, "goal", memories[0].(map[string]interface{})["type"])
}

func TestHealthCheckJob(t *testing.T) {
	f := newAPIFixture(t)

	w, job := f.call(t, "POST", "/api/twins/twin-1/health-check", map[string]interface{}{"queries": []string{"  ", "starter"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "health_check", job["type"])
	assert.Contains(t, job["payload"], `"starter"`)

	w, _ = f.call(t, "POST", "/api/twins/missing/health-check", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMemoryFlow(t *testing.T) {
	f := newAPIFixture(t)

	w, ex := f.call(t, "POST", "/api/twins/twin-1/memories/extract", map[string]interface{}{
		"turns": []types.Turn{{Role: "user", Text: "I never work on Sundays. I prefer early mornings."}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "heuristic", ex["method"])
	require.Len(t, ex["candidates"], 2)

	// Extraction stores nothing.
	w, body := f.call(t, "GET", "/api/twins/twin-1/memories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["memories"])

	w, report := f.call(t, "POST", "/api/twins/twin-1/memories/finalize", map[string]interface{}{
		"candidates": []types.MemoryCandidate{
			{Type: types.MemoryTypeBoundary, Content: "I never work on Sundays", Confidence: 0.9},
			{Type: types.MemoryTypePreference, Content: "I prefer early mornings", Confidence: 0.3},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, report["proposed_count"])
	assert.EqualValues(t, 1, report["rejected_low_confidence"])
	id := report["records"].([]interface{})[0].(map[string]interface{})["id"].(string)

	w, _ = f.call(t, "PATCH", "/api/memories/"+id, map[string]string{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.call(t, "PATCH", "/api/memories/"+id, map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = f.call(t, "GET", "/api/twins/twin-1/memories?status=confirmed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["memories"], 1)
}

func TestPublish(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.app.Store.CreateTwin(ctx, &types.Twin{ID: "twin-2", Name: "Other"}))
	w, _ := f.call(t, "POST", "/api/twins/twin-2/sources", map[string]string{"id": "foreign", "text": notes})
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"id": "s1", "text": notes})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = f.call(t, "PUT", "/api/twins/twin-1/publish", map[string]interface{}{"source_ids": []string{"foreign"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.call(t, "PUT", "/api/twins/twin-1/publish", map[string]interface{}{"source_ids": []string{"nope"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := f.call(t, "PUT", "/api/twins/twin-1/publish", map[string]interface{}{
		"source_ids": []string{"s1"},
		"topics":     []string{" baking ", ""},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"s1"}, body["source_ids"])
	assert.Equal(t, []interface{}{"baking"}, body["topics"])

	w, body = f.call(t, "GET", "/api/twins/twin-1/publish", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"s1"}, body["source_ids"])
}

func TestShareTokens(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.call(t, "POST", "/api/twins/twin-1/share-tokens", map[string]string{"expires_in": "soon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.call(t, "POST", "/api/twins/twin-1/share-tokens", map[string]string{"expires_in": "-1h"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, tok := f.call(t, "POST", "/api/twins/twin-1/share-tokens", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, tok["expires_at"])

	w, _ = f.call(t, "DELETE", "/api/share-tokens/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.call(t, "DELETE", "/api/share-tokens/"+tok["token"].(string), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestPublicQuery_GenericErrors(t *testing.T) {
	f := newAPIFixture(t)
	w, tok := f.call(t, "POST", "/api/twins/twin-1/share-tokens", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	token := tok["token"].(string)

	w, body := f.call(t, "POST", "/public/unknown/query", map[string]string{"query": "starter"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, body, "details")

	w, body = f.call(t, "POST", "/public/"+token+"/query", map[string]string{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, body, "details")

	w, body = f.call(t, "POST", "/public/"+token+"/query", map[string]string{"query": "starter"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["citations"])
	assert.NotContains(t, body, "trace")
}

func TestReadinessAndVerify(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.call(t, "GET", "/api/twins/twin-1/readiness", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["ready"])

	w, _ = f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"id": "s1", "text": notes})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = f.call(t, "POST", "/api/twins/twin-1/verify", map[string]interface{}{"queries": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, run := f.call(t, "POST", "/api/twins/twin-1/verify", map[string]interface{}{"queries": []string{notes}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, run["passed"])

	w, body = f.call(t, "GET", "/api/twins/twin-1/readiness", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ready"], w.Body.String())

	w, _ = f.call(t, "GET", "/api/twins/missing/readiness", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOwnerQuery(t *testing.T) {
	f := newAPIFixture(t)
	w, _ := f.call(t, "POST", "/api/twins/twin-1/sources", map[string]string{"id": "s1", "text": notes})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = f.call(t, "POST", "/api/twins/twin-1/query", map[string]string{"query": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := f.call(t, "POST", "/api/twins/twin-1/query", map[string]interface{}{"query": notes, "top_k": 3})
	require.Equal(t, http.StatusOK, w.Code)
	citations := body["citations"].([]interface{})
	require.NotEmpty(t, citations)
	assert.True(t, strings.Contains(citations[0].(map[string]interface{})["text"].(string), "Sourdough"))
	assert.Contains(t, body, "trace")
}
