package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/config"
	"github.com/scrypster/twinrag/internal/server"
	"github.com/scrypster/twinrag/web/handlers"
)

const (
	apiToken = "test-token"

	bakingNotes = "Sourdough bread relies on a wild yeast starter that must be fed daily with flour and water."
)

type testServer struct {
	url    string
	client *http.Client
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.DataPath = app.MemoryDataPath
	cfg.Security.APIToken = apiToken
	cfg.Jobs.SchedulerEnabled = false

	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)

	hub := handlers.NewWebSocketHub()
	go hub.Run()

	srv := httptest.NewServer(server.NewHandler(a, hub))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		_ = a.Close()
	})
	return &testServer{url: srv.URL, client: srv.Client()}
}

// do sends a request and decodes the JSON response into a generic map.
func (s *testServer) do(t *testing.T, method, path string, body interface{}, auth bool) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.url+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func TestServer_Health(t *testing.T) {
	s := startTestServer(t)

	status, body := s.do(t, "GET", "/health", nil, false)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_OwnerRoutesRequireToken(t *testing.T) {
	s := startTestServer(t)

	status, _ := s.do(t, "POST", "/api/twins", map[string]string{"name": "Baker"}, false)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, "POST", "/api/twins", map[string]string{"name": "Baker"}, true)
	assert.Equal(t, http.StatusCreated, status)
}

func TestServer_EndToEnd(t *testing.T) {
	s := startTestServer(t)

	status, body := s.do(t, "POST", "/api/twins", map[string]string{"id": "baker", "name": "Baker", "specialization": "expert"}, true)
	require.Equal(t, http.StatusCreated, status, body)

	status, body = s.do(t, "POST", "/api/twins/baker/sources", map[string]interface{}{
		"id":    "bread-notes",
		"title": "Bread notes",
		"text":  bakingNotes,
	}, true)
	require.Equal(t, http.StatusCreated, status, body)
	src := body["source"].(map[string]interface{})
	assert.Equal(t, "live", src["status"])
	assert.Equal(t, "processing", src["staging"])

	status, body = s.do(t, "POST", "/api/sources/bread-notes/approve", nil, true)
	require.Equal(t, http.StatusAccepted, status, body)
	assert.Equal(t, "indexing", body["type"])

	status, body = s.do(t, "POST", "/api/twins/baker/drain", nil, true)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["processed"])
	assert.EqualValues(t, 0, body["failed"])
	assert.EqualValues(t, 0, body["remaining"])

	status, body = s.do(t, "POST", "/api/twins/baker/query", map[string]string{"query": bakingNotes}, true)
	require.Equal(t, http.StatusOK, status, body)
	assert.NotEmpty(t, body["citations"])
	assert.Equal(t, "owner", body["trust"])

	status, body = s.do(t, "POST", "/api/twins/baker/share-tokens", map[string]string{"expires_in": "24h"}, true)
	require.Equal(t, http.StatusCreated, status, body)
	token := body["token"].(string)
	require.NotEmpty(t, token)

	// Nothing is published yet.
	status, body = s.do(t, "POST", "/public/"+token+"/query", map[string]string{"query": bakingNotes}, false)
	require.Equal(t, http.StatusOK, status, body)
	assert.Empty(t, body["citations"])
	assert.NotContains(t, body, "trace")

	status, body = s.do(t, "PUT", "/api/twins/baker/publish", map[string]interface{}{"source_ids": []string{"bread-notes"}}, true)
	require.Equal(t, http.StatusOK, status, body)

	status, body = s.do(t, "POST", "/public/"+token+"/query", map[string]string{"query": bakingNotes}, false)
	require.Equal(t, http.StatusOK, status, body)
	citations := body["citations"].([]interface{})
	require.NotEmpty(t, citations)
	assert.Equal(t, "bread-notes", citations[0].(map[string]interface{})["source_id"])

	// A published source is deactivated, not deleted.
	status, body = s.do(t, "DELETE", "/api/sources/bread-notes", nil, true)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["deactivated"])

	status, _ = s.do(t, "DELETE", "/api/share-tokens/"+token, nil, true)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = s.do(t, "POST", "/public/"+token+"/query", map[string]string{"query": bakingNotes}, false)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Nil(t, body["details"])
}

func TestServer_IdentityRequiresConfirmation(t *testing.T) {
	s := startTestServer(t)
	status, _ := s.do(t, "POST", "/api/twins", map[string]string{"id": "baker", "name": "Baker"}, true)
	require.Equal(t, http.StatusCreated, status)

	status, body := s.do(t, "POST", "/api/twins/baker/sources", map[string]interface{}{
		"label": "identity",
		"text":  bakingNotes,
	}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Nil(t, body["source"])

	status, body = s.do(t, "POST", "/api/twins/baker/sources", map[string]interface{}{
		"label":     "identity",
		"confirmed": true,
		"text":      bakingNotes,
	}, true)
	assert.Equal(t, http.StatusCreated, status, body)
}
