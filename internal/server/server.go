// Package server provides HTTP routing and lifecycle management for the
// twinrag API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/ingest"
	"github.com/scrypster/twinrag/pkg/types"
	"github.com/scrypster/twinrag/web/handlers"
)

// NewHandler builds the routed handler of the API and wires queue and source
// events into hub.
//
// Owner routes under /api and the /ws feed require the API token. The public
// query route is rate limited per share token. /health is open.
func NewHandler(a *app.App, hub *handlers.WebSocketHub) http.Handler {
	cfg := a.Config
	wireEvents(a, hub)

	twins := handlers.NewTwinHandlers(a)
	sources := handlers.NewSourceHandlers(a)
	jobs := handlers.NewJobHandlers(a)
	queries := handlers.NewQueryHandlers(a)
	publish := handlers.NewPublishHandlers(a)
	memories := handlers.NewMemoryHandlers(a)

	apiMux := http.NewServeMux()

	apiMux.HandleFunc("POST /api/twins", twins.CreateTwin)
	apiMux.HandleFunc("GET /api/twins/{twin}", twins.GetTwin)

	apiMux.HandleFunc("POST /api/twins/{twin}/sources", sources.CreateSource)
	apiMux.HandleFunc("POST /api/twins/{twin}/sources/upload", sources.UploadSource)
	apiMux.HandleFunc("GET /api/twins/{twin}/sources/{id}/chunks", sources.ListChunks)
	apiMux.HandleFunc("GET /api/sources/{id}", sources.GetSource)
	apiMux.HandleFunc("DELETE /api/sources/{id}", sources.DeleteSource)
	apiMux.HandleFunc("POST /api/sources/{id}/reingest", sources.ReingestSource)
	apiMux.HandleFunc("POST /api/sources/{id}/approve", sources.ApproveSource)
	apiMux.HandleFunc("POST /api/sources/{id}/reject", sources.RejectSource)
	apiMux.HandleFunc("POST /api/sources/{id}/graph", sources.ExtractGraph)

	apiMux.HandleFunc("POST /api/twins/{twin}/drain", jobs.Drain)
	apiMux.HandleFunc("GET /api/twins/{twin}/jobs", jobs.ListJobs)
	apiMux.HandleFunc("POST /api/jobs/{id}/retry", jobs.RetryJob)
	apiMux.HandleFunc("POST /api/twins/{twin}/feedback", jobs.QueueFeedback)
	apiMux.HandleFunc("POST /api/twins/{twin}/health-check", jobs.QueueHealthCheck)

	apiMux.HandleFunc("POST /api/twins/{twin}/query", queries.OwnerQuery)
	apiMux.HandleFunc("GET /api/twins/{twin}/graph", queries.Graph)
	apiMux.HandleFunc("GET /api/twins/{twin}/readiness", queries.Readiness)
	apiMux.HandleFunc("POST /api/twins/{twin}/verify", queries.Verify)

	apiMux.HandleFunc("GET /api/twins/{twin}/publish", publish.GetPublish)
	apiMux.HandleFunc("PUT /api/twins/{twin}/publish", publish.PutPublish)
	apiMux.HandleFunc("POST /api/twins/{twin}/share-tokens", publish.CreateShareToken)
	apiMux.HandleFunc("DELETE /api/share-tokens/{token}", publish.RevokeShareToken)

	apiMux.HandleFunc("POST /api/twins/{twin}/memories/extract", memories.Extract)
	apiMux.HandleFunc("POST /api/twins/{twin}/memories/finalize", memories.Finalize)
	apiMux.HandleFunc("GET /api/twins/{twin}/memories", memories.List)
	apiMux.HandleFunc("PATCH /api/memories/{id}", memories.Update)

	mux := http.NewServeMux()
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	limiter := handlers.NewRateLimiter(cfg.Security.PublicRatePerSecond, cfg.Security.PublicBurst)
	mux.Handle("POST /public/{token}/query", handlers.RateLimitMiddleware(http.HandlerFunc(queries.PublicQuery), limiter))

	mux.Handle("GET /ws", handlers.RequireAuth(hub, cfg))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	return handlers.SecurityHeaders(mux)
}

// wireEvents forwards job and source lifecycle events to the WebSocket feed.
func wireEvents(a *app.App, hub *handlers.WebSocketHub) {
	a.Queue.OnJobEnqueued(func(job *types.TrainingJob) {
		hub.Broadcast(handlers.Event{Type: handlers.EventJobQueued, TwinID: job.TwinID, Data: job})
	})
	a.Queue.OnJobFinished(func(job *types.TrainingJob) {
		hub.Broadcast(handlers.Event{Type: handlers.EventJobFinished, TwinID: job.TwinID, Data: job})
	})
	a.Ingest.SetEventHandler(func(ev ingest.SourceEvent) {
		hub.Broadcast(handlers.Event{Type: handlers.EventSourceUpdate, TwinID: ev.TwinID, Data: ev})
	})
}

// Start listens on the configured address and serves until ctx is cancelled.
// It returns the address being listened on and a channel closed once shutdown
// has finished. Shutdown waits up to the configured timeout for in-flight
// requests.
func Start(ctx context.Context, a *app.App) (string, <-chan struct{}, error) {
	cfg := a.Config

	hub := handlers.NewWebSocketHub()
	go hub.Run()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		hub.Stop()
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: server: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: server shutdown: %v", err)
		}
		hub.Stop()
	}()

	log.Printf("server: listening on %s", actualAddr)
	return actualAddr, done, nil
}
