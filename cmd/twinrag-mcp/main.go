// Command twinrag-mcp serves a twin's owner operations as MCP tools over
// stdin/stdout. Only JSON-RPC frames are written to stdout; all logging goes
// to stderr.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/twinrag/internal/api/mcp"
	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/config"
)

var version = "dev"

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("twinrag-mcp: ")

	configPath := flag.String("config", "", "Path to a YAML config file (overrides TWINRAG_CONFIG_FILE)")
	twin := flag.String("twin", os.Getenv("TWINRAG_MCP_TWIN"), "Twin used when a tool call omits twin_id")
	flag.Parse()

	if *configPath != "" {
		if err := os.Setenv("TWINRAG_CONFIG_FILE", *configPath); err != nil {
			log.Fatalf("failed to set config path: %v", err)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize twinrag: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("ERROR: shutdown: %v", err)
		}
	}()
	if err := a.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	srv := mcp.NewServer(a, mcp.WithDefaultTwin(*twin), mcp.WithVersion(version))
	log.Println("serving JSON-RPC 2.0 on stdin/stdout")
	if err := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout).Serve(ctx); err != nil {
		log.Printf("transport stopped: %v", err)
	}
}
