package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/config"
	"github.com/scrypster/twinrag/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (overrides TWINRAG_CONFIG_FILE)")
	flag.Parse()

	if *configPath != "" {
		if err := os.Setenv("TWINRAG_CONFIG_FILE", *configPath); err != nil {
			log.Fatalf("Failed to set config path: %v", err)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Security.APIToken == "" {
		log.Println("WARNING: TWINRAG_API_TOKEN is not set; owner routes are unauthenticated")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize twinrag: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("ERROR: shutdown: %v", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	addr, done, err := server.Start(ctx, a)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("twinrag API running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	a.Scheduler.Stop()
	cancel()
	<-done
}
