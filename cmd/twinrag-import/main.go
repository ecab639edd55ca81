// Command twinrag-import ingests a directory of documents into a twin and
// prints the import summary as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (overrides TWINRAG_CONFIG_FILE)")
	twin := flag.String("twin", "", "Twin to import into (required)")
	dir := flag.String("dir", "", "Directory to import (required)")
	drain := flag.Bool("drain", false, "Run queued jobs for the twin after importing")
	flag.Parse()

	if *twin == "" || *dir == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *configPath != "" {
		if err := os.Setenv("TWINRAG_CONFIG_FILE", *configPath); err != nil {
			log.Fatalf("failed to set config path: %v", err)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize twinrag: %v", err)
	}
	defer a.Close()

	res, err := a.Importer.ImportDir(ctx, *twin, *dir)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}

	out := map[string]interface{}{"import": res}
	if *drain {
		dr, err := a.Queue.Drain(ctx, *twin)
		if err != nil {
			log.Fatalf("drain failed: %v", err)
		}
		out["drain"] = dr
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("failed to write result: %v", err)
	}
}
