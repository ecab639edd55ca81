// Package importer bulk-ingests a directory of documents into a twin and keeps
// it in sync through a filesystem watcher.
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/twinrag/internal/ingest"
	"github.com/scrypster/twinrag/pkg/types"
)

// Ingester runs one source through the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*types.Source, error)
}

// Result summarizes one directory import.
type Result struct {
	TwinID        string        `json:"twin_id"`
	FilesFound    int           `json:"files_found"`
	FilesImported int           `json:"files_imported"`
	FilesSkipped  int           `json:"files_skipped"`
	FilesFailed   int           `json:"files_failed"`
	SourceIDs     []string      `json:"source_ids"`
	Errors        []string      `json:"errors,omitempty"`
	Duration      time.Duration `json:"duration_ms"`
}

// Importer maps files under a root directory to sources of one twin. A file's
// source id is derived from the twin and its path relative to the root, so
// importing the same file again re-extracts the existing source.
type Importer struct {
	ingest Ingester
}

// New creates an importer.
func New(ing Ingester) *Importer {
	return &Importer{ingest: ing}
}

// ImportDir ingests every supported file under dir. Hidden directories are
// skipped. Per-file failures are collected in the result; only an unusable
// directory or a cancelled context returns an error.
func (imp *Importer) ImportDir(ctx context.Context, twinID, dir string) (*Result, error) {
	start := time.Now()
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", dir)
	}

	files, err := collectFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	res := &Result{TwinID: twinID, FilesFound: len(files), SourceIDs: []string{}}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rel, _ := filepath.Rel(dir, path)

		src, err := imp.ImportFile(ctx, twinID, dir, path)
		switch {
		case err == nil && src == nil:
			res.FilesSkipped++
		case err != nil:
			log.Printf("WARNING: import: %s: %v", rel, err)
			res.FilesFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", rel, err))
		default:
			res.FilesImported++
			res.SourceIDs = append(res.SourceIDs, src.ID)
		}
	}
	res.Duration = time.Since(start)
	log.Printf("import: %s into %s: %d imported, %d skipped, %d failed",
		dir, twinID, res.FilesImported, res.FilesSkipped, res.FilesFailed)
	return res, nil
}

// ImportFile ingests one file under root. Blank files are skipped and return
// a nil source with no error.
func (imp *Importer) ImportFile(ctx context.Context, twinID, root, path string) (*types.Source, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%s is outside %s", path, root)
	}
	rel = filepath.ToSlash(rel)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	src, err := imp.ingest.Ingest(ctx, ingest.Request{
		TwinID:   twinID,
		SourceID: SourceID(twinID, rel),
		Title:    rel,
		Input: ingest.Input{
			Kind:     types.SourceKindFile,
			Filename: filepath.Base(path),
			Data:     data,
		},
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

// SourceID is the stable source id of a file imported into a twin.
func SourceID(twinID, rel string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("twinrag:"+twinID+"/"+rel)).String()
}

// Supported reports whether the ingest pipeline can extract a file by its
// extension.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".txt", ".text", ".log", ".csv", ".html", ".htm", ".pdf":
		return !strings.HasPrefix(filepath.Base(name), ".")
	}
	return false
}

func hidden(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, ".")
}

func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if Supported(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
