// Package backup snapshots the twinrag sqlite database with VACUUM INTO,
// verifies each snapshot and prunes old ones.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	filePrefix = "twinrag-backup-"
	fileSuffix = ".db"
)

// Config configures a backup Service.
type Config struct {
	DBPath    string // live database file
	BackupDir string
	Keep      int  // snapshots to retain, newest first (default 10)
	Verify    bool // run PRAGMA integrity_check on each snapshot
}

// Info describes one snapshot on disk.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result is the outcome of BackupNow.
type Result struct {
	Info
	Duration time.Duration `json:"duration"`
	Verified bool          `json:"verified"`
	Pruned   int           `json:"pruned"`
}

// Service creates and prunes snapshots of one database.
type Service struct {
	cfg Config
	now func() time.Time
}

// New validates cfg and creates the backup directory.
func New(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(filepath.Dir(cfg.DBPath), "backups")
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 10
	}
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &Service{cfg: cfg, now: time.Now}, nil
}

// BackupNow writes a timestamped snapshot, verifies it when configured and
// applies retention. A failed verification removes the snapshot.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	start := s.now()
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	name := filePrefix + start.UTC().Format("20060102-150405.000000") + fileSuffix
	path := filepath.Join(s.cfg.BackupDir, name)
	if err := snapshot(ctx, s.cfg.DBPath, path); err != nil {
		return nil, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}
	res := &Result{Info: Info{Path: path, Timestamp: start, Size: st.Size()}}

	if s.cfg.Verify {
		if err := Verify(ctx, path); err != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("backup verification failed: %w", err)
		}
		res.Verified = true
	}

	pruned, err := s.prune()
	if err != nil {
		log.Printf("WARNING: backup: retention failed: %v", err)
	}
	res.Pruned = pruned
	res.Duration = time.Since(start)
	return res, nil
}

// List returns the snapshots in the backup directory, newest first.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}
	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		ts, err := time.Parse("20060102-150405.000000", strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			ts = st.ModTime()
		}
		out = append(out, Info{Path: filepath.Join(s.cfg.BackupDir, name), Timestamp: ts, Size: st.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// prune removes all but the newest Keep snapshots.
func (s *Service) prune() (int, error) {
	backups, err := s.List()
	if err != nil || len(backups) <= s.cfg.Keep {
		return 0, err
	}
	var errs []error
	removed := 0
	for _, b := range backups[s.cfg.Keep:] {
		if err := os.Remove(b.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// snapshot copies a consistent image of src to dest. VACUUM INTO reads
// through the WAL, so the live database can stay open.
func snapshot(ctx context.Context, src, dest string) error {
	db, err := sql.Open("sqlite", src)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}
	return nil
}

// Verify runs SQLite's integrity check on a snapshot.
func Verify(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
