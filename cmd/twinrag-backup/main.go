// Command twinrag-backup snapshots the twinrag sqlite database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/scrypster/twinrag/internal/backup"
	"github.com/scrypster/twinrag/internal/config"
)

var (
	dbPath    = flag.String("db", "", "Path to database file (default: <data path>/twinrag.db)")
	backupDir = flag.String("backup-dir", "", "Backup directory (default: <data path>/backups)")
	keep      = flag.Int("keep", 10, "Number of snapshots to retain")
	verify    = flag.Bool("verify", true, "Verify snapshots after creation")
	listCmd   = flag.Bool("list", false, "List snapshots and exit")
	checkFile = flag.String("check", "", "Run an integrity check on a snapshot and exit")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	if *checkFile != "" {
		if err := backup.Verify(ctx, *checkFile); err != nil {
			log.Fatalf("Integrity check failed: %v", err)
		}
		fmt.Println("ok")
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db := filepath.Join(cfg.Storage.DataPath, "twinrag.db")
	if *dbPath != "" {
		db = *dbPath
	}
	dir := filepath.Join(cfg.Storage.DataPath, "backups")
	if *backupDir != "" {
		dir = *backupDir
	}

	svc, err := backup.New(backup.Config{DBPath: db, BackupDir: dir, Keep: *keep, Verify: *verify})
	if err != nil {
		log.Fatalf("Failed to create backup service: %v", err)
	}

	if *listCmd {
		backups, err := svc.List()
		if err != nil {
			log.Fatalf("Failed to list backups: %v", err)
		}
		for _, b := range backups {
			fmt.Printf("%s  %10d  %s\n", b.Timestamp.Format("2006-01-02 15:04:05"), b.Size, b.Path)
		}
		return
	}

	res, err := svc.BackupNow(ctx)
	if err != nil {
		log.Fatalf("Backup failed: %v", err)
	}
	log.Printf("Backup written: path=%s size=%d duration=%v verified=%v pruned=%d",
		res.Path, res.Size, res.Duration, res.Verified, res.Pruned)
}
