package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/invtrack/invtrackgo/internal/config"
	"github.com/invtrack/invtrackgo/internal/store"
	"github.com/invtrack/invtrackgo/internal/sync"
)

// The device agent opens the local SQLite database, walks its schema to
// the current version and runs one sync round against the server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dataDir := flag.String("data-dir", cfg.Device.DataDir, "directory holding the device database")
	serverURL := flag.String("server", cfg.Device.ServerURL, "sync server base URL")
	migrateOnly := flag.Bool("migrate-only", false, "run schema migration and exit")
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(*dataDir, "inventory.db")
	s, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open device database: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Printf("📦 Device database: %s", dbPath)
	if err := s.Migrate(ctx); err != nil {
		log.Fatalf("Schema migration failed: %v", err)
	}
	log.Println("✅ Schema up to date")

	if *migrateOnly {
		return
	}

	coordinator := sync.New(s, *serverURL)
	coordinator.SetProbeTimeout(cfg.Device.ProbeTimeout)
	coordinator.SetInstanceID(cfg.Device.InstanceID)

	result, err := coordinator.SyncAll(ctx)
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}

	if !result.Success {
		for _, msg := range result.Errors {
			log.Printf("⚠️ %s", msg)
		}
		os.Exit(1)
	}
	log.Printf("✅ Uploaded %v, downloaded %v in %s",
		result.Uploaded, result.Downloaded, result.Duration.Round(time.Millisecond))
}
