package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/invtrack/invtrackgo/internal/store"
)

// Seeds a fresh device database with demo inventory so the sync flow can
// be exercised without a scanner in hand.
func main() {
	dataDir := flag.String("data-dir", "./device_data", "directory holding the device database")
	flag.Parse()

	fmt.Println("🌱 invTrack Demo Data Seeder")

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("❌ Failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(*dataDir, "inventory.db")
	s, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("❌ Failed to open device database: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("🔨 Running schema migration...")
	if err := s.Migrate(ctx); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	fmt.Println("✅ Schema up to date")

	existing, err := s.ListAssets(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to inspect database: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("⚠️  Database already has %d assets. Aborting.\n", len(existing))
		return
	}

	fmt.Println("📂 Seeding categories...")
	it := &store.Category{Name: "IT Equipment", Icon: "laptop", Color: "#2563eb"}
	furniture := &store.Category{Name: "Furniture", Icon: "chair", Color: "#92400e"}
	for _, c := range []*store.Category{it, furniture} {
		if err := s.CreateCategory(ctx, c); err != nil {
			log.Fatalf("❌ Failed to seed category %q: %v", c.Name, err)
		}
	}

	fmt.Println("📦 Seeding assets...")
	assets := []*store.Asset{
		{Code: "IT-0001", Name: "ThinkPad X1", Building: "HQ", Level: "2", Area: "Dev Office", Category: it.Name, CategorySyncID: &it.SyncID, Serial: "PF3K1X01"},
		{Code: "IT-0002", Name: "Dell U2723 Monitor", Building: "HQ", Level: "2", Area: "Dev Office", Category: it.Name, CategorySyncID: &it.SyncID},
		{Code: "IT-0003", Name: "Zebra TC21 Scanner", Building: "Warehouse", Level: "1", Area: "Receiving", Category: it.Name, CategorySyncID: &it.SyncID, Serial: "ZB7702"},
		{Code: "FU-0001", Name: "Standing Desk", Building: "HQ", Level: "2", Area: "Dev Office", Category: furniture.Name, CategorySyncID: &furniture.SyncID},
		{Code: "FU-0002", Name: "Conference Table", Building: "HQ", Level: "3", Area: "Meeting Room A", Category: furniture.Name, CategorySyncID: &furniture.SyncID},
	}
	for _, a := range assets {
		if err := s.CreateAsset(ctx, a); err != nil {
			log.Fatalf("❌ Failed to seed asset %s: %v", a.Code, err)
		}
	}

	fmt.Println("📋 Seeding an audit session...")
	audit := &store.AuditSession{
		Area:          "Dev Office",
		Date:          time.Now().UTC().Format("2006-01-02"),
		TotalExpected: 3,
		TotalScanned:  2,
		TotalMissing:  1,
		ScannedCodes:  []string{"IT-0001", "FU-0001"},
		MissingCodes:  []string{"IT-0002"},
		Status:        store.AuditStatusCompleted,
		Notes:         "Monitor not found at desk 4",
	}
	if err := s.CreateAudit(ctx, audit); err != nil {
		log.Fatalf("❌ Failed to seed audit: %v", err)
	}

	fmt.Printf("✅ Seeded %d assets, 2 categories and 1 audit session into %s\n", len(assets), dbPath)
}
