package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the schema generation this build expects.
const SchemaVersion = 10

// sqliteUUID generates a v4 UUID entirely inside SQLite, used to backfill
// sync ids on rows that predate cross-device identity.
const sqliteUUID = `lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-4' ||
	substr(hex(randomblob(2)), 2) || '-' ||
	substr('89ab', abs(random()) % 4 + 1, 1) || substr(hex(randomblob(2)), 2) || '-' ||
	hex(randomblob(6)))`

// sqliteNow yields the current UTC time in the canonical layout from SQL.
const sqliteNow = `strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`

// Migrate walks the database from its recorded schema version up to
// SchemaVersion. Every step is idempotent, so a walk interrupted at any
// point can simply be re-run.
//
// Another process instance may still hold the write lock when we start,
// so Migrate sleeps a short grace period first and then retries a locked
// database a bounded number of times with a growing delay.
func (s *Store) Migrate(ctx context.Context) error {
	if s.StartupGrace > 0 {
		select {
		case <-time.After(s.StartupGrace):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var lastErr error
	for attempt := 1; attempt <= s.LockRetries; attempt++ {
		lastErr = s.migrateOnce(ctx)
		if lastErr == nil {
			return nil
		}
		if !isLockError(lastErr) {
			return lastErr
		}
		log.Printf("⚠️ Database locked during migration (attempt %d/%d), retrying...", attempt, s.LockRetries)
		select {
		case <-time.After(s.RetryBaseDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("database still locked after %d attempts: %w", s.LockRetries, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (s *Store) migrateOnce(ctx context.Context) error {
	version, err := s.userVersion(ctx)
	if err != nil {
		return err
	}

	if version < SchemaVersion {
		log.Printf("🔄 Migrating device schema from version %d to %d", version, SchemaVersion)
	}

	steps := []struct {
		version int
		apply   func(context.Context) error
	}{
		{1, s.migrateV1},
		{2, s.migrateV2},
		{3, s.migrateV3},
		{4, s.migrateV4},
		{5, s.migrateV5},
		{6, s.migrateV6},
		{7, s.migrateV7},
		{8, s.migrateV8},
		{9, s.migrateV9},
		{10, s.migrateV10},
	}

	for _, step := range steps {
		if version >= step.version {
			continue
		}
		if err := step.apply(ctx); err != nil {
			return fmt.Errorf("migrate to version %d: %w", step.version, err)
		}
		if err := s.setUserVersion(ctx, step.version); err != nil {
			return err
		}
		version = step.version
	}

	// Final safety net: devices in the field have reached version 10 with
	// columns missing after partial upgrades, so verify the columns the
	// code depends on and re-add any that are absent.
	if err := s.verifyAssetColumns(ctx); err != nil {
		return err
	}

	return s.setUserVersion(ctx, SchemaVersion)
}

func (s *Store) userVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

func (s *Store) setUserVersion(ctx context.Context, v int) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("set user_version = %d: %w", v, err)
	}
	return nil
}

// addColumn adds a column, treating "already exists" as success so
// re-running a step on a partially migrated database is harmless.
func (s *Store) addColumn(ctx context.Context, table, definition string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, definition))
	if err != nil && strings.Contains(err.Error(), "duplicate column") {
		return nil
	}
	return err
}

func (s *Store) execAll(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w (statement: %s)", err, strings.Join(strings.Fields(stmt), " "))
		}
	}
	return nil
}

// Version 1: the original single-table schema.
func (s *Store) migrateV1(ctx context.Context) error {
	return s.execAll(ctx,
		`CREATE TABLE IF NOT EXISTS assets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			building TEXT DEFAULT '',
			level TEXT DEFAULT '',
			created_at TEXT DEFAULT (`+sqliteNow+`)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_code ON assets(code)`,
	)
}

// Version 2: free-text category on assets.
func (s *Store) migrateV2(ctx context.Context) error {
	return s.addColumn(ctx, "assets", "category TEXT DEFAULT ''")
}

// Version 3: areas and audit sessions.
func (s *Store) migrateV3(ctx context.Context) error {
	if err := s.addColumn(ctx, "assets", "area TEXT DEFAULT ''"); err != nil {
		return err
	}
	return s.execAll(ctx,
		`CREATE TABLE IF NOT EXISTS audit_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			area TEXT DEFAULT '',
			date TEXT DEFAULT '',
			total_expected INTEGER DEFAULT 0,
			total_scanned INTEGER DEFAULT 0,
			total_missing INTEGER DEFAULT 0,
			total_surplus INTEGER DEFAULT 0,
			scanned_codes TEXT DEFAULT '[]',
			missing_codes TEXT DEFAULT '[]',
			surplus_codes TEXT DEFAULT '[]',
			status TEXT DEFAULT 'in_progress',
			notes TEXT DEFAULT '',
			created_at TEXT DEFAULT (`+sqliteNow+`)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_sessions_area ON audit_sessions(area)`,
	)
}

// Version 4: cross-device identity. Every row gets a sync id and an
// update timestamp, and the sync_config key/value table appears.
func (s *Store) migrateV4(ctx context.Context) error {
	for _, table := range []string{"assets", "audit_sessions"} {
		if err := s.addColumn(ctx, table, "sync_id TEXT"); err != nil {
			return err
		}
		if err := s.addColumn(ctx, table, "updated_at TEXT"); err != nil {
			return err
		}
		if err := s.execAll(ctx,
			`UPDATE `+table+` SET sync_id = `+sqliteUUID+` WHERE sync_id IS NULL OR sync_id = ''`,
			`UPDATE `+table+` SET updated_at = `+sqliteNow+` WHERE updated_at IS NULL OR updated_at = ''`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_`+table+`_sync_id ON `+table+`(sync_id)`,
		); err != nil {
			return err
		}
	}
	return s.execAll(ctx,
		`CREATE TABLE IF NOT EXISTS sync_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	)
}

// Version 5: floor plans and asset positions. Positions reference the
// asset by business code and the plan by sync id so they stay valid on
// any device.
func (s *Store) migrateV5(ctx context.Context) error {
	if err := s.execAll(ctx,
		`CREATE TABLE IF NOT EXISTS floor_plans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sync_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			image_path TEXT DEFAULT '',
			updated_at TEXT DEFAULT (`+sqliteNow+`),
			created_at TEXT DEFAULT (`+sqliteNow+`)
		)`,
		`CREATE TABLE IF NOT EXISTS asset_positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			asset_code TEXT NOT NULL,
			plan_sync_id TEXT NOT NULL,
			x REAL NOT NULL DEFAULT 0,
			y REAL NOT NULL DEFAULT 0,
			updated_at TEXT DEFAULT (`+sqliteNow+`),
			UNIQUE(asset_code, plan_sync_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_asset_positions_plan ON asset_positions(plan_sync_id)`,
	); err != nil {
		return err
	}
	return s.addColumn(ctx, "audit_sessions", "plan_sync_id TEXT")
}

// Version 6: the location tree. Pre-tree assets carry flat
// building/level/area strings; this step rebuilds the tree from them and
// links each asset to its leaf.
func (s *Store) migrateV6(ctx context.Context) error {
	if err := s.execAll(ctx,
		`CREATE TABLE IF NOT EXISTS locations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sync_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('site', 'level', 'area')),
			parent_id INTEGER,
			updated_at TEXT DEFAULT (`+sqliteNow+`),
			created_at TEXT DEFAULT (`+sqliteNow+`)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_locations_parent ON locations(parent_id)`,
	); err != nil {
		return err
	}
	if err := s.addColumn(ctx, "assets", "location_sync_id TEXT"); err != nil {
		return err
	}
	if err := s.addColumn(ctx, "floor_plans", "location_sync_id TEXT"); err != nil {
		return err
	}
	return s.rebuildLocationTree(ctx)
}

// rebuildLocationTree materializes site/level/area nodes from the flat
// asset fields and points each asset at the deepest node it has data for.
func (s *Store) rebuildLocationTree(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT building, level, area FROM assets
		WHERE building <> '' AND (location_sync_id IS NULL OR location_sync_id = '')`)
	if err != nil {
		return err
	}
	type triple struct{ building, level, area string }
	var triples []triple
	for rows.Next() {
		var t triple
		if err := rows.Scan(&t.building, &t.level, &t.area); err != nil {
			rows.Close()
			return err
		}
		triples = append(triples, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	ensure := func(name, typ string, parentID sql.NullInt64) (int64, string, error) {
		var id int64
		var syncID string
		query := `SELECT id, sync_id FROM locations WHERE name = ? AND type = ? AND parent_id IS ?`
		err := s.db.QueryRowContext(ctx, query, name, typ, parentID).Scan(&id, &syncID)
		if err == nil {
			return id, syncID, nil
		}
		if err != sql.ErrNoRows {
			return 0, "", err
		}
		syncID = uuid.New().String()
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO locations (sync_id, name, type, parent_id) VALUES (?, ?, ?, ?)`,
			syncID, name, typ, parentID)
		if err != nil {
			return 0, "", err
		}
		id, err = res.LastInsertId()
		return id, syncID, err
	}

	for _, t := range triples {
		siteID, siteSync, err := ensure(t.building, "site", sql.NullInt64{})
		if err != nil {
			return err
		}
		leafSync := siteSync
		if t.level != "" {
			levelID, levelSync, err := ensure(t.level, "level", sql.NullInt64{Int64: siteID, Valid: true})
			if err != nil {
				return err
			}
			leafSync = levelSync
			if t.area != "" {
				_, areaSync, err := ensure(t.area, "area", sql.NullInt64{Int64: levelID, Valid: true})
				if err != nil {
					return err
				}
				leafSync = areaSync
			}
		}
		if _, err := s.db.ExecContext(ctx, `
			UPDATE assets SET location_sync_id = ?
			WHERE building = ? AND level = ? AND area = ?
			  AND (location_sync_id IS NULL OR location_sync_id = '')`,
			leafSync, t.building, t.level, t.area); err != nil {
			return err
		}
	}
	return nil
}

// Version 7: first-class categories. Existing free-text category names
// become rows and assets link to them by sync id.
func (s *Store) migrateV7(ctx context.Context) error {
	if err := s.execAll(ctx,
		`CREATE TABLE IF NOT EXISTS categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sync_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT DEFAULT '',
			icon TEXT DEFAULT '',
			color TEXT DEFAULT '',
			parent_sync_id TEXT,
			updated_at TEXT DEFAULT (`+sqliteNow+`),
			created_at TEXT DEFAULT (`+sqliteNow+`)
		)`,
	); err != nil {
		return err
	}
	if err := s.execAll(ctx,
		// NOT IN rather than OR IGNORE: there is no unique index on name,
		// so the guard has to be explicit to stay idempotent.
		`INSERT INTO categories (sync_id, name)
			SELECT `+sqliteUUID+`, category FROM (
				SELECT DISTINCT category FROM assets
				WHERE category <> '' AND category NOT IN (SELECT name FROM categories)
			)`,
	); err != nil {
		return err
	}
	if err := s.addColumn(ctx, "assets", "category_sync_id TEXT"); err != nil {
		return err
	}
	return s.execAll(ctx,
		`UPDATE assets SET category_sync_id = (
			SELECT sync_id FROM categories WHERE categories.name = assets.category
		) WHERE category <> '' AND (category_sync_id IS NULL OR category_sync_id = '')`,
	)
}

// Version 8: serial numbers.
func (s *Store) migrateV8(ctx context.Context) error {
	return s.addColumn(ctx, "assets", "serial TEXT DEFAULT ''")
}

// Version 9: re-issues the serial column. Some version-8 builds shipped
// without it; addColumn makes this a no-op everywhere else.
func (s *Store) migrateV9(ctx context.Context) error {
	return s.addColumn(ctx, "assets", "serial TEXT DEFAULT ''")
}

// Version 10: tombstones on every synced table.
func (s *Store) migrateV10(ctx context.Context) error {
	for _, table := range []string{"assets", "audit_sessions", "categories", "floor_plans"} {
		if err := s.addColumn(ctx, table, "deleted INTEGER DEFAULT 0"); err != nil {
			return err
		}
	}
	return nil
}

// verifyAssetColumns inspects the live assets schema and re-adds the
// columns later code paths cannot run without.
func (s *Store) verifyAssetColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(assets)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	have := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return err
		}
		have[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !have["serial"] {
		log.Printf("⚠️ assets.serial missing after migration, re-adding")
		if err := s.addColumn(ctx, "assets", "serial TEXT DEFAULT ''"); err != nil {
			return err
		}
	}
	if !have["deleted"] {
		log.Printf("⚠️ assets.deleted missing after migration, re-adding")
		if err := s.addColumn(ctx, "assets", "deleted INTEGER DEFAULT 0"); err != nil {
			return err
		}
	}
	return nil
}
