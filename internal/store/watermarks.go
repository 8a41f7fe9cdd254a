package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Watermark directions. Upload and download advance independently so a
// failed phase in one direction never skips rows in the other.
const (
	DirectionUpload   = "last_upload"
	DirectionDownload = "last_download"
)

// legacySyncKey is the single shared watermark older builds kept. It is
// read as a fallback so upgrading a device does not re-transfer history.
const legacySyncKey = "last_sync"

// Watermark returns the stored cursor for an entity and direction, or ""
// when the device has never synced that pair.
func (s *Store) Watermark(ctx context.Context, entity, direction string) (string, error) {
	value, err := s.configGet(ctx, entity+"."+direction)
	if err != nil {
		return "", err
	}
	if value != "" {
		return value, nil
	}
	return s.configGet(ctx, legacySyncKey)
}

// SetWatermark stores the cursor for an entity and direction.
func (s *Store) SetWatermark(ctx context.Context, entity, direction, value string) error {
	return s.configSet(ctx, entity+"."+direction, value)
}

// ResetWatermarks clears every cursor, forcing the next sync to be full.
func (s *Store) ResetWatermarks(ctx context.Context) error {
	_, err := s.execContext(ctx,
		`DELETE FROM sync_config WHERE key = ? OR key LIKE '%.' || ? OR key LIKE '%.' || ?`,
		legacySyncKey, DirectionUpload, DirectionDownload)
	return err
}

func (s *Store) configGet(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read sync config %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) configSet(ctx context.Context, key, value string) error {
	_, err := s.execContext(ctx, `
		INSERT INTO sync_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("write sync config %q: %w", key, err)
	}
	return nil
}
