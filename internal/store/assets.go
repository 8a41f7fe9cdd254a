package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Asset is the device-side asset row. Timestamps are canonical-layout
// strings (see TimeLayout); the JSON tags match the server wire format.
type Asset struct {
	ID             int64   `json:"id"`
	SyncID         string  `json:"sync_id"`
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	Building       string  `json:"building"`
	Level          string  `json:"level"`
	Category       string  `json:"category"`
	Area           string  `json:"area"`
	Serial         string  `json:"serial"`
	CategorySyncID *string `json:"category_sync_id,omitempty"`
	LocationSyncID *string `json:"location_sync_id,omitempty"`
	UpdatedAt      string  `json:"updated_at"`
	Deleted        bool    `json:"deleted"`
	CreatedAt      string  `json:"created_at"`
}

const assetColumns = `id, sync_id, code, name, building, level, category, area, serial,
	category_sync_id, location_sync_id, updated_at, deleted, created_at`

func scanAsset(row interface{ Scan(...interface{}) error }) (*Asset, error) {
	var a Asset
	var deleted int
	err := row.Scan(&a.ID, &a.SyncID, &a.Code, &a.Name, &a.Building, &a.Level,
		&a.Category, &a.Area, &a.Serial, &a.CategorySyncID, &a.LocationSyncID,
		&a.UpdatedAt, &deleted, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Deleted = deleted != 0
	return &a, nil
}

// CreateAsset inserts a new asset, assigning its sync id and timestamps.
func (s *Store) CreateAsset(ctx context.Context, a *Asset) error {
	if a.SyncID == "" {
		a.SyncID = uuid.New().String()
	}
	now := s.Now()
	a.UpdatedAt = now
	a.CreatedAt = now
	a.Deleted = false

	res, err := s.execContext(ctx, `
		INSERT INTO assets (sync_id, code, name, building, level, category, area, serial,
			category_sync_id, location_sync_id, updated_at, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		a.SyncID, a.Code, a.Name, a.Building, a.Level, a.Category, a.Area, a.Serial,
		a.CategorySyncID, a.LocationSyncID, a.UpdatedAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create asset %s: %w", a.Code, err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// UpdateAsset persists local edits and bumps the update timestamp so the
// row is picked up by the next upload.
func (s *Store) UpdateAsset(ctx context.Context, a *Asset) error {
	a.UpdatedAt = s.Now()
	res, err := s.execContext(ctx, `
		UPDATE assets SET code = ?, name = ?, building = ?, level = ?, category = ?,
			area = ?, serial = ?, category_sync_id = ?, location_sync_id = ?, updated_at = ?
		WHERE sync_id = ?`,
		a.Code, a.Name, a.Building, a.Level, a.Category, a.Area, a.Serial,
		a.CategorySyncID, a.LocationSyncID, a.UpdatedAt, a.SyncID)
	if err != nil {
		return fmt.Errorf("update asset %s: %w", a.SyncID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAsset tombstones the asset. The row stays in place so the next
// upload propagates the deletion.
func (s *Store) DeleteAsset(ctx context.Context, syncID string) error {
	res, err := s.execContext(ctx,
		`UPDATE assets SET deleted = 1, updated_at = ? WHERE sync_id = ?`,
		s.Now(), syncID)
	if err != nil {
		return fmt.Errorf("delete asset %s: %w", syncID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAssetBySyncID returns the asset, tombstoned or not.
func (s *Store) GetAssetBySyncID(ctx context.Context, syncID string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE sync_id = ?`, syncID)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// GetAssetByCode returns the live asset with the given business code.
func (s *Store) GetAssetByCode(ctx context.Context, code string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE code = ? AND deleted = 0`, code)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAssets returns all live assets ordered by code.
func (s *Store) ListAssets(ctx context.Context) ([]*Asset, error) {
	return s.queryAssets(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE deleted = 0 ORDER BY code`)
}

// AssetsChangedSince returns every asset, tombstones included, modified
// after the given watermark. An empty watermark means everything.
func (s *Store) AssetsChangedSince(ctx context.Context, watermark string) ([]*Asset, error) {
	if watermark == "" {
		return s.queryAssets(ctx,
			`SELECT `+assetColumns+` FROM assets ORDER BY updated_at`)
	}
	return s.queryAssets(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE updated_at > ? ORDER BY updated_at`,
		watermark)
}

func (s *Store) queryAssets(ctx context.Context, query string, args ...interface{}) ([]*Asset, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// ApplyRemoteAsset merges a downloaded asset into the local database.
// Unknown sync ids are inserted; known ones are overwritten only when the
// remote timestamp is strictly newer, so a concurrent local edit with the
// same timestamp survives and will be uploaded next round.
func (s *Store) ApplyRemoteAsset(ctx context.Context, remote *Asset) error {
	remoteAt, err := ParseTime(remote.UpdatedAt)
	if err != nil {
		return err
	}
	normalized := FormatTime(remoteAt)

	existing, err := s.GetAssetBySyncID(ctx, remote.SyncID)
	if err == ErrNotFound {
		createdAt := remote.CreatedAt
		if createdAt == "" {
			createdAt = normalized
		} else if t, err := ParseTime(createdAt); err == nil {
			createdAt = FormatTime(t)
		}
		deleted := 0
		if remote.Deleted {
			deleted = 1
		}
		_, err := s.execContext(ctx, `
			INSERT INTO assets (sync_id, code, name, building, level, category, area, serial,
				category_sync_id, location_sync_id, updated_at, deleted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			remote.SyncID, remote.Code, remote.Name, remote.Building, remote.Level,
			remote.Category, remote.Area, remote.Serial,
			remote.CategorySyncID, remote.LocationSyncID, normalized, deleted, createdAt)
		if err != nil {
			return fmt.Errorf("apply remote asset %s: %w", remote.SyncID, err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	localAt, err := ParseTime(existing.UpdatedAt)
	if err != nil {
		return err
	}
	if !remoteAt.After(localAt) {
		return nil
	}

	deleted := 0
	if remote.Deleted {
		deleted = 1
	}
	_, err = s.execContext(ctx, `
		UPDATE assets SET code = ?, name = ?, building = ?, level = ?, category = ?,
			area = ?, serial = ?, category_sync_id = ?, location_sync_id = ?,
			updated_at = ?, deleted = ?
		WHERE sync_id = ?`,
		remote.Code, remote.Name, remote.Building, remote.Level, remote.Category,
		remote.Area, remote.Serial, remote.CategorySyncID, remote.LocationSyncID,
		normalized, deleted, remote.SyncID)
	if err != nil {
		return fmt.Errorf("apply remote asset %s: %w", remote.SyncID, err)
	}
	return nil
}
