package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// FloorPlan is a device-local plan image assets can be pinned onto.
type FloorPlan struct {
	ID             int64
	SyncID         string
	Name           string
	ImagePath      string
	LocationSyncID *string
	UpdatedAt      string
	Deleted        bool
	CreatedAt      string
}

// AssetPosition pins an asset onto a floor plan. The asset is referenced
// by business code and the plan by sync id, so positions survive being
// copied between devices.
type AssetPosition struct {
	ID         int64
	AssetCode  string
	PlanSyncID string
	X          float64
	Y          float64
	UpdatedAt  string
}

// CreateFloorPlan inserts a new plan.
func (s *Store) CreateFloorPlan(ctx context.Context, p *FloorPlan) error {
	if p.SyncID == "" {
		p.SyncID = uuid.New().String()
	}
	now := s.Now()
	p.UpdatedAt = now
	p.CreatedAt = now

	res, err := s.execContext(ctx, `
		INSERT INTO floor_plans (sync_id, name, image_path, location_sync_id,
			updated_at, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		p.SyncID, p.Name, p.ImagePath, p.LocationSyncID, p.UpdatedAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create floor plan %q: %w", p.Name, err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// ListFloorPlans returns all live plans ordered by name.
func (s *Store) ListFloorPlans(ctx context.Context) ([]*FloorPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sync_id, name, image_path, location_sync_id, updated_at, deleted, created_at
		FROM floor_plans WHERE deleted = 0 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*FloorPlan
	for rows.Next() {
		var p FloorPlan
		var deleted int
		if err := rows.Scan(&p.ID, &p.SyncID, &p.Name, &p.ImagePath, &p.LocationSyncID,
			&p.UpdatedAt, &deleted, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Deleted = deleted != 0
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}

// SaveAssetPosition places or moves an asset on a plan.
func (s *Store) SaveAssetPosition(ctx context.Context, pos *AssetPosition) error {
	pos.UpdatedAt = s.Now()
	_, err := s.execContext(ctx, `
		INSERT INTO asset_positions (asset_code, plan_sync_id, x, y, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(asset_code, plan_sync_id)
		DO UPDATE SET x = excluded.x, y = excluded.y, updated_at = excluded.updated_at`,
		pos.AssetCode, pos.PlanSyncID, pos.X, pos.Y, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save position for %s on %s: %w", pos.AssetCode, pos.PlanSyncID, err)
	}
	return nil
}

// PlanPositions returns every position on a plan.
func (s *Store) PlanPositions(ctx context.Context, planSyncID string) ([]*AssetPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset_code, plan_sync_id, x, y, updated_at
		FROM asset_positions WHERE plan_sync_id = ? ORDER BY asset_code`, planSyncID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*AssetPosition
	for rows.Next() {
		var p AssetPosition
		if err := rows.Scan(&p.ID, &p.AssetCode, &p.PlanSyncID, &p.X, &p.Y, &p.UpdatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}

// RemoveAssetPosition deletes an asset's pin from a plan.
func (s *Store) RemoveAssetPosition(ctx context.Context, assetCode, planSyncID string) error {
	res, err := s.execContext(ctx,
		`DELETE FROM asset_positions WHERE asset_code = ? AND plan_sync_id = ?`,
		assetCode, planSyncID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
