package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Category is the device-side category row.
type Category struct {
	ID           int64   `json:"id"`
	SyncID       string  `json:"sync_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Icon         string  `json:"icon"`
	Color        string  `json:"color"`
	ParentSyncID *string `json:"parent_sync_id,omitempty"`
	UpdatedAt    string  `json:"updated_at"`
	Deleted      bool    `json:"deleted"`
	CreatedAt    string  `json:"created_at"`
}

const categoryColumns = `id, sync_id, name, description, icon, color, parent_sync_id,
	updated_at, deleted, created_at`

func scanCategory(row interface{ Scan(...interface{}) error }) (*Category, error) {
	var c Category
	var deleted int
	err := row.Scan(&c.ID, &c.SyncID, &c.Name, &c.Description, &c.Icon, &c.Color,
		&c.ParentSyncID, &c.UpdatedAt, &deleted, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Deleted = deleted != 0
	return &c, nil
}

// CreateCategory inserts a new category, assigning its sync id.
func (s *Store) CreateCategory(ctx context.Context, c *Category) error {
	if c.SyncID == "" {
		c.SyncID = uuid.New().String()
	}
	now := s.Now()
	c.UpdatedAt = now
	c.CreatedAt = now
	c.Deleted = false

	res, err := s.execContext(ctx, `
		INSERT INTO categories (sync_id, name, description, icon, color, parent_sync_id,
			updated_at, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		c.SyncID, c.Name, c.Description, c.Icon, c.Color, c.ParentSyncID,
		c.UpdatedAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create category %s: %w", c.Name, err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// UpdateCategory persists local edits and bumps the update timestamp.
func (s *Store) UpdateCategory(ctx context.Context, c *Category) error {
	c.UpdatedAt = s.Now()
	res, err := s.execContext(ctx, `
		UPDATE categories SET name = ?, description = ?, icon = ?, color = ?,
			parent_sync_id = ?, updated_at = ?
		WHERE sync_id = ?`,
		c.Name, c.Description, c.Icon, c.Color, c.ParentSyncID, c.UpdatedAt, c.SyncID)
	if err != nil {
		return fmt.Errorf("update category %s: %w", c.SyncID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCategory tombstones the category.
func (s *Store) DeleteCategory(ctx context.Context, syncID string) error {
	res, err := s.execContext(ctx,
		`UPDATE categories SET deleted = 1, updated_at = ? WHERE sync_id = ?`,
		s.Now(), syncID)
	if err != nil {
		return fmt.Errorf("delete category %s: %w", syncID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCategoryBySyncID returns the category, tombstoned or not.
func (s *Store) GetCategoryBySyncID(ctx context.Context, syncID string) (*Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE sync_id = ?`, syncID)
	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCategories returns all live categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]*Category, error) {
	return s.queryCategories(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE deleted = 0 ORDER BY name`)
}

// CategoriesChangedSince returns every category, tombstones included,
// modified after the given watermark.
func (s *Store) CategoriesChangedSince(ctx context.Context, watermark string) ([]*Category, error) {
	if watermark == "" {
		return s.queryCategories(ctx,
			`SELECT `+categoryColumns+` FROM categories ORDER BY updated_at`)
	}
	return s.queryCategories(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE updated_at > ? ORDER BY updated_at`,
		watermark)
}

func (s *Store) queryCategories(ctx context.Context, query string, args ...interface{}) ([]*Category, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []*Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// ApplyRemoteCategory merges a downloaded category, strictly-newer wins.
func (s *Store) ApplyRemoteCategory(ctx context.Context, remote *Category) error {
	remoteAt, err := ParseTime(remote.UpdatedAt)
	if err != nil {
		return err
	}
	normalized := FormatTime(remoteAt)
	deleted := 0
	if remote.Deleted {
		deleted = 1
	}

	existing, err := s.GetCategoryBySyncID(ctx, remote.SyncID)
	if err == ErrNotFound {
		createdAt := remote.CreatedAt
		if createdAt == "" {
			createdAt = normalized
		} else if t, err := ParseTime(createdAt); err == nil {
			createdAt = FormatTime(t)
		}
		_, err := s.execContext(ctx, `
			INSERT INTO categories (sync_id, name, description, icon, color, parent_sync_id,
				updated_at, deleted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			remote.SyncID, remote.Name, remote.Description, remote.Icon, remote.Color,
			remote.ParentSyncID, normalized, deleted, createdAt)
		if err != nil {
			return fmt.Errorf("apply remote category %s: %w", remote.SyncID, err)
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

	_, err = s.execContext(ctx, `
		UPDATE categories SET name = ?, description = ?, icon = ?, color = ?,
			parent_sync_id = ?, updated_at = ?, deleted = ?
		WHERE sync_id = ?`,
		remote.Name, remote.Description, remote.Icon, remote.Color,
		remote.ParentSyncID, normalized, deleted, remote.SyncID)
	if err != nil {
		return fmt.Errorf("apply remote category %s: %w", remote.SyncID, err)
	}
	return nil
}
