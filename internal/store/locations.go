package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Location node types.
const (
	LocationTypeSite  = "site"
	LocationTypeLevel = "level"
	LocationTypeArea  = "area"
)

// Location is a node in the local location tree. The tree is device-local
// and never synchronized; assets reference their leaf node by sync id so
// asset rows stay portable even though the tree is not.
type Location struct {
	ID        int64
	SyncID    string
	Name      string
	Type      string
	ParentID  sql.NullInt64
	UpdatedAt string
	CreatedAt string
}

const locationColumns = `id, sync_id, name, type, parent_id, updated_at, created_at`

func scanLocation(row interface{ Scan(...interface{}) error }) (*Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.SyncID, &l.Name, &l.Type, &l.ParentID, &l.UpdatedAt, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLocation inserts a new tree node.
func (s *Store) CreateLocation(ctx context.Context, l *Location) error {
	if l.SyncID == "" {
		l.SyncID = uuid.New().String()
	}
	now := s.Now()
	l.UpdatedAt = now
	l.CreatedAt = now

	res, err := s.execContext(ctx, `
		INSERT INTO locations (sync_id, name, type, parent_id, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.SyncID, l.Name, l.Type, l.ParentID, l.UpdatedAt, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create location %q: %w", l.Name, err)
	}
	l.ID, err = res.LastInsertId()
	return err
}

// GetLocationBySyncID returns one tree node.
func (s *Store) GetLocationBySyncID(ctx context.Context, syncID string) (*Location, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE sync_id = ?`, syncID)
	l, err := scanLocation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return l, err
}

// ListLocations returns the whole tree ordered parent-first.
func (s *Store) ListLocations(ctx context.Context) ([]*Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations ORDER BY parent_id NULLS FIRST, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []*Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// LocationChildren returns the direct children of a node.
func (s *Store) LocationChildren(ctx context.Context, parentID int64) ([]*Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE parent_id = ? ORDER BY name`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []*Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}
