package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Audit session status values.
const (
	AuditStatusInProgress = "in_progress"
	AuditStatusCompleted  = "completed"
)

// AuditSession is the device-side audit row. The code lists are stored
// as JSON arrays in TEXT columns and reference assets by business code.
type AuditSession struct {
	ID            int64    `json:"id"`
	SyncID        string   `json:"sync_id"`
	Area          string   `json:"area"`
	Date          string   `json:"date"`
	TotalExpected int      `json:"total_expected"`
	TotalScanned  int      `json:"total_scanned"`
	TotalMissing  int      `json:"total_missing"`
	TotalSurplus  int      `json:"total_surplus"`
	ScannedCodes  []string `json:"scanned_codes"`
	MissingCodes  []string `json:"missing_codes"`
	SurplusCodes  []string `json:"surplus_codes"`
	Status        string   `json:"status"`
	Notes         string   `json:"notes"`
	PlanSyncID    *string  `json:"plan_sync_id,omitempty"`
	UpdatedAt     string   `json:"updated_at"`
	Deleted       bool     `json:"deleted"`
	CreatedAt     string   `json:"created_at"`
}

const auditColumns = `id, sync_id, area, date, total_expected, total_scanned, total_missing,
	total_surplus, scanned_codes, missing_codes, surplus_codes, status, notes, plan_sync_id,
	updated_at, deleted, created_at`

func encodeCodes(codes []string) (string, error) {
	if codes == nil {
		codes = []string{}
	}
	b, err := json.Marshal(codes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCodes(raw string, dst *[]string) error {
	if raw == "" {
		*dst = []string{}
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func scanAudit(row interface{ Scan(...interface{}) error }) (*AuditSession, error) {
	var a AuditSession
	var deleted int
	var scanned, missing, surplus string
	err := row.Scan(&a.ID, &a.SyncID, &a.Area, &a.Date, &a.TotalExpected, &a.TotalScanned,
		&a.TotalMissing, &a.TotalSurplus, &scanned, &missing, &surplus, &a.Status,
		&a.Notes, &a.PlanSyncID, &a.UpdatedAt, &deleted, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Deleted = deleted != 0
	if err := decodeCodes(scanned, &a.ScannedCodes); err != nil {
		return nil, fmt.Errorf("audit %s: decode scanned codes: %w", a.SyncID, err)
	}
	if err := decodeCodes(missing, &a.MissingCodes); err != nil {
		return nil, fmt.Errorf("audit %s: decode missing codes: %w", a.SyncID, err)
	}
	if err := decodeCodes(surplus, &a.SurplusCodes); err != nil {
		return nil, fmt.Errorf("audit %s: decode surplus codes: %w", a.SyncID, err)
	}
	return &a, nil
}

// CreateAudit inserts a new audit session, assigning its sync id.
func (s *Store) CreateAudit(ctx context.Context, a *AuditSession) error {
	if a.SyncID == "" {
		a.SyncID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = AuditStatusInProgress
	}
	now := s.Now()
	a.UpdatedAt = now
	a.CreatedAt = now
	a.Deleted = false

	scanned, err := encodeCodes(a.ScannedCodes)
	if err != nil {
		return err
	}
	missing, err := encodeCodes(a.MissingCodes)
	if err != nil {
		return err
	}
	surplus, err := encodeCodes(a.SurplusCodes)
	if err != nil {
		return err
	}

	res, err := s.execContext(ctx, `
		INSERT INTO audit_sessions (sync_id, area, date, total_expected, total_scanned,
			total_missing, total_surplus, scanned_codes, missing_codes, surplus_codes,
			status, notes, plan_sync_id, updated_at, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		a.SyncID, a.Area, a.Date, a.TotalExpected, a.TotalScanned, a.TotalMissing,
		a.TotalSurplus, scanned, missing, surplus, a.Status, a.Notes, a.PlanSyncID,
		a.UpdatedAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit for area %q: %w", a.Area, err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// UpdateAudit persists local edits and bumps the update timestamp.
func (s *Store) UpdateAudit(ctx context.Context, a *AuditSession) error {
	a.UpdatedAt = s.Now()

	scanned, err := encodeCodes(a.ScannedCodes)
	if err != nil {
		return err
	}
	missing, err := encodeCodes(a.MissingCodes)
	if err != nil {
		return err
	}
	surplus, err := encodeCodes(a.SurplusCodes)
	if err != nil {
		return err
	}

	res, err := s.execContext(ctx, `
		UPDATE audit_sessions SET area = ?, date = ?, total_expected = ?, total_scanned = ?,
			total_missing = ?, total_surplus = ?, scanned_codes = ?, missing_codes = ?,
			surplus_codes = ?, status = ?, notes = ?, plan_sync_id = ?, updated_at = ?
		WHERE sync_id = ?`,
		a.Area, a.Date, a.TotalExpected, a.TotalScanned, a.TotalMissing, a.TotalSurplus,
		scanned, missing, surplus, a.Status, a.Notes, a.PlanSyncID, a.UpdatedAt, a.SyncID)
	if err != nil {
		return fmt.Errorf("update audit %s: %w", a.SyncID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAudit tombstones the audit session.
func (s *Store) DeleteAudit(ctx context.Context, syncID string) error {
	res, err := s.execContext(ctx,
		`UPDATE audit_sessions SET deleted = 1, updated_at = ? WHERE sync_id = ?`,
		s.Now(), syncID)
	if err != nil {
		return fmt.Errorf("delete audit %s: %w", syncID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAuditBySyncID returns the audit session, tombstoned or not.
func (s *Store) GetAuditBySyncID(ctx context.Context, syncID string) (*AuditSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_sessions WHERE sync_id = ?`, syncID)
	a, err := scanAudit(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAudits returns all live audit sessions, newest first.
func (s *Store) ListAudits(ctx context.Context) ([]*AuditSession, error) {
	return s.queryAudits(ctx,
		`SELECT `+auditColumns+` FROM audit_sessions WHERE deleted = 0 ORDER BY created_at DESC`)
}

// AuditsChangedSince returns every audit session, tombstones included,
// modified after the given watermark.
func (s *Store) AuditsChangedSince(ctx context.Context, watermark string) ([]*AuditSession, error) {
	if watermark == "" {
		return s.queryAudits(ctx,
			`SELECT `+auditColumns+` FROM audit_sessions ORDER BY updated_at`)
	}
	return s.queryAudits(ctx,
		`SELECT `+auditColumns+` FROM audit_sessions WHERE updated_at > ? ORDER BY updated_at`,
		watermark)
}

func (s *Store) queryAudits(ctx context.Context, query string, args ...interface{}) ([]*AuditSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*AuditSession
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// ApplyRemoteAudit merges a downloaded audit session, strictly-newer wins.
func (s *Store) ApplyRemoteAudit(ctx context.Context, remote *AuditSession) error {
	remoteAt, err := ParseTime(remote.UpdatedAt)
	if err != nil {
		return err
	}
	normalized := FormatTime(remoteAt)
	deleted := 0
	if remote.Deleted {
		deleted = 1
	}

	scanned, err := encodeCodes(remote.ScannedCodes)
	if err != nil {
		return err
	}
	missing, err := encodeCodes(remote.MissingCodes)
	if err != nil {
		return err
	}
	surplus, err := encodeCodes(remote.SurplusCodes)
	if err != nil {
		return err
	}

	existing, err := s.GetAuditBySyncID(ctx, remote.SyncID)
	if err == ErrNotFound {
		createdAt := remote.CreatedAt
		if createdAt == "" {
			createdAt = normalized
		} else if t, err := ParseTime(createdAt); err == nil {
			createdAt = FormatTime(t)
		}
		_, err := s.execContext(ctx, `
			INSERT INTO audit_sessions (sync_id, area, date, total_expected, total_scanned,
				total_missing, total_surplus, scanned_codes, missing_codes, surplus_codes,
				status, notes, plan_sync_id, updated_at, deleted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			remote.SyncID, remote.Area, remote.Date, remote.TotalExpected, remote.TotalScanned,
			remote.TotalMissing, remote.TotalSurplus, scanned, missing, surplus,
			remote.Status, remote.Notes, remote.PlanSyncID, normalized, deleted, createdAt)
		if err != nil {
			return fmt.Errorf("apply remote audit %s: %w", remote.SyncID, err)
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
		UPDATE audit_sessions SET area = ?, date = ?, total_expected = ?, total_scanned = ?,
			total_missing = ?, total_surplus = ?, scanned_codes = ?, missing_codes = ?,
			surplus_codes = ?, status = ?, notes = ?, plan_sync_id = ?, updated_at = ?, deleted = ?
		WHERE sync_id = ?`,
		remote.Area, remote.Date, remote.TotalExpected, remote.TotalScanned,
		remote.TotalMissing, remote.TotalSurplus, scanned, missing, surplus,
		remote.Status, remote.Notes, remote.PlanSyncID, normalized, deleted, remote.SyncID)
	if err != nil {
		return fmt.Errorf("apply remote audit %s: %w", remote.SyncID, err)
	}
	return nil
}
