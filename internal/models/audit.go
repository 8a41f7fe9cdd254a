package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit session status values
const (
	AuditStatusInProgress = "in_progress"
	AuditStatusCompleted  = "completed"
)

// AuditSession is a snapshot of one physical inventory audit of an area.
//
// The three code lists reference assets by their business code, not by any
// row id, so the snapshot stays meaningful on every device it syncs to.
type AuditSession struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	SyncID        string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"sync_id"`
	Area          string         `gorm:"index" json:"area"`
	Date          string         `gorm:"index" json:"date"`
	TotalExpected int            `gorm:"default:0" json:"total_expected"`
	TotalScanned  int            `gorm:"default:0" json:"total_scanned"`
	TotalMissing  int            `gorm:"default:0" json:"total_missing"`
	TotalSurplus  int            `gorm:"default:0" json:"total_surplus"`
	ScannedCodes  datatypes.JSON `json:"scanned_codes"`
	MissingCodes  datatypes.JSON `json:"missing_codes"`
	SurplusCodes  datatypes.JSON `json:"surplus_codes"`
	Status        string         `gorm:"type:varchar(50);default:'in_progress'" json:"status"`
	Notes         string         `json:"notes"`
	PlanSyncID    *string        `gorm:"type:varchar(64)" json:"plan_sync_id,omitempty"`
	UpdatedAt     time.Time      `gorm:"index;autoUpdateTime:false" json:"updated_at"`
	Deleted       bool           `gorm:"default:false;index" json:"deleted"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TableName specifies the table name for AuditSession model
func (AuditSession) TableName() string {
	return "audit_sessions"
}
