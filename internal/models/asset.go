package models

import (
	"time"
)

// Asset represents a tracked inventory asset.
//
// SyncID is the immutable cross-device identifier assigned once at creation.
// Code is the business asset code, unique among non-deleted rows. The flat
// Building/Level/Area fields are kept alongside the location reference for
// backward compatibility with pre-tree clients.
type Asset struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SyncID         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"sync_id"`
	Code           string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"`
	Name           string    `gorm:"not null" json:"name"`
	Building       string    `json:"building"`
	Level          string    `json:"level"`
	Category       string    `json:"category"`
	Area           string    `json:"area"`
	Serial         string    `json:"serial"`
	CategorySyncID *string   `gorm:"type:varchar(64);index" json:"category_sync_id,omitempty"`
	LocationSyncID *string   `gorm:"type:varchar(64);index" json:"location_sync_id,omitempty"`
	UpdatedAt      time.Time `gorm:"index;autoUpdateTime:false" json:"updated_at"`
	Deleted        bool      `gorm:"default:false;index" json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for Asset model
func (Asset) TableName() string {
	return "assets"
}
