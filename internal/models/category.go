package models

import (
	"time"
)

// Category is a node in the category tree. ParentSyncID references the
// parent node by its sync id so the tree survives synchronization across
// devices (local row ids are not portable).
type Category struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SyncID       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"sync_id"`
	Name         string    `gorm:"not null" json:"name"`
	Description  string    `json:"description"`
	Icon         string    `json:"icon"`
	Color        string    `json:"color"`
	ParentSyncID *string   `gorm:"type:varchar(64);index" json:"parent_sync_id,omitempty"`
	UpdatedAt    time.Time `gorm:"index;autoUpdateTime:false" json:"updated_at"`
	Deleted      bool      `gorm:"default:false;index" json:"deleted"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for Category model
func (Category) TableName() string {
	return "categories"
}
