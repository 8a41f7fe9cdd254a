package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/invtrack/invtrackgo/internal/database"
	"github.com/invtrack/invtrackgo/internal/models"
	"gorm.io/gorm"
)

// SyncHandler implements the merge endpoints the device agents talk to.
//
// Push batches are applied inside a single transaction with an
// upsert-by-sync-id policy: unknown sync ids are inserted, known ones are
// overwritten only when the incoming timestamp is at or after the stored
// one (last-write-wins). Any row failure rolls back the whole batch.
type SyncHandler struct {
	db *database.DB
}

// MergeResults reports how a push batch was applied
type MergeResults struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(db *database.DB) *SyncHandler {
	return &SyncHandler{db: db}
}

// RegisterRoutes registers sync routes
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/assets", sh.ListAssets).Methods("GET")
	r.HandleFunc("/api/assets/sync", sh.SyncAssets).Methods("POST")
	r.HandleFunc("/api/assets/{sync_id}", sh.GetAsset).Methods("GET")
	r.HandleFunc("/api/assets/{sync_id}", sh.DeleteAsset).Methods("DELETE")

	r.HandleFunc("/api/categories", sh.ListCategories).Methods("GET")
	r.HandleFunc("/api/categories/sync", sh.SyncCategories).Methods("POST")
	r.HandleFunc("/api/categories/{sync_id}", sh.DeleteCategory).Methods("DELETE")

	r.HandleFunc("/api/audits", sh.ListAudits).Methods("GET")
	r.HandleFunc("/api/audits/sync", sh.SyncAudits).Methods("POST")
	r.HandleFunc("/api/audits/{sync_id}", sh.DeleteAudit).Methods("DELETE")
}

// parseSince extracts and validates the ?since= cursor. An empty cursor
// means "everything".
func parseSince(r *http.Request) (*time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid since cursor %q: %w", raw, err)
	}
	return &t, nil
}

// changedQuery builds the pull query: non-tombstoned rows modified after
// the cursor, newest first.
func (sh *SyncHandler) changedQuery(since *time.Time) *gorm.DB {
	q := sh.db.Where("deleted = ?", false)
	if since != nil {
		q = q.Where("updated_at > ?", *since)
	}
	return q.Order("updated_at DESC")
}

// ==================== ASSETS ====================

// ListAssets returns assets changed after the given cursor, omitting
// tombstoned rows
func (sh *SyncHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var assets []models.Asset
	if err := sh.changedQuery(since).Find(&assets).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"data":        assets,
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetAsset resolves an asset by its sync id, including tombstoned rows.
// Tombstones are hidden from pulls, not erased.
func (sh *SyncHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var asset models.Asset
	err := sh.db.Where("sync_id = ?", vars["sync_id"]).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "asset not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    asset,
	})
}

// SyncAssets applies a push batch of assets in one transaction
func (sh *SyncHandler) SyncAssets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Assets []models.Asset `json:"assets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Assets == nil {
		respondError(w, http.StatusBadRequest, "an assets array is required")
		return
	}

	results := MergeResults{}
	err := sh.db.Transaction(func(tx *gorm.DB) error {
		for i := range req.Assets {
			incoming := &req.Assets[i]

			var existing models.Asset
			err := tx.Where("sync_id = ?", incoming.SyncID).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				// Local row ids never cross devices
				incoming.ID = 0
				incoming.Deleted = false
				if incoming.UpdatedAt.IsZero() {
					incoming.UpdatedAt = time.Now().UTC()
				}
				if err := tx.Create(incoming).Error; err != nil {
					return err
				}
				results.Inserted++

			case err != nil:
				return err

			default:
				if incoming.UpdatedAt.Before(existing.UpdatedAt) {
					// Stored version is newer, keep it
					continue
				}
				updates := map[string]interface{}{
					"code":             incoming.Code,
					"name":             incoming.Name,
					"building":         incoming.Building,
					"level":            incoming.Level,
					"category":         incoming.Category,
					"area":             incoming.Area,
					"serial":           incoming.Serial,
					"category_sync_id": incoming.CategorySyncID,
					"location_sync_id": incoming.LocationSyncID,
					"updated_at":       incoming.UpdatedAt,
					"deleted":          incoming.Deleted,
				}
				if err := tx.Model(&models.Asset{}).Where("sync_id = ?", incoming.SyncID).
					Updates(updates).Error; err != nil {
					return err
				}
				results.Updated++
			}
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": results,
	})
}

// DeleteAsset tombstones an asset so pull-based clients eventually
// observe the deletion
func (sh *SyncHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	sh.tombstone(w, r, &models.Asset{})
}

// ==================== CATEGORIES ====================

// ListCategories returns categories changed after the given cursor
func (sh *SyncHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var categories []models.Category
	if err := sh.changedQuery(since).Find(&categories).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    categories,
	})
}

// SyncCategories applies a push batch of categories in one transaction
func (sh *SyncHandler) SyncCategories(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Categories []models.Category `json:"categories"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Categories == nil {
		respondError(w, http.StatusBadRequest, "a categories array is required")
		return
	}

	results := MergeResults{}
	err := sh.db.Transaction(func(tx *gorm.DB) error {
		for i := range req.Categories {
			incoming := &req.Categories[i]

			var existing models.Category
			err := tx.Where("sync_id = ?", incoming.SyncID).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				incoming.ID = 0
				incoming.Deleted = false
				if incoming.UpdatedAt.IsZero() {
					incoming.UpdatedAt = time.Now().UTC()
				}
				if err := tx.Create(incoming).Error; err != nil {
					return err
				}
				results.Inserted++

			case err != nil:
				return err

			default:
				if incoming.UpdatedAt.Before(existing.UpdatedAt) {
					continue
				}
				updates := map[string]interface{}{
					"name":           incoming.Name,
					"description":    incoming.Description,
					"icon":           incoming.Icon,
					"color":          incoming.Color,
					"parent_sync_id": incoming.ParentSyncID,
					"updated_at":     incoming.UpdatedAt,
					"deleted":        incoming.Deleted,
				}
				if err := tx.Model(&models.Category{}).Where("sync_id = ?", incoming.SyncID).
					Updates(updates).Error; err != nil {
					return err
				}
				results.Updated++
			}
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": results,
	})
}

// DeleteCategory tombstones a category
func (sh *SyncHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	sh.tombstone(w, r, &models.Category{})
}

// ==================== AUDIT SESSIONS ====================

// ListAudits returns audit sessions changed after the given cursor
func (sh *SyncHandler) ListAudits(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var audits []models.AuditSession
	if err := sh.changedQuery(since).Find(&audits).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    audits,
	})
}

// SyncAudits applies a push batch of audit sessions in one transaction
func (sh *SyncHandler) SyncAudits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Audits []models.AuditSession `json:"audits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Audits == nil {
		respondError(w, http.StatusBadRequest, "an audits array is required")
		return
	}

	results := MergeResults{}
	err := sh.db.Transaction(func(tx *gorm.DB) error {
		for i := range req.Audits {
			incoming := &req.Audits[i]

			var existing models.AuditSession
			err := tx.Where("sync_id = ?", incoming.SyncID).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				incoming.ID = 0
				incoming.Deleted = false
				if incoming.UpdatedAt.IsZero() {
					incoming.UpdatedAt = time.Now().UTC()
				}
				if err := tx.Create(incoming).Error; err != nil {
					return err
				}
				results.Inserted++

			case err != nil:
				return err

			default:
				if incoming.UpdatedAt.Before(existing.UpdatedAt) {
					continue
				}
				updates := map[string]interface{}{
					"area":           incoming.Area,
					"date":           incoming.Date,
					"total_expected": incoming.TotalExpected,
					"total_scanned":  incoming.TotalScanned,
					"total_missing":  incoming.TotalMissing,
					"total_surplus":  incoming.TotalSurplus,
					"scanned_codes":  incoming.ScannedCodes,
					"missing_codes":  incoming.MissingCodes,
					"surplus_codes":  incoming.SurplusCodes,
					"status":         incoming.Status,
					"notes":          incoming.Notes,
					"plan_sync_id":   incoming.PlanSyncID,
					"updated_at":     incoming.UpdatedAt,
					"deleted":        incoming.Deleted,
				}
				if err := tx.Model(&models.AuditSession{}).Where("sync_id = ?", incoming.SyncID).
					Updates(updates).Error; err != nil {
					return err
				}
				results.Updated++
			}
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": results,
	})
}

// DeleteAudit tombstones an audit session
func (sh *SyncHandler) DeleteAudit(w http.ResponseWriter, r *http.Request) {
	sh.tombstone(w, r, &models.AuditSession{})
}

// tombstone marks a row deleted and bumps its timestamp so the deletion
// wins future merges
func (sh *SyncHandler) tombstone(w http.ResponseWriter, r *http.Request, model interface{}) {
	vars := mux.Vars(r)

	res := sh.db.Model(model).Where("sync_id = ?", vars["sync_id"]).Updates(map[string]interface{}{
		"deleted":    true,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		respondError(w, http.StatusInternalServerError, res.Error.Error())
		return
	}
	if res.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}
