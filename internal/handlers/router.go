package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/invtrack/invtrackgo/internal/buildinfo"
	"github.com/invtrack/invtrackgo/internal/database"
	"github.com/invtrack/invtrackgo/internal/middleware"
	"github.com/invtrack/invtrackgo/internal/models"
)

// Router wraps the mux router and database
type Router struct {
	*mux.Router
	db *database.DB
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(db *database.DB) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		db:     db,
	}

	// Health check endpoint
	r.HandleFunc("/api/health", r.healthCheck).Methods("GET")
	r.HandleFunc("/api/stats", r.getStats).Methods("GET")

	// Sync endpoints (push, pull, tombstone) per entity type
	syncHandler := NewSyncHandler(db)
	syncHandler.RegisterRoutes(r.Router)

	return r
}

// Handler returns the root http.Handler for the server
func (r *Router) Handler() http.Handler {
	return middleware.CaseInsensitiveMiddleware(r.Router)
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   buildinfo.Version(),
		"started":   buildinfo.StartTime,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// getStats returns aggregate counts for the dashboard summary
func (r *Router) getStats(w http.ResponseWriter, req *http.Request) {
	var assetCount, auditCount, areaCount int64

	if err := r.db.Model(&models.Asset{}).Where("deleted = ?", false).Count(&assetCount).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := r.db.Model(&models.AuditSession{}).Where("deleted = ?", false).Count(&auditCount).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := r.db.Model(&models.Asset{}).Where("deleted = ? AND area <> ''", false).
		Distinct("area").Count(&areaCount).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats": map[string]int64{
			"assets": assetCount,
			"audits": auditCount,
			"areas":  areaCount,
		},
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
