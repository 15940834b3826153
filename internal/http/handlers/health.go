package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/services"
)

type HealthHandler struct {
	db    *gorm.DB
	store services.ExplanationStore
}

func NewHealthHandler(db *gorm.DB, store services.ExplanationStore) *HealthHandler {
	return &HealthHandler{db: db, store: store}
}

// GET /healthcheck
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GET /readyz
// Only the authoritative database decides readiness; a down projection is reported but tolerated.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbOK := false
	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil && sqlDB.PingContext(ctx) == nil {
			dbOK = true
		}
	}
	body := gin.H{"database": dbOK}
	if h.store != nil {
		body["explanation_store"] = h.store.GetStoreName()
		body["explanation_store_available"] = h.store.IsAvailable(ctx)
	}
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}
