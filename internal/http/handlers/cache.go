package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/http/response"
	"github.com/yungbote/biograph-backend/internal/services"
)

type CacheHandler struct {
	cache services.LookupCache
}

func NewCacheHandler(cache services.LookupCache) *CacheHandler {
	return &CacheHandler{cache: cache}
}

var knownCacheSources = map[ledger.CacheSource]bool{
	ledger.CacheSourceOpenTargets: true,
	ledger.CacheSourceChEMBL:      true,
	ledger.CacheSourceGeoNames:    true,
	ledger.CacheSourceWikidata:    true,
}

// GET /api/cache/stats
func (h *CacheHandler) Stats(c *gin.Context) {
	stats, err := h.cache.Stats(c.Request.Context())
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"backend": h.cache.Backend(), "sources": stats})
}

// POST /api/cache/cleanup
func (h *CacheHandler) Cleanup(c *gin.Context) {
	n, err := h.cache.CleanupExpired(c.Request.Context())
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": n})
}

// DELETE /api/cache/sources/:source
func (h *CacheHandler) ClearSource(c *gin.Context) {
	source := ledger.CacheSource(strings.ToLower(strings.TrimSpace(c.Param("source"))))
	if !knownCacheSources[source] {
		response.RespondError(c, http.StatusBadRequest, "invalid_source", fmt.Errorf("unknown cache source %q", source))
		return
	}
	n, err := h.cache.ClearSource(c.Request.Context(), source)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"source": source, "deleted": n})
}
