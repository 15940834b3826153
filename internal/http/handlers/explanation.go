package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/biograph-backend/internal/http/response"
	"github.com/yungbote/biograph-backend/internal/services"
)

type ExplanationHandler struct {
	explanations services.ExplanationService
	materializer services.MaterializerService
	now          func() time.Time
}

func NewExplanationHandler(explanations services.ExplanationService, materializer services.MaterializerService) *ExplanationHandler {
	return &ExplanationHandler{
		explanations: explanations,
		materializer: materializer,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type materializeRequest struct {
	AsOf    string   `json:"as_of"`
	RootIDs []string `json:"root_ids"`
}

// GET /api/explanations/:root?as_of=YYYY-MM-DD&labels=true
func (h *ExplanationHandler) GetExplanation(c *gin.Context) {
	root := strings.TrimSpace(c.Param("root"))
	asOf, err := parseDate(c.Query("as_of"), h.now())
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_as_of", err)
		return
	}
	g, err := h.explanations.GetExplanation(c.Request.Context(), root, asOf, parseBool(c.Query("labels")))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, g)
}

// GET /api/explanations/:root/diff?since=YYYY-MM-DD&as_of=YYYY-MM-DD
func (h *ExplanationHandler) Diff(c *gin.Context) {
	if strings.TrimSpace(c.Query("since")) == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_since", errors.New("since is required"))
		return
	}
	since, err := parseDate(c.Query("since"), time.Time{})
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_since", err)
		return
	}
	asOf, err := parseDate(c.Query("as_of"), h.now())
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_as_of", err)
		return
	}
	diff, err := h.materializer.Diff(c.Request.Context(), since, asOf, strings.TrimSpace(c.Param("root")))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, diff)
}

// POST /api/explanations/materialize
func (h *ExplanationHandler) Materialize(c *gin.Context) {
	var req materializeRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	asOf, err := parseDate(req.AsOf, h.now())
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_as_of", err)
		return
	}
	stats, err := h.materializer.Materialize(c.Request.Context(), asOf, req.RootIDs)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, stats)
}

// GET /api/explanation-store
func (h *ExplanationHandler) StoreStatus(c *gin.Context) {
	store := h.explanations.Store()
	response.RespondOK(c, gin.H{
		"store":     store.GetStoreName(),
		"available": store.IsAvailable(c.Request.Context()),
	})
}
