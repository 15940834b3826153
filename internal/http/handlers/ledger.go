package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/http/response"
	"github.com/yungbote/biograph-backend/internal/platform/ctxutil"
	"github.com/yungbote/biograph-backend/internal/services"
)

type LedgerHandler struct {
	evidence   domainagg.EvidenceAggregate
	assertions domainagg.AssertionAggregate
	store      services.ExplanationStore
	confidence services.ConfidenceService
}

func NewLedgerHandler(
	evidence domainagg.EvidenceAggregate,
	assertions domainagg.AssertionAggregate,
	store services.ExplanationStore,
	confidence services.ConfidenceService,
) *LedgerHandler {
	return &LedgerHandler{evidence: evidence, assertions: assertions, store: store, confidence: confidence}
}

type recordEvidenceRequest struct {
	SourceSystem   string    `json:"source_system" binding:"required"`
	SourceRecordID string    `json:"source_record_id" binding:"required"`
	ObservedAt     time.Time `json:"observed_at" binding:"required"`
	License        string    `json:"license" binding:"required"`
	URI            string    `json:"uri" binding:"required"`
	Snippet        *string   `json:"snippet"`
	Checksum       string    `json:"checksum"`
	BaseConfidence *float64  `json:"base_confidence"`
}

type softDeleteEvidenceRequest struct {
	Reason string `json:"reason"`
}

type createAssertionRequest struct {
	SubjectType          string      `json:"subject_type" binding:"required"`
	SubjectID            string      `json:"subject_id" binding:"required"`
	Predicate            string      `json:"predicate" binding:"required"`
	ObjectType           string      `json:"object_type" binding:"required"`
	ObjectID             string      `json:"object_id" binding:"required"`
	EvidenceIDs          []uuid.UUID `json:"evidence_ids"`
	AssertedAt           *time.Time  `json:"asserted_at"`
	LinkMethod           string      `json:"link_method" binding:"required"`
	CuratorDelta         float64     `json:"curator_delta"`
	CuratorJustification string      `json:"curator_justification"`
}

type linkEvidenceRequest struct {
	EvidenceIDs []uuid.UUID `json:"evidence_ids" binding:"required"`
}

type retractAssertionRequest struct {
	RetractedAt *time.Time `json:"retracted_at"`
	Reason      string     `json:"reason"`
}

type supersedeAssertionRequest struct {
	EvidenceIDs          []uuid.UUID `json:"evidence_ids"`
	AssertedAt           *time.Time  `json:"asserted_at"`
	LinkMethod           string      `json:"link_method"`
	CuratorDelta         *float64    `json:"curator_delta"`
	CuratorJustification *string     `json:"curator_justification"`
	ExpectedRevision     int         `json:"expected_revision"`
}

type recomputeConfidenceRequest struct {
	CuratorDelta         float64 `json:"curator_delta"`
	CuratorJustification string  `json:"curator_justification"`
}

type assertionWriteView struct {
	AssertionID     uuid.UUID  `json:"assertion_id"`
	SupersededID    *uuid.UUID `json:"superseded_id,omitempty"`
	ConfidenceScore float64    `json:"confidence_score"`
	ConfidenceBand  string     `json:"confidence_band"`
	IsCurrent       bool       `json:"is_current"`
}

func writeView(r domainagg.AssertionWriteResult) assertionWriteView {
	return assertionWriteView{
		AssertionID:     r.AssertionID,
		SupersededID:    r.SupersededID,
		ConfidenceScore: r.ConfidenceScore,
		ConfidenceBand:  r.ConfidenceBand,
		IsCurrent:       r.IsCurrent,
	}
}

// approver is the authenticated caller. Approval is never taken from the request body.
func approver(ctx context.Context) string {
	if actor := ctxutil.Actor(ctx); actor != "system" {
		return actor
	}
	return ""
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return false
	}
	return true
}

// POST /api/evidence
func (h *LedgerHandler) RecordEvidence(c *gin.Context) {
	var req recordEvidenceRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	res, err := h.evidence.RecordEvidence(ctx, domainagg.RecordEvidenceInput{
		SourceSystem:   req.SourceSystem,
		SourceRecordID: req.SourceRecordID,
		ObservedAt:     req.ObservedAt,
		License:        req.License,
		URI:            req.URI,
		Snippet:        req.Snippet,
		Checksum:       req.Checksum,
		BaseConfidence: req.BaseConfidence,
		CreatedBy:      ctxutil.Actor(ctx),
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	body := gin.H{"evidence_id": res.EvidenceID, "created": res.Created, "snippet_truncated": res.Truncated}
	if res.Created {
		response.RespondCreated(c, body)
		return
	}
	response.RespondOK(c, body)
}

// GET /api/evidence/:id
func (h *LedgerHandler) GetEvidence(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_evidence_id", err)
		return
	}
	detail, err := h.store.GetEvidence(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// DELETE /api/evidence/:id
func (h *LedgerHandler) SoftDeleteEvidence(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_evidence_id", err)
		return
	}
	var req softDeleteEvidenceRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = c.Query("reason")
	}
	ctx := c.Request.Context()
	res, err := h.evidence.SoftDeleteEvidence(ctx, domainagg.SoftDeleteEvidenceInput{
		EvidenceID: id,
		DeletedBy:  ctxutil.Actor(ctx),
		Reason:     req.Reason,
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"evidence_id": res.EvidenceID, "recomputed_assertions": res.RecomputedAssertions})
}

// POST /api/assertions
func (h *LedgerHandler) CreateAssertion(c *gin.Context) {
	var req createAssertionRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	res, err := h.assertions.CreateAssertion(ctx, domainagg.CreateAssertionInput{
		SubjectType:          req.SubjectType,
		SubjectID:            req.SubjectID,
		Predicate:            req.Predicate,
		ObjectType:           req.ObjectType,
		ObjectID:             req.ObjectID,
		EvidenceIDs:          req.EvidenceIDs,
		AssertedAt:           req.AssertedAt,
		LinkMethod:           req.LinkMethod,
		ApprovedBy:           approver(ctx),
		CuratorDelta:         req.CuratorDelta,
		CuratorJustification: req.CuratorJustification,
		CreatedBy:            ctxutil.Actor(ctx),
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, writeView(res))
}

// GET /api/assertions/:id
func (h *LedgerHandler) GetAssertion(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assertion_id", err)
		return
	}
	detail, err := h.store.GetAssertionDetail(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// POST /api/assertions/:id/evidence
func (h *LedgerHandler) LinkEvidence(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assertion_id", err)
		return
	}
	var req linkEvidenceRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	res, err := h.assertions.LinkEvidence(ctx, domainagg.LinkEvidenceInput{
		AssertionID: id,
		EvidenceIDs: req.EvidenceIDs,
		Actor:       ctxutil.Actor(ctx),
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, writeView(res))
}

// POST /api/assertions/:id/retract
func (h *LedgerHandler) RetractAssertion(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assertion_id", err)
		return
	}
	var req retractAssertionRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	res, err := h.assertions.RetractAssertion(ctx, domainagg.RetractAssertionInput{
		AssertionID: id,
		RetractedAt: req.RetractedAt,
		Reason:      req.Reason,
		Actor:       ctxutil.Actor(ctx),
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, writeView(res))
}

// POST /api/assertions/:id/supersede
func (h *LedgerHandler) SupersedeAssertion(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assertion_id", err)
		return
	}
	var req supersedeAssertionRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	res, err := h.assertions.SupersedeAssertion(ctx, domainagg.SupersedeAssertionInput{
		AssertionID:          id,
		EvidenceIDs:          req.EvidenceIDs,
		AssertedAt:           req.AssertedAt,
		LinkMethod:           req.LinkMethod,
		ApprovedBy:           approver(ctx),
		CuratorDelta:         req.CuratorDelta,
		CuratorJustification: req.CuratorJustification,
		ExpectedRevision:     req.ExpectedRevision,
		Actor:                ctxutil.Actor(ctx),
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, writeView(res))
}

// POST /api/assertions/:id/recompute
func (h *LedgerHandler) RecomputeConfidence(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assertion_id", err)
		return
	}
	var req recomputeConfidenceRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	res, err := h.assertions.RecomputeConfidence(ctx, domainagg.RecomputeConfidenceInput{
		AssertionID:          id,
		CuratorDelta:         req.CuratorDelta,
		CuratorJustification: req.CuratorJustification,
		Actor:                ctxutil.Actor(ctx),
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, writeView(res))
}

// GET /api/assertions/:id/confidence
func (h *LedgerHandler) GetConfidence(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assertion_id", err)
		return
	}
	view, err := h.confidence.GetConfidence(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, view)
}
