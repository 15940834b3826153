package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/data/aggregates"
	"github.com/yungbote/biograph-backend/internal/data/repos"
	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/domain/confidence"
	"github.com/yungbote/biograph-backend/internal/domain/guardrails"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

// ConfidenceView is the answer to a confidence query.
type ConfidenceView struct {
	AssertionID uuid.UUID            `json:"assertion_id"`
	Score       float64              `json:"score"`
	Band        string               `json:"band"`
	Method      string               `json:"method"`
	Rationale   confidence.Rationale `json:"rationale"`
	Bullets     []string             `json:"bullets"`
	// Drifted is true when the stored score differs from the fresh computation.
	Drifted    bool      `json:"drifted"`
	ComputedAt time.Time `json:"computed_at"`
}

type ConfidenceService interface {
	GetConfidence(ctx context.Context, assertionID uuid.UUID) (*ConfidenceView, error)
}

type confidenceService struct {
	db         *gorm.DB
	log        *logger.Logger
	assertions repos.AssertionRepo
	evidence   repos.EvidenceRepo
	engine     *confidence.Engine
	now        func() time.Time
}

func NewConfidenceService(
	db *gorm.DB,
	baseLog *logger.Logger,
	assertions repos.AssertionRepo,
	evidence repos.EvidenceRepo,
	engine *confidence.Engine,
) ConfidenceService {
	if engine == nil {
		engine = confidence.Default()
	}
	return &confidenceService{
		db:         db,
		log:        baseLog.With("service", "ConfidenceService"),
		assertions: assertions,
		evidence:   evidence,
		engine:     engine,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// GetConfidence recomputes the score from the assertion's live evidence so the
// answer never depends on a stale stored value.
func (s *confidenceService) GetConfidence(ctx context.Context, assertionID uuid.UUID) (*ConfidenceView, error) {
	const op = "services.GetConfidence"
	dbc := dbctx.Context{Ctx: ctx}
	a, err := s.assertions.GetByID(dbc, assertionID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if a == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "assertion not found", nil)
	}
	ev, err := s.evidence.ListForAssertion(dbc, a.ID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	justification := ""
	if a.CuratorJustification != nil {
		justification = *a.CuratorJustification
	}
	res, err := s.engine.Compute(confidence.Input{
		Method:               a.LinkMethod,
		Evidence:             guardrails.EngineInputs(ev),
		CuratorDelta:         a.CuratorDelta,
		CuratorJustification: justification,
		ReferenceTime:        a.AssertedAt,
	})
	if err != nil {
		return nil, aggregates.MapEngineError(op, err)
	}
	view := &ConfidenceView{
		AssertionID: a.ID,
		Score:       res.Score,
		Band:        string(res.Band),
		Method:      string(a.LinkMethod),
		Rationale:   res.Rationale,
		Bullets:     res.Rationale.Bullets(),
		ComputedAt:  s.now(),
	}
	if a.ConfidenceScore == nil || *a.ConfidenceScore != res.Score {
		view.Drifted = true
		s.log.Warn("stored confidence differs from fresh computation", "assertion_id", a.ID, "fresh", res.Score)
	}
	return view, nil
}
