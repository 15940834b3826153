package aggregates

import (
	"errors"
	"time"

	"gorm.io/datatypes"

	types "github.com/yungbote/biograph-backend/internal/domain"
	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/domain/confidence"
	"github.com/yungbote/biograph-backend/internal/domain/guardrails"
)

// scoreAssertion runs the engine over an assertion's method, adjustment and live evidence.
// Recency is anchored at asserted_at so a stored score is reproducible.
func scoreAssertion(engine *confidence.Engine, op string, a *types.Assertion, evidence []*types.Evidence) (confidence.Result, error) {
	justification := ""
	if a.CuratorJustification != nil {
		justification = *a.CuratorJustification
	}
	res, err := engine.Compute(confidence.Input{
		Method:               a.LinkMethod,
		Evidence:             guardrails.EngineInputs(evidence),
		CuratorDelta:         a.CuratorDelta,
		CuratorJustification: justification,
		ReferenceTime:        a.AssertedAt,
	})
	if err != nil {
		return confidence.Result{}, MapEngineError(op, err)
	}
	return res, nil
}

// MapEngineError turns confidence engine sentinels into reason-coded validation errors.
func MapEngineError(op string, err error) error {
	switch {
	case errors.Is(err, confidence.ErrNoEvidence):
		return domainagg.WrapReason(domainagg.CodeValidation, domainagg.ReasonNoEvidence, op, err)
	case errors.Is(err, confidence.ErrInsufficientSourceTrust):
		return domainagg.WrapReason(domainagg.CodeValidation, domainagg.ReasonInsufficientSourceTrust, op, err)
	case errors.Is(err, confidence.ErrInvalidAdjustment):
		return domainagg.WrapReason(domainagg.CodeValidation, domainagg.ReasonInvalidAdjustment, op, err)
	case errors.Is(err, confidence.ErrMissingJustification):
		return domainagg.WrapReason(domainagg.CodeValidation, domainagg.ReasonMissingJustification, op, err)
	case errors.Is(err, confidence.ErrUnknownMethod):
		return domainagg.WrapReason(domainagg.CodeValidation, domainagg.ReasonUntrustedProvenance, op, err)
	default:
		return domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
}

func applyScore(a *types.Assertion, res confidence.Result) error {
	raw, err := res.Rationale.JSON()
	if err != nil {
		return err
	}
	score := res.Score
	band := res.Band
	a.ConfidenceScore = &score
	a.ConfidenceBand = &band
	a.RationaleJSON = datatypes.JSON(raw)
	return nil
}

func scoreUpdates(a *types.Assertion, now time.Time) map[string]any {
	return map[string]any{
		"confidence_score":      a.ConfidenceScore,
		"confidence_band":       a.ConfidenceBand,
		"rationale_json":        a.RationaleJSON,
		"curator_delta":         a.CuratorDelta,
		"curator_justification": a.CuratorJustification,
		"updated_at":            now,
	}
}

func writeResult(a *types.Assertion) domainagg.AssertionWriteResult {
	out := domainagg.AssertionWriteResult{
		AssertionID:  a.ID,
		SupersededID: a.SupersedesID,
		IsCurrent:    a.IsCurrent,
	}
	if a.ConfidenceScore != nil {
		out.ConfidenceScore = *a.ConfidenceScore
	}
	if a.ConfidenceBand != nil {
		out.ConfidenceBand = string(*a.ConfidenceBand)
	}
	return out
}

func dedupeIDs[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
