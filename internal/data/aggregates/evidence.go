package aggregates

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yungbote/biograph-backend/internal/data/repos"
	types "github.com/yungbote/biograph-backend/internal/domain"
	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/domain/confidence"
	"github.com/yungbote/biograph-backend/internal/domain/guardrails"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
)

type EvidenceAggregateDeps struct {
	Base BaseDeps

	Evidence   repos.EvidenceRepo
	Licenses   repos.LicenseRepo
	Assertions repos.AssertionRepo

	Engine    *confidence.Engine
	Validator *guardrails.Validator
}

type evidenceAggregate struct {
	deps EvidenceAggregateDeps
}

func NewEvidenceAggregate(deps EvidenceAggregateDeps) domainagg.EvidenceAggregate {
	deps.Base = deps.Base.withDefaults()
	if deps.Engine == nil {
		deps.Engine = confidence.Default()
	}
	if deps.Validator == nil {
		deps.Validator = guardrails.New(deps.Engine.Policy())
	}
	return &evidenceAggregate{deps: deps}
}

func (a *evidenceAggregate) RecordEvidence(ctx context.Context, in domainagg.RecordEvidenceInput) (domainagg.RecordEvidenceResult, error) {
	const op = "Ledger.Evidence.RecordEvidence"
	var out domainagg.RecordEvidenceResult

	if a.deps.Evidence == nil || a.deps.Licenses == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "evidence aggregate repos not configured", nil)
	}
	ev, err := ledger.NewEvidence(ledger.NewEvidenceParams{
		SourceSystem:   in.SourceSystem,
		SourceRecordID: in.SourceRecordID,
		ObservedAt:     in.ObservedAt,
		License:        in.License,
		URI:            in.URI,
		Snippet:        in.Snippet,
		Checksum:       in.Checksum,
		BaseConfidence: in.BaseConfidence,
		CreatedBy:      in.CreatedBy,
	})
	if err != nil {
		return out, err
	}
	truncated := in.Snippet != nil && utf8.RuneCountInString(strings.TrimSpace(*in.Snippet)) > ledger.SnippetMaxRunes

	// A concurrent insert of the same natural key surfaces as a unique violation; the
	// second attempt then takes the refresh path.
	for attempt := 0; attempt < 2; attempt++ {
		err = executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
			allow, err := a.allowList(dbc)
			if err != nil {
				return err
			}
			if err := a.deps.Validator.CheckLicense(op, ev.License, allow); err != nil {
				return err
			}

			existing, err := a.deps.Evidence.GetBySourceRecord(dbc, ev.SourceSystem, ev.SourceRecordID)
			if err != nil {
				return err
			}
			if existing == nil {
				row := *ev
				if err := a.deps.Evidence.Create(dbc, &row); err != nil {
					return err
				}
				out = domainagg.RecordEvidenceResult{EvidenceID: row.ID, Created: true, Truncated: truncated}
				return nil
			}

			if existing.License != ev.License {
				return domainagg.NewReasonError(domainagg.CodeConflict, domainagg.ReasonLicenseChanged, op,
					fmt.Sprintf("evidence %s:%s is recorded under license %s, refresh supplied %s",
						ev.SourceSystem, ev.SourceRecordID, existing.License, ev.License))
			}
			updates := map[string]interface{}{
				"observed_at":     ev.ObservedAt,
				"uri":             ev.URI,
				"snippet":         ev.Snippet,
				"checksum":        ev.Checksum,
				"base_confidence": ev.BaseConfidence,
				"updated_at":      time.Now().UTC(),
			}
			if err := a.deps.Evidence.UpdateFields(dbc, existing.ID, updates); err != nil {
				return err
			}
			out = domainagg.RecordEvidenceResult{EvidenceID: existing.ID, Created: false, Truncated: truncated}
			if a.deps.Assertions == nil {
				return nil
			}
			// Stored confidence of every current assertion citing the record follows its observed_at.
			affected, err := a.deps.Assertions.ListCurrentByEvidence(dbc, existing.ID)
			if err != nil {
				return err
			}
			byAssertion, err := a.deps.Evidence.ListForAssertions(dbc, assertionIDs(affected))
			if err != nil {
				return err
			}
			out.RecomputedAssertions, err = a.rescore(dbc, op, affected, byAssertion)
			return err
		})
		if err == nil || !domainagg.IsCode(err, domainagg.CodeConflict) || domainagg.ReasonOf(err) != "" {
			break
		}
	}
	return out, err
}

func (a *evidenceAggregate) SoftDeleteEvidence(ctx context.Context, in domainagg.SoftDeleteEvidenceInput) (domainagg.SoftDeleteEvidenceResult, error) {
	const op = "Ledger.Evidence.SoftDeleteEvidence"
	out := domainagg.SoftDeleteEvidenceResult{EvidenceID: in.EvidenceID}

	if in.EvidenceID == uuid.Nil {
		return out, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op, "missing evidence_id")
	}
	if a.deps.Evidence == nil || a.deps.Assertions == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "evidence aggregate repos not configured", nil)
	}
	deletedBy := strings.TrimSpace(in.DeletedBy)
	if deletedBy == "" {
		deletedBy = "system"
	}
	deletedAt := ledger.NormalizeTime(in.DeletedAt)
	if deletedAt.IsZero() {
		deletedAt = ledger.NormalizeTime(time.Now())
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		ev, err := a.deps.Evidence.GetByID(dbc, in.EvidenceID, true)
		if err != nil {
			return err
		}
		if ev == nil {
			return domainagg.NewError(domainagg.CodeNotFound, op, fmt.Sprintf("evidence not found: %s", in.EvidenceID), nil)
		}
		if ev.DeletedAt.Valid {
			return nil
		}

		affected, err := a.deps.Assertions.ListCurrentByEvidence(dbc, ev.ID)
		if err != nil {
			return err
		}
		byAssertion, err := a.deps.Evidence.ListForAssertions(dbc, assertionIDs(affected))
		if err != nil {
			return err
		}
		remaining := make(map[uuid.UUID][]*types.Evidence, len(affected))
		for _, as := range affected {
			for _, linked := range byAssertion[as.ID] {
				if linked.ID != ev.ID {
					remaining[as.ID] = append(remaining[as.ID], linked)
				}
			}
			if err := a.deps.Validator.CheckRemainingSupport(op, as.ID, remaining[as.ID]); err != nil {
				return err
			}
		}

		ok, err := a.deps.Evidence.SoftDelete(dbc, ev.ID, deletedBy, strings.TrimSpace(in.Reason), deletedAt)
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "evidence was deleted concurrently"); err != nil {
			return err
		}

		out.RecomputedAssertions, err = a.rescore(dbc, op, affected, remaining)
		return err
	})
	return out, err
}

// rescore recomputes and stores confidence for each assertion from its live evidence.
func (a *evidenceAggregate) rescore(dbc dbctx.Context, op string, affected []*types.Assertion, evidence map[uuid.UUID][]*types.Evidence) ([]uuid.UUID, error) {
	now := time.Now().UTC()
	var out []uuid.UUID
	for _, as := range affected {
		res, err := scoreAssertion(a.deps.Engine, op, as, evidence[as.ID])
		if err != nil {
			return out, err
		}
		if err := applyScore(as, res); err != nil {
			return out, err
		}
		if err := a.deps.Assertions.UpdateFields(dbc, as.ID, scoreUpdates(as, now)); err != nil {
			return out, err
		}
		out = append(out, as.ID)
	}
	return out, nil
}

func assertionIDs(rows []*types.Assertion) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, as := range rows {
		ids = append(ids, as.ID)
	}
	return ids
}

func (a *evidenceAggregate) allowList(dbc dbctx.Context) (guardrails.LicenseSet, error) {
	rows, err := a.deps.Licenses.List(dbc)
	if err != nil {
		return nil, err
	}
	vals := make([]types.License, 0, len(rows))
	for _, r := range rows {
		vals = append(vals, *r)
	}
	return guardrails.NewLicenseSet(vals), nil
}
