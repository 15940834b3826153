package aggregates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/biograph-backend/internal/data/repos"
	types "github.com/yungbote/biograph-backend/internal/domain"
	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/domain/confidence"
	"github.com/yungbote/biograph-backend/internal/domain/guardrails"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
)

type AssertionAggregateDeps struct {
	Base BaseDeps

	Assertions repos.AssertionRepo
	Links      repos.AssertionEvidenceRepo
	Evidence   repos.EvidenceRepo
	Licenses   repos.LicenseRepo

	Engine    *confidence.Engine
	Validator *guardrails.Validator
	// Clock is overridable in tests.
	Clock func() time.Time
}

type assertionAggregate struct {
	deps AssertionAggregateDeps
}

func NewAssertionAggregate(deps AssertionAggregateDeps) domainagg.AssertionAggregate {
	deps.Base = deps.Base.withDefaults()
	if deps.Engine == nil {
		deps.Engine = confidence.Default()
	}
	if deps.Validator == nil {
		deps.Validator = guardrails.New(deps.Engine.Policy())
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &assertionAggregate{deps: deps}
}

func (a *assertionAggregate) now() time.Time {
	return ledger.NormalizeTime(a.deps.Clock())
}

func (a *assertionAggregate) configured() bool {
	return a.deps.Assertions != nil && a.deps.Links != nil && a.deps.Evidence != nil && a.deps.Licenses != nil
}

func (a *assertionAggregate) CreateAssertion(ctx context.Context, in domainagg.CreateAssertionInput) (domainagg.AssertionWriteResult, error) {
	const op = "Ledger.Assertion.CreateAssertion"
	var out domainagg.AssertionWriteResult

	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "assertion aggregate repos not configured", nil)
	}
	key := types.NaturalKey{
		SubjectType: in.SubjectType,
		SubjectID:   in.SubjectID,
		Predicate:   in.Predicate,
		ObjectType:  in.ObjectType,
		ObjectID:    in.ObjectID,
	}.Normalize()
	if err := key.Validate(); err != nil {
		return out, err
	}
	method := ledger.ParseLinkMethod(in.LinkMethod)
	approvedBy := strings.TrimSpace(in.ApprovedBy)
	if err := a.deps.Validator.CheckProvenance(op, method, approvedBy); err != nil {
		return out, err
	}
	justification := strings.TrimSpace(in.CuratorJustification)
	if err := a.deps.Engine.CheckAdjustment(in.CuratorDelta, justification); err != nil {
		return out, MapEngineError(op, err)
	}
	assertedAt := a.now()
	if in.AssertedAt != nil && !in.AssertedAt.IsZero() {
		assertedAt = ledger.NormalizeTime(*in.AssertedAt)
	}
	evidenceIDs := dedupeIDs(in.EvidenceIDs)
	createdBy := strings.TrimSpace(in.CreatedBy)
	if createdBy == "" {
		createdBy = "system"
	}

	row := &types.Assertion{
		ID:           uuid.New(),
		AssertedAt:   assertedAt,
		LinkMethod:   method,
		CuratorDelta: in.CuratorDelta,
		VersionID:    1,
		Revision:     1,
		IsCurrent:    true,
		ValidFrom:    assertedAt,
		CreatedBy:    createdBy,
	}
	row.SetNaturalKey(key)
	if justification != "" {
		row.CuratorJustification = &justification
	}
	if approvedBy != "" {
		row.ApprovedBy = &approvedBy
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		evidence, err := a.guardEvidence(dbc, op, evidenceIDs, nil)
		if err != nil {
			return err
		}

		current, err := a.deps.Assertions.GetCurrentByKey(dbc, key)
		if err != nil {
			return err
		}
		if current != nil {
			if !current.IsRetracted(a.now()) {
				return domainagg.NewReasonError(domainagg.CodeConflict, domainagg.ReasonAssertionExists, op,
					fmt.Sprintf("a current assertion already exists for %s (%s); supersede it instead", key, current.ID))
			}
			// Re-asserting a retracted fact opens a new version of the same lineage.
			if err := a.closeVersion(dbc, op, current, assertedAt); err != nil {
				return err
			}
			row.VersionID = current.VersionID
			row.Revision = current.Revision + 1
			row.SupersedesID = &current.ID
		}

		if err := a.score(op, row, evidence); err != nil {
			return err
		}
		if err := a.deps.Assertions.Create(dbc, row); err != nil {
			return err
		}
		if err := a.link(dbc, row.ID, evidence); err != nil {
			return err
		}
		out = writeResult(row)
		return nil
	})
	return out, err
}

func (a *assertionAggregate) LinkEvidence(ctx context.Context, in domainagg.LinkEvidenceInput) (domainagg.AssertionWriteResult, error) {
	const op = "Ledger.Assertion.LinkEvidence"
	var out domainagg.AssertionWriteResult

	if in.AssertionID == uuid.Nil {
		return out, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op, "missing assertion_id")
	}
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "assertion aggregate repos not configured", nil)
	}
	evidenceIDs := dedupeIDs(in.EvidenceIDs)

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		row, err := a.lockCurrent(dbc, op, in.AssertionID)
		if err != nil {
			return err
		}
		existing, err := a.deps.Evidence.ListForAssertion(dbc, row.ID)
		if err != nil {
			return err
		}
		combined, err := a.guardEvidence(dbc, op, evidenceIDs, existing)
		if err != nil {
			return err
		}
		if err := a.score(op, row, combined); err != nil {
			return err
		}
		if err := a.link(dbc, row.ID, combined); err != nil {
			return err
		}
		if err := a.deps.Assertions.UpdateFields(dbc, row.ID, scoreUpdates(row, a.now())); err != nil {
			return err
		}
		out = writeResult(row)
		return nil
	})
	return out, err
}

func (a *assertionAggregate) RetractAssertion(ctx context.Context, in domainagg.RetractAssertionInput) (domainagg.AssertionWriteResult, error) {
	const op = "Ledger.Assertion.RetractAssertion"
	var out domainagg.AssertionWriteResult

	if in.AssertionID == uuid.Nil {
		return out, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op, "missing assertion_id")
	}
	if a.deps.Assertions == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "assertion repo not configured", nil)
	}
	retractedAt := a.now()
	if in.RetractedAt != nil && !in.RetractedAt.IsZero() {
		retractedAt = ledger.NormalizeTime(*in.RetractedAt)
	}
	actor := strings.TrimSpace(in.Actor)
	if actor == "" {
		actor = "system"
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		row, err := a.lockCurrent(dbc, op, in.AssertionID)
		if err != nil {
			return err
		}
		if retractedAt.Before(row.AssertedAt) {
			return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op,
				fmt.Sprintf("retracted_at %s precedes asserted_at %s", retractedAt.Format(time.RFC3339), row.AssertedAt.Format(time.RFC3339)))
		}
		updates := map[string]any{
			"retracted_at": retractedAt,
			"retracted_by": actor,
			"updated_at":   a.now(),
		}
		if reason := strings.TrimSpace(in.Reason); reason != "" {
			updates["retract_reason"] = reason
		}
		ok, err := a.deps.Base.CASGuard.UpdateIfCurrent(dbc, row.ID, row.Revision, updates)
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "assertion changed concurrently"); err != nil {
			return err
		}
		row.RetractedAt = &retractedAt
		out = writeResult(row)
		return nil
	})
	return out, err
}

func (a *assertionAggregate) SupersedeAssertion(ctx context.Context, in domainagg.SupersedeAssertionInput) (domainagg.AssertionWriteResult, error) {
	const op = "Ledger.Assertion.SupersedeAssertion"
	var out domainagg.AssertionWriteResult

	if in.AssertionID == uuid.Nil {
		return out, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op, "missing assertion_id")
	}
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "assertion aggregate repos not configured", nil)
	}
	actor := strings.TrimSpace(in.Actor)
	if actor == "" {
		actor = "system"
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		old, err := a.lockCurrent(dbc, op, in.AssertionID)
		if err != nil {
			return err
		}
		if err := RequireRevisionMatch(old.Revision, in.ExpectedRevision); err != nil {
			return err
		}

		next := &types.Assertion{
			ID:                   uuid.New(),
			AssertedAt:           a.now(),
			LinkMethod:           old.LinkMethod,
			CuratorDelta:         old.CuratorDelta,
			CuratorJustification: old.CuratorJustification,
			VersionID:            old.VersionID,
			Revision:             old.Revision + 1,
			SupersedesID:         &old.ID,
			IsCurrent:            true,
			CreatedBy:            actor,
			ApprovedBy:           old.ApprovedBy,
		}
		next.SetNaturalKey(old.NaturalKey())
		if in.AssertedAt != nil && !in.AssertedAt.IsZero() {
			next.AssertedAt = ledger.NormalizeTime(*in.AssertedAt)
		}
		if strings.TrimSpace(in.LinkMethod) != "" {
			next.LinkMethod = ledger.ParseLinkMethod(in.LinkMethod)
		}
		if approvedBy := strings.TrimSpace(in.ApprovedBy); approvedBy != "" {
			next.ApprovedBy = &approvedBy
		}
		approver := ""
		if next.ApprovedBy != nil {
			approver = *next.ApprovedBy
		}
		if err := a.deps.Validator.CheckProvenance(op, next.LinkMethod, approver); err != nil {
			return err
		}
		if in.CuratorDelta != nil {
			next.CuratorDelta = *in.CuratorDelta
		}
		if in.CuratorJustification != nil {
			j := strings.TrimSpace(*in.CuratorJustification)
			next.CuratorJustification = nil
			if j != "" {
				next.CuratorJustification = &j
			}
		}

		var evidence []*types.Evidence
		if len(in.EvidenceIDs) > 0 {
			evidence, err = a.guardEvidence(dbc, op, dedupeIDs(in.EvidenceIDs), nil)
		} else {
			evidence, err = a.deps.Evidence.ListForAssertion(dbc, old.ID)
			if err == nil {
				evidence, err = a.guardEvidence(dbc, op, evidenceIDsOf(evidence), nil)
			}
		}
		if err != nil {
			return err
		}

		validTo := a.now()
		if !validTo.After(old.ValidFrom) {
			validTo = old.ValidFrom.Add(time.Millisecond)
		}
		if next.AssertedAt.Before(validTo) {
			next.ValidFrom = validTo
		} else {
			next.ValidFrom = next.AssertedAt
		}
		if err := a.closeVersion(dbc, op, old, validTo); err != nil {
			return err
		}
		if err := a.score(op, next, evidence); err != nil {
			return err
		}
		if err := a.deps.Assertions.Create(dbc, next); err != nil {
			return err
		}
		if err := a.link(dbc, next.ID, evidence); err != nil {
			return err
		}
		out = writeResult(next)
		return nil
	})
	return out, err
}

func (a *assertionAggregate) RecomputeConfidence(ctx context.Context, in domainagg.RecomputeConfidenceInput) (domainagg.AssertionWriteResult, error) {
	const op = "Ledger.Assertion.RecomputeConfidence"
	var out domainagg.AssertionWriteResult

	if in.AssertionID == uuid.Nil {
		return out, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op, "missing assertion_id")
	}
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "assertion aggregate repos not configured", nil)
	}
	justification := strings.TrimSpace(in.CuratorJustification)
	if err := a.deps.Engine.CheckAdjustment(in.CuratorDelta, justification); err != nil {
		return out, MapEngineError(op, err)
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		row, err := a.lockCurrent(dbc, op, in.AssertionID)
		if err != nil {
			return err
		}
		evidence, err := a.deps.Evidence.ListForAssertion(dbc, row.ID)
		if err != nil {
			return err
		}
		row.CuratorDelta = in.CuratorDelta
		row.CuratorJustification = nil
		if justification != "" {
			row.CuratorJustification = &justification
		}
		if err := a.score(op, row, evidence); err != nil {
			return err
		}
		if err := a.deps.Assertions.UpdateFields(dbc, row.ID, scoreUpdates(row, a.now())); err != nil {
			return err
		}
		out = writeResult(row)
		return nil
	})
	return out, err
}

// lockCurrent loads an assertion for update and requires it to be the live version.
func (a *assertionAggregate) lockCurrent(dbc dbctx.Context, op string, id uuid.UUID) (*types.Assertion, error) {
	row, err := a.deps.Assertions.LockByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, fmt.Sprintf("assertion not found: %s", id), nil)
	}
	if !row.IsCurrent {
		return nil, domainagg.NewReasonError(domainagg.CodeConflict, domainagg.ReasonNotCurrent, op,
			fmt.Sprintf("assertion %s has been superseded", id))
	}
	if row.RetractedAt != nil {
		return nil, domainagg.NewReasonError(domainagg.CodeConflict, domainagg.ReasonNotCurrent, op,
			fmt.Sprintf("assertion %s is retracted", id))
	}
	return row, nil
}

// guardEvidence resolves requested ids and runs the guardrail pass over them together
// with evidence the assertion already cites.
func (a *assertionAggregate) guardEvidence(dbc dbctx.Context, op string, requested []uuid.UUID, existing []*types.Evidence) ([]*types.Evidence, error) {
	found, err := a.deps.Evidence.GetByIDs(dbc, requested)
	if err != nil {
		return nil, err
	}
	combined := make([]*types.Evidence, 0, len(existing)+len(found))
	seen := map[uuid.UUID]struct{}{}
	for _, ev := range append(append([]*types.Evidence{}, existing...), found...) {
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		combined = append(combined, ev)
	}
	rows, err := a.deps.Licenses.List(dbc)
	if err != nil {
		return nil, err
	}
	licenses := make([]types.License, 0, len(rows))
	for _, r := range rows {
		licenses = append(licenses, *r)
	}
	if err := a.deps.Validator.CheckEvidenceSet(op, requested, combined, guardrails.NewLicenseSet(licenses)); err != nil {
		return nil, err
	}
	return combined, nil
}

func (a *assertionAggregate) score(op string, row *types.Assertion, evidence []*types.Evidence) error {
	res, err := scoreAssertion(a.deps.Engine, op, row, evidence)
	if err != nil {
		return err
	}
	if err := applyScore(row, res); err != nil {
		return err
	}
	return ledger.RequireConfidence(row)
}

func (a *assertionAggregate) link(dbc dbctx.Context, assertionID uuid.UUID, evidence []*types.Evidence) error {
	links := make([]*types.AssertionEvidence, 0, len(evidence))
	for _, ev := range evidence {
		links = append(links, &types.AssertionEvidence{
			AssertionID: assertionID,
			EvidenceID:  ev.ID,
			SupportType: a.deps.Validator.SupportTypeFor(ev),
		})
	}
	_, err := a.deps.Links.Link(dbc, links)
	return err
}

func (a *assertionAggregate) closeVersion(dbc dbctx.Context, op string, old *types.Assertion, validTo time.Time) error {
	if !validTo.After(old.ValidFrom) {
		validTo = old.ValidFrom.Add(time.Millisecond)
	}
	ok, err := a.deps.Assertions.CloseCurrent(dbc, old.ID, validTo)
	if err != nil {
		return err
	}
	if !ok {
		return domainagg.NewReasonError(domainagg.CodeConflict, domainagg.ReasonNotCurrent, op,
			fmt.Sprintf("assertion %s was superseded concurrently", old.ID))
	}
	old.IsCurrent = false
	old.ValidTo = &validTo
	return nil
}

func evidenceIDsOf(evidence []*types.Evidence) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(evidence))
	for _, ev := range evidence {
		out = append(out, ev.ID)
	}
	return out
}
