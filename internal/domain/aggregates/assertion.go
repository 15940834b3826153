package aggregates

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AssertionAggregate owns assertion lifecycle invariants.
//
// Every write runs the guardrail pass and the confidence computation inside one
// transaction; a failed check leaves nothing behind.
type AssertionAggregate interface {
	CreateAssertion(ctx context.Context, in CreateAssertionInput) (AssertionWriteResult, error)
	LinkEvidence(ctx context.Context, in LinkEvidenceInput) (AssertionWriteResult, error)
	RetractAssertion(ctx context.Context, in RetractAssertionInput) (AssertionWriteResult, error)
	SupersedeAssertion(ctx context.Context, in SupersedeAssertionInput) (AssertionWriteResult, error)
	RecomputeConfidence(ctx context.Context, in RecomputeConfidenceInput) (AssertionWriteResult, error)
}

type CreateAssertionInput struct {
	SubjectType          string
	SubjectID            string
	Predicate            string
	ObjectType           string
	ObjectID             string
	EvidenceIDs          []uuid.UUID
	AssertedAt           *time.Time
	LinkMethod           string
	ApprovedBy           string
	CuratorDelta         float64
	CuratorJustification string
	CreatedBy            string
}

type LinkEvidenceInput struct {
	AssertionID uuid.UUID
	EvidenceIDs []uuid.UUID
	Actor       string
}

type RetractAssertionInput struct {
	AssertionID uuid.UUID
	RetractedAt *time.Time
	Reason      string
	Actor       string
}

// SupersedeAssertionInput describes the replacement version. Empty fields inherit from
// the superseded row; the natural key never changes.
type SupersedeAssertionInput struct {
	AssertionID          uuid.UUID
	EvidenceIDs          []uuid.UUID
	AssertedAt           *time.Time
	LinkMethod           string
	ApprovedBy           string
	CuratorDelta         *float64
	CuratorJustification *string
	// ExpectedRevision guards against superseding a version someone else already replaced.
	// Zero skips the check.
	ExpectedRevision     int
	Actor                string
}

type RecomputeConfidenceInput struct {
	AssertionID          uuid.UUID
	CuratorDelta         float64
	CuratorJustification string
	Actor                string
}

type AssertionWriteResult struct {
	AssertionID     uuid.UUID
	SupersededID    *uuid.UUID
	ConfidenceScore float64
	ConfidenceBand  string
	IsCurrent       bool
}
