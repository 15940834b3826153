package aggregates

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EvidenceAggregate owns evidence write invariants.
//
// Write method failures return *aggregates.Error with codes:
// CodeValidation (with a Reason), CodeNotFound, CodeConflict, CodeRetryable, CodeInternal.
type EvidenceAggregate interface {
	// RecordEvidence inserts or refreshes evidence keyed by (source_system, source_record_id).
	RecordEvidence(ctx context.Context, in RecordEvidenceInput) (RecordEvidenceResult, error)

	// SoftDeleteEvidence marks evidence deleted and recomputes confidence of affected assertions.
	SoftDeleteEvidence(ctx context.Context, in SoftDeleteEvidenceInput) (SoftDeleteEvidenceResult, error)
}

type RecordEvidenceInput struct {
	SourceSystem   string
	SourceRecordID string
	ObservedAt     time.Time
	License        string
	URI            string
	Snippet        *string
	Checksum       string
	BaseConfidence *float64
	CreatedBy      string
}

type RecordEvidenceResult struct {
	EvidenceID uuid.UUID
	Created    bool
	Truncated  bool

	// RecomputedAssertions lists current assertions rescored by a refresh.
	RecomputedAssertions []uuid.UUID
}

type SoftDeleteEvidenceInput struct {
	EvidenceID uuid.UUID
	DeletedBy  string
	Reason     string
	DeletedAt  time.Time
}

type SoftDeleteEvidenceResult struct {
	EvidenceID           uuid.UUID
	RecomputedAssertions []uuid.UUID
}
