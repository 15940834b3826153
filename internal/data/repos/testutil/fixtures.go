package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
)

func SeedEvidence(tb testing.TB, ctx context.Context, tx *gorm.DB, src ledger.SourceSystem, recordID string, observedAt time.Time) *types.Evidence {
	tb.Helper()
	license := "PUBLIC_DOMAIN"
	switch src {
	case ledger.SourceChEMBL:
		license = "CC-BY-SA-3.0"
	case ledger.SourceOpenTargets:
		license = "CC-BY-4.0"
	case ledger.SourceWikidata, ledger.SourceNewsMetadata:
		license = "CC0"
	}
	ev := &types.Evidence{
		ID:             uuid.New(),
		SourceSystem:   src,
		SourceRecordID: recordID,
		ObservedAt:     observedAt.UTC(),
		License:        license,
		URI:            "https://example.org/" + string(src) + "/" + recordID,
		CreatedBy:      "fixture",
	}
	if err := tx.WithContext(ctx).Create(ev).Error; err != nil {
		tb.Fatalf("seed evidence: %v", err)
	}
	return ev
}

// SeedAssertion inserts a current assertion with a fixed score, bypassing the aggregate.
func SeedAssertion(tb testing.TB, ctx context.Context, tx *gorm.DB, key types.NaturalKey, assertedAt time.Time, score float64, evidence ...*types.Evidence) *types.Assertion {
	tb.Helper()
	band := ledger.BandLow
	switch {
	case score >= 0.90:
		band = ledger.BandHigh
	case score >= 0.75:
		band = ledger.BandMedium
	}
	rationale, _ := json.Marshal(map[string]any{"final_score": score, "band": band})
	a := &types.Assertion{
		ID:              uuid.New(),
		AssertedAt:      assertedAt.UTC(),
		ConfidenceScore: &score,
		ConfidenceBand:  &band,
		LinkMethod:      ledger.MethodDeterministic,
		RationaleJSON:   datatypes.JSON(rationale),
		VersionID:       1,
		Revision:        1,
		IsCurrent:       true,
		ValidFrom:       assertedAt.UTC(),
		CreatedBy:       "fixture",
	}
	a.SetNaturalKey(key)
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed assertion: %v", err)
	}
	for _, ev := range evidence {
		link := &types.AssertionEvidence{AssertionID: a.ID, EvidenceID: ev.ID, SupportType: ledger.SupportPrimary}
		if err := tx.WithContext(ctx).Create(link).Error; err != nil {
			tb.Fatalf("seed assertion evidence: %v", err)
		}
	}
	return a
}

func Key(subjectType, subjectID, predicate, objectType, objectID string) types.NaturalKey {
	return types.NaturalKey{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Predicate:   predicate,
		ObjectType:  objectType,
		ObjectID:    objectID,
	}
}
