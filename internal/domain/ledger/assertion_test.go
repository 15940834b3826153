package ledger

import (
	"testing"
	"time"

	"gorm.io/datatypes"

	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
)

func TestNaturalKeyNormalizeAndValidate(t *testing.T) {
	k := NaturalKey{SubjectType: " Issuer ", SubjectID: "CIK:0000320193", Predicate: "HAS_PROGRAM", ObjectType: "drug_program", ObjectID: " P1 "}.Normalize()
	if k.SubjectType != "issuer" || k.Predicate != "has_program" || k.ObjectID != "P1" {
		t.Fatalf("normalize: unexpected %+v", k)
	}
	if err := k.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	k.ObjectID = ""
	if err := k.Validate(); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("validate missing object: want validation got=%v", err)
	}
}

func TestAssertionValidAt(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	a := &Assertion{AssertedAt: jan, ValidFrom: jan}

	if !a.ValidAt(mar) {
		t.Fatalf("open assertion should be valid in March")
	}
	a.RetractedAt = &mar
	if !a.ValidAt(mar.Add(-time.Second)) {
		t.Fatalf("should be valid before retraction")
	}
	if a.ValidAt(apr) {
		t.Fatalf("should not be valid after retraction")
	}
	a.RetractedAt = nil
	a.ValidTo = &mar
	if a.ValidAt(mar) {
		t.Fatalf("superseded version should not be valid at valid_to")
	}
	if a.ValidAt(jan.Add(-time.Hour)) {
		t.Fatalf("should not be valid before asserted_at")
	}
}

func TestRequireConfidence(t *testing.T) {
	score := 0.97
	band := BandHigh
	ok := &Assertion{ConfidenceScore: &score, ConfidenceBand: &band, LinkMethod: MethodDeterministic, RationaleJSON: datatypes.JSON(`{}`)}
	if err := RequireConfidence(ok); err != nil {
		t.Fatalf("complete assertion: %v", err)
	}
	err := RequireConfidence(&Assertion{LinkMethod: MethodCurated})
	if !domainagg.HasReason(err, domainagg.ReasonConfidenceMissing) {
		t.Fatalf("incomplete assertion: want CONFIDENCE_MISSING got=%v", err)
	}
}
