package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/domain/confidence"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
)

func TestGetConfidenceRecomputesFromLiveEvidence(t *testing.T) {
	w := newLedgerWorld(t)
	c := w.seedChain(t)
	svc := NewConfidenceService(w.db, w.log, w.assertions, w.evidence, nil)
	ctx := context.Background()

	view, err := svc.GetConfidence(ctx, c.program.ID)
	if err != nil {
		t.Fatalf("GetConfidence: %v", err)
	}
	want, err := confidence.Default().Compute(confidence.Input{
		Method: ledger.MethodDeterministic,
		Evidence: []confidence.EvidenceInput{
			{SourceSystem: ledger.SourceSECEdgar, ObservedAt: c.evidence.ObservedAt},
		},
		ReferenceTime: c.program.AssertedAt,
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if view.Score != want.Score || view.Band != string(want.Band) || view.Method != "DETERMINISTIC" {
		t.Fatalf("view: want=%v/%s got=%v/%s/%s", want.Score, want.Band, view.Score, view.Band, view.Method)
	}
	if view.Drifted != (want.Score != 0.9) {
		t.Fatalf("drifted: stored=0.9 fresh=%v drifted=%v", want.Score, view.Drifted)
	}
	if len(view.Bullets) == 0 || view.ComputedAt.IsZero() {
		t.Fatalf("rationale bullets and timestamp expected: %+v", view)
	}
}

func TestGetConfidenceUnknownAssertion(t *testing.T) {
	w := newLedgerWorld(t)
	svc := NewConfidenceService(w.db, w.log, w.assertions, w.evidence, nil)
	if _, err := svc.GetConfidence(context.Background(), uuid.New()); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("want not_found got=%v", err)
	}
}

func TestGetConfidenceWithoutEvidenceIsRejected(t *testing.T) {
	w := newLedgerWorld(t)
	c := w.seedChain(t)
	svc := NewConfidenceService(w.db, w.log, w.assertions, w.evidence, nil)
	_, err := svc.GetConfidence(context.Background(), c.diseaseD2.ID)
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("assertion without evidence: want validation got=%v", err)
	}
}
