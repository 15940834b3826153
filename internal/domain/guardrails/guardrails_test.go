package guardrails

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/domain/confidence"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
)

func newEvidence(src ledger.SourceSystem, license string) *ledger.Evidence {
	return &ledger.Evidence{
		ID:           uuid.New(),
		SourceSystem: src,
		License:      license,
		ObservedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func allowList() LicenseSet {
	return NewLicenseSet(ledger.DefaultLicenses())
}

func ids(evs ...*ledger.Evidence) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.ID)
	}
	return out
}

func TestCheckLicense(t *testing.T) {
	v := New(confidence.DefaultPolicy())
	cases := map[string]bool{
		"UNKNOWN":       false,
		"":              false,
		"CC-BY-NC-4.0":  false,
		"cc0":           true,
		"PUBLIC_DOMAIN": true,
	}
	for license, ok := range cases {
		err := v.CheckLicense("test", license, allowList())
		if ok && err != nil {
			t.Fatalf("%q: unexpected err %v", license, err)
		}
		if !ok && !domainagg.HasReason(err, domainagg.ReasonLicenseRejected) {
			t.Fatalf("%q: want LICENSE_REJECTED got=%v", license, err)
		}
	}
}

func TestCheckEvidenceSetOrder(t *testing.T) {
	v := New(confidence.DefaultPolicy())
	allow := allowList()

	if err := v.CheckEvidenceSet("test", nil, nil, allow); !domainagg.HasReason(err, domainagg.ReasonMissingEvidence) {
		t.Fatalf("empty ids: want MISSING_EVIDENCE got=%v", err)
	}

	sec := newEvidence(ledger.SourceSECEdgar, "PUBLIC_DOMAIN")
	if err := v.CheckEvidenceSet("test", []uuid.UUID{sec.ID, uuid.New()}, []*ledger.Evidence{sec}, allow); !domainagg.HasReason(err, domainagg.ReasonMissingEvidence) {
		t.Fatalf("unresolved id: want MISSING_EVIDENCE got=%v", err)
	}

	deleted := newEvidence(ledger.SourceChEMBL, "CC-BY-SA-3.0")
	deleted.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	if err := v.CheckEvidenceSet("test", ids(deleted), []*ledger.Evidence{deleted}, allow); !domainagg.HasReason(err, domainagg.ReasonMissingEvidence) {
		t.Fatalf("deleted evidence: want MISSING_EVIDENCE got=%v", err)
	}

	news := newEvidence(ledger.SourceNewsMetadata, "UNKNOWN")
	if err := v.CheckEvidenceSet("test", ids(news), []*ledger.Evidence{news}, allow); !domainagg.HasReason(err, domainagg.ReasonInsufficientSourceTrust) {
		t.Fatalf("news only: want INSUFFICIENT_SOURCE_TRUST before license check got=%v", err)
	}

	news.License = "CC0"
	if err := v.CheckEvidenceSet("test", ids(news, sec), []*ledger.Evidence{news, sec}, allow); err != nil {
		t.Fatalf("news reinforced by sec: %v", err)
	}

	bad := newEvidence(ledger.SourceWikidata, "CC-BY-NC-4.0")
	if err := v.CheckEvidenceSet("test", ids(sec, bad), []*ledger.Evidence{sec, bad}, allow); !domainagg.HasReason(err, domainagg.ReasonLicenseRejected) {
		t.Fatalf("unsafe license: want LICENSE_REJECTED got=%v", err)
	}
}

func TestCheckProvenance(t *testing.T) {
	v := New(confidence.DefaultPolicy())
	if err := v.CheckProvenance("test", ledger.MethodDeterministic, ""); err != nil {
		t.Fatalf("deterministic without approver: %v", err)
	}
	if err := v.CheckProvenance("test", "", "curator-7"); !domainagg.HasReason(err, domainagg.ReasonUntrustedProvenance) {
		t.Fatalf("missing tag: want UNTRUSTED_PROVENANCE got=%v", err)
	}
	if err := v.CheckProvenance("test", ledger.MethodMLSuggestedApproved, "");  !domainagg.HasReason(err, domainagg.ReasonUntrustedProvenance) {
		t.Fatalf("unapproved ml: want UNTRUSTED_PROVENANCE got=%v", err)
	}
	if err := v.CheckProvenance("test", "NER_CANDIDATE", "someone"); !domainagg.HasReason(err, domainagg.ReasonUntrustedProvenance) {
		t.Fatalf("candidate tag: want UNTRUSTED_PROVENANCE got=%v", err)
	}
	if err := v.CheckProvenance("test", ledger.MethodCurated, "curator-7"); err != nil {
		t.Fatalf("curated with approver: %v", err)
	}
}

func TestCheckRemainingSupport(t *testing.T) {
	v := New(confidence.DefaultPolicy())
	id := uuid.New()
	if err := v.CheckRemainingSupport("test", id, nil); !domainagg.HasReason(err, domainagg.ReasonEvidenceInUse) {
		t.Fatalf("no remaining: want EVIDENCE_IN_USE got=%v", err)
	}
	news := newEvidence(ledger.SourceNewsMetadata, "CC0")
	if err := v.CheckRemainingSupport("test", id, []*ledger.Evidence{news}); !domainagg.HasReason(err, domainagg.ReasonEvidenceInUse) {
		t.Fatalf("news remaining: want EVIDENCE_IN_USE got=%v", err)
	}
}

func TestSupportTypeFor(t *testing.T) {
	v := New(confidence.DefaultPolicy())
	if got := v.SupportTypeFor(newEvidence(ledger.SourceSECEdgar, "")); got != ledger.SupportPrimary {
		t.Fatalf("sec: want PRIMARY got=%s", got)
	}
	if got := v.SupportTypeFor(newEvidence(ledger.SourcePubMed, "")); got != ledger.SupportSecondary {
		t.Fatalf("pubmed: want SECONDARY got=%s", got)
	}
	if got := v.SupportTypeFor(newEvidence(ledger.SourceNewsMetadata, "")); got != ledger.SupportContext {
		t.Fatalf("news: want CONTEXT got=%s", got)
	}
}
