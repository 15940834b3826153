package ledger

import (
	"strings"
	"testing"
	"time"

	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
)

func validEvidenceParams() NewEvidenceParams {
	return NewEvidenceParams{
		SourceSystem:   "SEC_EDGAR",
		SourceRecordID: "0000320193-24-000123",
		ObservedAt:     time.Date(2024, 1, 15, 10, 0, 0, 0, time.FixedZone("EST", -5*3600)),
		License:        "public_domain",
		URI:            "https://www.sec.gov/Archives/edgar/data/320193/000032019324000123.txt",
	}
}

func TestNewEvidenceNormalizes(t *testing.T) {
	ev, err := NewEvidence(validEvidenceParams())
	if err != nil {
		t.Fatalf("NewEvidence: %v", err)
	}
	if ev.SourceSystem != SourceSECEdgar {
		t.Fatalf("source: want=%s got=%s", SourceSECEdgar, ev.SourceSystem)
	}
	if ev.License != "PUBLIC_DOMAIN" {
		t.Fatalf("license: want=PUBLIC_DOMAIN got=%s", ev.License)
	}
	if ev.ObservedAt.Location() != time.UTC || ev.ObservedAt.Hour() != 15 {
		t.Fatalf("observed_at: want 15:00 UTC got=%s", ev.ObservedAt)
	}
	if ev.CreatedBy != "system" {
		t.Fatalf("created_by: want=system got=%s", ev.CreatedBy)
	}
}

func TestNewEvidenceRejects(t *testing.T) {
	bad := 1.5
	cases := []struct {
		name   string
		mutate func(p *NewEvidenceParams)
		reason domainagg.Reason
	}{
		{"unknown source", func(p *NewEvidenceParams) { p.SourceSystem = "blog" }, domainagg.ReasonUnknownSourceSystem},
		{"missing record id", func(p *NewEvidenceParams) { p.SourceRecordID = " " }, domainagg.ReasonInvalidInput},
		{"missing observed_at", func(p *NewEvidenceParams) { p.ObservedAt = time.Time{} }, domainagg.ReasonInvalidInput},
		{"missing license", func(p *NewEvidenceParams) { p.License = "" }, domainagg.ReasonLicenseRejected},
		{"missing uri", func(p *NewEvidenceParams) { p.URI = "" }, domainagg.ReasonInvalidInput},
		{"base confidence out of range", func(p *NewEvidenceParams) { p.BaseConfidence = &bad }, domainagg.ReasonInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validEvidenceParams()
			tc.mutate(&p)
			_, err := NewEvidence(p)
			if !domainagg.IsCode(err, domainagg.CodeValidation) {
				t.Fatalf("code: want=validation got=%v", err)
			}
			if got := domainagg.ReasonOf(err); got != tc.reason {
				t.Fatalf("reason: want=%s got=%s", tc.reason, got)
			}
		})
	}
}

func TestTruncateSnippetCapsRunes(t *testing.T) {
	long := strings.Repeat("é", SnippetMaxRunes+50)
	got := TruncateSnippet(&long)
	if got == nil || len([]rune(*got)) != SnippetMaxRunes {
		t.Fatalf("snippet runes: want=%d got=%v", SnippetMaxRunes, got)
	}
	blank := "   "
	if TruncateSnippet(&blank) != nil {
		t.Fatalf("blank snippet should be dropped")
	}
}

func TestEndOfDay(t *testing.T) {
	in := time.Date(2024, 4, 1, 13, 5, 0, 0, time.UTC)
	got := EndOfDay(in)
	want := time.Date(2024, 4, 1, 23, 59, 59, 999999000, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("end of day: want=%s got=%s", want, got)
	}
}
