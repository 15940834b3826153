package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
)

// SnippetMaxRunes bounds stored source text; full-text storage is not allowed.
const SnippetMaxRunes = 200

// Evidence is a licensed provenance record citing an external source.
type Evidence struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SourceSystem   SourceSystem   `gorm:"column:source_system;not null;uniqueIndex:idx_evidence_source_record,priority:1" json:"source_system"`
	SourceRecordID string         `gorm:"column:source_record_id;not null;uniqueIndex:idx_evidence_source_record,priority:2" json:"source_record_id"`
	ObservedAt     time.Time      `gorm:"column:observed_at;not null;index" json:"observed_at"`
	License        string         `gorm:"column:license;not null;index" json:"license"`
	URI            string         `gorm:"column:uri;not null" json:"uri"`
	Snippet        *string        `gorm:"column:snippet;size:200" json:"snippet,omitempty"`
	Checksum       string         `gorm:"column:checksum" json:"checksum,omitempty"`
	BaseConfidence *float64       `gorm:"column:base_confidence" json:"base_confidence,omitempty"`
	CreatedBy      string         `gorm:"column:created_by;not null;default:'system'" json:"created_by"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	DeletedBy      *string        `gorm:"column:deleted_by" json:"deleted_by,omitempty"`
	DeleteReason   *string        `gorm:"column:delete_reason" json:"delete_reason,omitempty"`
}

func (Evidence) TableName() string { return "evidence" }

// NewEvidenceParams is the evidence ingestion contract.
type NewEvidenceParams struct {
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

// NewEvidence validates and normalizes an ingestion payload. License allow-listing is
// checked separately because it needs the allow-list table.
func NewEvidence(p NewEvidenceParams) (*Evidence, error) {
	const op = "ledger.NewEvidence"
	src := ParseSourceSystem(p.SourceSystem)
	if src == "" {
		return nil, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op, "source_system is required")
	}
	if !src.Valid() {
		return nil, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonUnknownSourceSystem, op,
			fmt.Sprintf("unknown source_system %q", p.SourceSystem))
	}
	recordID := strings.TrimSpace(p.SourceRecordID)
	if recordID == "" {
		return nil, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op, "source_record_id is required")
	}
	if p.ObservedAt.IsZero() {
		return nil, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op, "observed_at is required")
	}
	license := NormalizeLicense(p.License)
	if license == "" {
		return nil, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonLicenseRejected, op, "license is required")
	}
	uri := strings.TrimSpace(p.URI)
	if uri == "" {
		return nil, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op, "uri is required")
	}
	if p.BaseConfidence != nil {
		bc := *p.BaseConfidence
		if math.IsNaN(bc) || bc < 0 || bc > 1 {
			return nil, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, op, "base_confidence must be within [0,1]")
		}
	}
	createdBy := strings.TrimSpace(p.CreatedBy)
	if createdBy == "" {
		createdBy = "system"
	}
	return &Evidence{
		ID:             uuid.New(),
		SourceSystem:   src,
		SourceRecordID: recordID,
		ObservedAt:     NormalizeTime(p.ObservedAt),
		License:        license,
		URI:            uri,
		Snippet:        TruncateSnippet(p.Snippet),
		Checksum:       strings.TrimSpace(p.Checksum),
		BaseConfidence: p.BaseConfidence,
		CreatedBy:      createdBy,
	}, nil
}

// TruncateSnippet trims whitespace and cuts the text to SnippetMaxRunes runes.
func TruncateSnippet(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	if utf8.RuneCountInString(v) > SnippetMaxRunes {
		v = string([]rune(v)[:SnippetMaxRunes])
	}
	return &v
}

// NormalizeTime stores instants in UTC at microsecond precision so SQL round-trips are exact.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

// EndOfDay is the last representable instant of the UTC calendar day containing t.
func EndOfDay(t time.Time) time.Time {
	d := DateOnly(t)
	return d.Add(24*time.Hour - time.Microsecond)
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
