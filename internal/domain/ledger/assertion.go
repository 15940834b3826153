package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
)

// Assertion is an effective-dated subject-predicate-object fact.
//
// Exactly one row per natural key has is_current=true (partial unique index
// idx_assertion_current_key). Older versions are kept with valid_to set.
type Assertion struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectType string    `gorm:"column:subject_type;not null;index:idx_assertion_subject,priority:1;uniqueIndex:idx_assertion_current_key,priority:1,where:is_current = true" json:"subject_type"`
	SubjectID   string    `gorm:"column:subject_id;not null;index:idx_assertion_subject,priority:2;uniqueIndex:idx_assertion_current_key,priority:2,where:is_current = true" json:"subject_id"`
	Predicate   string    `gorm:"column:predicate;not null;uniqueIndex:idx_assertion_current_key,priority:3,where:is_current = true" json:"predicate"`
	ObjectType  string    `gorm:"column:object_type;not null;index:idx_assertion_object,priority:1;uniqueIndex:idx_assertion_current_key,priority:4,where:is_current = true" json:"object_type"`
	ObjectID    string    `gorm:"column:object_id;not null;index:idx_assertion_object,priority:2;uniqueIndex:idx_assertion_current_key,priority:5,where:is_current = true" json:"object_id"`

	AssertedAt    time.Time  `gorm:"column:asserted_at;not null;index" json:"asserted_at"`
	RetractedAt   *time.Time `gorm:"column:retracted_at;index" json:"retracted_at,omitempty"`
	RetractedBy   *string    `gorm:"column:retracted_by" json:"retracted_by,omitempty"`
	RetractReason *string    `gorm:"column:retract_reason" json:"retract_reason,omitempty"`

	ConfidenceScore      *float64        `gorm:"column:confidence_score" json:"confidence_score,omitempty"`
	ConfidenceBand       *ConfidenceBand `gorm:"column:confidence_band" json:"confidence_band,omitempty"`
	LinkMethod           LinkMethod      `gorm:"column:link_method;not null" json:"link_method"`
	RationaleJSON        datatypes.JSON  `gorm:"column:rationale_json" json:"rationale_json,omitempty"`
	CuratorDelta         float64         `gorm:"column:curator_delta;not null;default:0" json:"curator_delta"`
	CuratorJustification *string         `gorm:"column:curator_justification" json:"curator_justification,omitempty"`

	VersionID    int        `gorm:"column:version_id;not null;default:1;check:chk_assertion_version_positive,version_id > 0" json:"version_id"`
	Revision     int        `gorm:"column:revision;not null;default:1" json:"revision"`
	SupersedesID *uuid.UUID `gorm:"type:uuid;column:supersedes_id;index" json:"supersedes_id,omitempty"`
	IsCurrent    bool       `gorm:"column:is_current;not null;default:true;index" json:"is_current"`
	ValidFrom    time.Time  `gorm:"column:valid_from;not null" json:"valid_from"`
	ValidTo      *time.Time `gorm:"column:valid_to;check:chk_assertion_valid_window,valid_to IS NULL OR valid_to > valid_from" json:"valid_to,omitempty"`

	CreatedBy  string    `gorm:"column:created_by;not null;default:'system'" json:"created_by"`
	ApprovedBy *string   `gorm:"column:approved_by" json:"approved_by,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (Assertion) TableName() string { return "assertion" }

// NaturalKey identifies a fact independent of its version.
type NaturalKey struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	Predicate   string `json:"predicate"`
	ObjectType  string `json:"object_type"`
	ObjectID    string `json:"object_id"`
}

func (k NaturalKey) Normalize() NaturalKey {
	return NaturalKey{
		SubjectType: strings.ToLower(strings.TrimSpace(k.SubjectType)),
		SubjectID:   strings.TrimSpace(k.SubjectID),
		Predicate:   strings.ToLower(strings.TrimSpace(k.Predicate)),
		ObjectType:  strings.ToLower(strings.TrimSpace(k.ObjectType)),
		ObjectID:    strings.TrimSpace(k.ObjectID),
	}
}

func (k NaturalKey) Validate() error {
	if k.SubjectType == "" || k.SubjectID == "" || k.Predicate == "" || k.ObjectType == "" || k.ObjectID == "" {
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInvalidInput, "ledger.NaturalKey",
			"subject_type, subject_id, predicate, object_type and object_id are required")
	}
	return nil
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("%s:%s -[%s]-> %s:%s", k.SubjectType, k.SubjectID, k.Predicate, k.ObjectType, k.ObjectID)
}

func (a *Assertion) NaturalKey() NaturalKey {
	return NaturalKey{
		SubjectType: a.SubjectType,
		SubjectID:   a.SubjectID,
		Predicate:   a.Predicate,
		ObjectType:  a.ObjectType,
		ObjectID:    a.ObjectID,
	}
}

func (a *Assertion) SetNaturalKey(k NaturalKey) {
	a.SubjectType = k.SubjectType
	a.SubjectID = k.SubjectID
	a.Predicate = k.Predicate
	a.ObjectType = k.ObjectType
	a.ObjectID = k.ObjectID
}

// IsRetracted reports whether the assertion is retracted as of t.
func (a *Assertion) IsRetracted(t time.Time) bool {
	return a.RetractedAt != nil && !a.RetractedAt.After(t)
}

// ValidAt reports whether the assertion version was in force at instant t.
func (a *Assertion) ValidAt(t time.Time) bool {
	if a.AssertedAt.After(t) || a.ValidFrom.After(t) {
		return false
	}
	if a.ValidTo != nil && !a.ValidTo.After(t) {
		return false
	}
	return !a.IsRetracted(t)
}

// RequireConfidence rejects assertions whose confidence fields were never populated.
func RequireConfidence(a *Assertion) error {
	if a == nil {
		return domainagg.NewError(domainagg.CodeNotFound, "ledger.RequireConfidence", "assertion missing", nil)
	}
	var missing []string
	if a.ConfidenceScore == nil {
		missing = append(missing, "confidence_score")
	}
	if a.ConfidenceBand == nil || *a.ConfidenceBand == "" {
		missing = append(missing, "confidence_band")
	}
	if !a.LinkMethod.Valid() {
		missing = append(missing, "link_method")
	}
	if len(a.RationaleJSON) == 0 {
		missing = append(missing, "rationale_json")
	}
	if len(missing) == 0 {
		return nil
	}
	return domainagg.NewReasonError(domainagg.CodeInvariantViolation, domainagg.ReasonConfidenceMissing, "ledger.RequireConfidence",
		fmt.Sprintf("assertion %s missing %s", a.ID, strings.Join(missing, ", ")))
}

// AssertionEvidence links an assertion to one supporting evidence record.
type AssertionEvidence struct {
	AssertionID uuid.UUID   `gorm:"type:uuid;column:assertion_id;primaryKey" json:"assertion_id"`
	EvidenceID  uuid.UUID   `gorm:"type:uuid;column:evidence_id;primaryKey;index" json:"evidence_id"`
	SupportType SupportType `gorm:"column:support_type;not null;default:'PRIMARY'" json:"support_type"`
	CreatedAt   time.Time   `gorm:"not null" json:"created_at"`
}

func (AssertionEvidence) TableName() string { return "assertion_evidence" }
