package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Explanation is one materialized Root -> Mid -> Target -> Leaf chain for a date.
type Explanation struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RootEntityID        string    `gorm:"column:root_entity_id;not null;uniqueIndex:idx_explanation_chain_date,priority:1;index:idx_explanation_root_date,priority:1" json:"root_entity_id"`
	MidEntityID         string    `gorm:"column:mid_entity_id;not null;uniqueIndex:idx_explanation_chain_date,priority:2" json:"mid_entity_id"`
	TargetEntityID      string    `gorm:"column:target_entity_id;not null;uniqueIndex:idx_explanation_chain_date,priority:3" json:"target_entity_id"`
	LeafEntityID        string    `gorm:"column:leaf_entity_id;not null;uniqueIndex:idx_explanation_chain_date,priority:4" json:"leaf_entity_id"`
	AsOfDate            time.Time `gorm:"column:as_of_date;type:date;not null;uniqueIndex:idx_explanation_chain_date,priority:5;index:idx_explanation_root_date,priority:2" json:"as_of_date"`
	RootMidAssertion    uuid.UUID `gorm:"type:uuid;column:root_mid_assertion_id;not null" json:"root_mid_assertion_id"`
	MidTargetAssertion  uuid.UUID `gorm:"type:uuid;column:mid_target_assertion_id;not null" json:"mid_target_assertion_id"`
	TargetLeafAssertion uuid.UUID `gorm:"type:uuid;column:target_leaf_assertion_id;not null" json:"target_leaf_assertion_id"`
	StrengthScore       float64   `gorm:"column:strength_score;not null" json:"strength_score"`
	RowHash             string    `gorm:"column:row_hash;not null" json:"row_hash"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

func (Explanation) TableName() string { return "explanation" }

// ChainKey is the natural key of an explanation row, without its date.
type ChainKey struct {
	Root   string `json:"root"`
	Mid    string `json:"mid"`
	Target string `json:"target"`
	Leaf   string `json:"leaf"`
}

func (e *Explanation) ChainKey() ChainKey {
	return ChainKey{Root: e.RootEntityID, Mid: e.MidEntityID, Target: e.TargetEntityID, Leaf: e.LeafEntityID}
}

func (k ChainKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Root, k.Mid, k.Target, k.Leaf)
}

func (e *Explanation) AssertionIDs() []uuid.UUID {
	return []uuid.UUID{e.RootMidAssertion, e.MidTargetAssertion, e.TargetLeafAssertion}
}

var explanationNamespace = uuid.MustParse("5b1f7c8e-2a7d-4f0e-9c1a-3d6b8e2f4a10")

// ExplanationID derives a stable id from the chain key and date so re-runs target the same row.
func ExplanationID(k ChainKey, asOf time.Time) uuid.UUID {
	return uuid.NewSHA1(explanationNamespace, []byte(k.String()+"|"+DateOnly(asOf).Format(time.DateOnly)))
}

// ComputeRowHash fingerprints the content of a row that a re-run could change.
func ComputeRowHash(e *Explanation) string {
	payload := struct {
		Key        ChainKey    `json:"key"`
		AsOf       string      `json:"as_of"`
		Assertions []uuid.UUID `json:"assertions"`
		Strength   string      `json:"strength"`
	}{
		Key:        e.ChainKey(),
		AsOf:       DateOnly(e.AsOfDate).Format(time.DateOnly),
		Assertions: e.AssertionIDs(),
		Strength:   fmt.Sprintf("%.6f", e.StrengthScore),
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}
