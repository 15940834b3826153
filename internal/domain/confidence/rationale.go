package confidence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Rationale is the structured record stored alongside every score. It carries enough to
// explain a score without recomputing it.
type Rationale struct {
	Method               string             `json:"method"`
	EvidenceCount        int                `json:"evidence_count"`
	EvidenceBySource     map[string]int     `json:"evidence_by_source"`
	BaseScore            float64            `json:"base_score"`
	EvidenceBonus        float64            `json:"evidence_bonus"`
	SourceBonus          float64            `json:"source_bonus"`
	SourceContributions  map[string]float64 `json:"source_contributions"`
	AgreementBonus       float64            `json:"agreement_bonus"`
	RecencyBonus         float64            `json:"recency_bonus"`
	RecencyReference     string             `json:"recency_reference"`
	CuratorDelta         float64            `json:"curator_delta"`
	CuratorJustification string             `json:"curator_justification,omitempty"`
	UncappedScore        float64            `json:"uncapped_score"`
	CapsApplied          []string           `json:"caps_applied"`
	FinalScore           float64            `json:"final_score"`
	Band                 string             `json:"band"`
}

// JSON encodes the rationale. encoding/json sorts map keys, so output is stable.
func (r Rationale) JSON() ([]byte, error) {
	return json.Marshal(r)
}

func ParseRationale(raw []byte) (Rationale, error) {
	var r Rationale
	if len(raw) == 0 {
		return r, fmt.Errorf("confidence: empty rationale")
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("confidence: decode rationale: %w", err)
	}
	return r, nil
}

// Bullets renders the rationale as short human-readable lines.
func (r Rationale) Bullets() []string {
	out := []string{fmt.Sprintf("Method: %s", r.Method)}

	sources := make([]string, 0, len(r.EvidenceBySource))
	for s := range r.EvidenceBySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		parts = append(parts, fmt.Sprintf("%d %s", r.EvidenceBySource[s], s))
	}
	plural := "s"
	if r.EvidenceCount == 1 {
		plural = ""
	}
	out = append(out, fmt.Sprintf("%d evidence record%s: %s", r.EvidenceCount, plural, strings.Join(parts, ", ")))
	out = append(out, fmt.Sprintf("Base confidence: %.2f (%s)", r.BaseScore, r.Method))

	if r.EvidenceBonus > 0 {
		out = append(out, fmt.Sprintf("+%.2f for corroborating evidence", r.EvidenceBonus))
	}
	if r.SourceBonus > 0 {
		out = append(out, fmt.Sprintf("+%.3f from source quality", r.SourceBonus))
	}
	if r.AgreementBonus > 0 {
		out = append(out, fmt.Sprintf("+%.2f for agreement across high-trust sources", r.AgreementBonus))
	}
	if r.RecencyBonus > 0 {
		out = append(out, fmt.Sprintf("+%.2f for recent evidence", r.RecencyBonus))
	}
	if r.CuratorDelta != 0 {
		out = append(out, fmt.Sprintf("Curator adjustment: %+.2f (%s)", r.CuratorDelta, r.CuratorJustification))
	}
	if len(r.CapsApplied) > 0 {
		out = append(out, fmt.Sprintf("Cap applied: %s", strings.Join(r.CapsApplied, ", ")))
	}
	out = append(out, fmt.Sprintf("Final: %.2f (%s)", r.FinalScore, r.Band))
	return out
}
