package confidence

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/biograph-backend/internal/domain/ledger"
)

// Policy holds every constant the engine scores with. A Policy is read-only once
// handed to an Engine.
type Policy struct {
	MethodBaselines map[ledger.LinkMethod]float64   `yaml:"method_baselines"`
	MethodCaps      map[ledger.LinkMethod]float64   `yaml:"method_caps"`
	SourceWeights   map[ledger.SourceSystem]float64 `yaml:"source_weights"`
	SourceCaps      map[ledger.SourceSystem]float64 `yaml:"source_caps"`

	HighTrustSources []ledger.SourceSystem `yaml:"high_trust_sources"`
	LowTrustSources  []ledger.SourceSystem `yaml:"low_trust_sources"`

	EvidenceBonusStep float64 `yaml:"evidence_bonus_step"`
	EvidenceBonusCap  float64 `yaml:"evidence_bonus_cap"`
	AgreementBonus    float64 `yaml:"agreement_bonus"`
	RecencyBonus      float64 `yaml:"recency_bonus"`
	RecencyWindowDays int     `yaml:"recency_window_days"`
	RecencyMinItems   int     `yaml:"recency_min_items"`
	CuratorDeltaLimit float64 `yaml:"curator_delta_limit"`

	BandHighMin   float64 `yaml:"band_high_min"`
	BandMediumMin float64 `yaml:"band_medium_min"`
}

func DefaultPolicy() Policy {
	return Policy{
		MethodBaselines: map[ledger.LinkMethod]float64{
			ledger.MethodDeterministic:       0.95,
			ledger.MethodCurated:             0.90,
			ledger.MethodMLSuggestedApproved: 0.75,
		},
		MethodCaps: map[ledger.LinkMethod]float64{
			ledger.MethodDeterministic:       0.99,
			ledger.MethodCurated:             1.00,
			ledger.MethodMLSuggestedApproved: 0.85,
		},
		SourceWeights: map[ledger.SourceSystem]float64{
			ledger.SourceSECEdgar:        0.02,
			ledger.SourceSECEdgarExhibit: 0.02,
			ledger.SourceOpenTargets:     0.015,
			ledger.SourceChEMBL:          0.015,
			ledger.SourceWikidata:        0.005,
			ledger.SourceNewsMetadata:    0.001,
		},
		SourceCaps: map[ledger.SourceSystem]float64{
			ledger.SourceSECEdgar:        0.06,
			ledger.SourceSECEdgarExhibit: 0.06,
			ledger.SourceOpenTargets:     0.05,
			ledger.SourceChEMBL:          0.05,
		},
		HighTrustSources: []ledger.SourceSystem{
			ledger.SourceSECEdgar,
			ledger.SourceSECEdgarExhibit,
			ledger.SourceOpenTargets,
			ledger.SourceChEMBL,
		},
		LowTrustSources:   []ledger.SourceSystem{ledger.SourceNewsMetadata},
		EvidenceBonusStep: 0.01,
		EvidenceBonusCap:  0.03,
		AgreementBonus:    0.02,
		RecencyBonus:      0.01,
		RecencyWindowDays: 180,
		RecencyMinItems:   2,
		CuratorDeltaLimit: 0.10,
		BandHighMin:       0.90,
		BandMediumMin:     0.75,
	}
}

// LoadPolicy overlays a YAML file onto DefaultPolicy. Keys absent from the file keep
// their default values.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("confidence policy: read %s: %w", path, err)
	}
	var overlay Policy
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return Policy{}, fmt.Errorf("confidence policy: parse %s: %w", path, err)
	}
	p.merge(overlay)
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p *Policy) merge(o Policy) {
	for k, v := range o.MethodBaselines {
		p.MethodBaselines[k] = v
	}
	for k, v := range o.MethodCaps {
		p.MethodCaps[k] = v
	}
	for k, v := range o.SourceWeights {
		p.SourceWeights[k] = v
	}
	for k, v := range o.SourceCaps {
		p.SourceCaps[k] = v
	}
	if len(o.HighTrustSources) > 0 {
		p.HighTrustSources = o.HighTrustSources
	}
	if len(o.LowTrustSources) > 0 {
		p.LowTrustSources = o.LowTrustSources
	}
	setIfPositive(&p.EvidenceBonusStep, o.EvidenceBonusStep)
	setIfPositive(&p.EvidenceBonusCap, o.EvidenceBonusCap)
	setIfPositive(&p.AgreementBonus, o.AgreementBonus)
	setIfPositive(&p.RecencyBonus, o.RecencyBonus)
	setIfPositive(&p.CuratorDeltaLimit, o.CuratorDeltaLimit)
	setIfPositive(&p.BandHighMin, o.BandHighMin)
	setIfPositive(&p.BandMediumMin, o.BandMediumMin)
	if o.RecencyWindowDays > 0 {
		p.RecencyWindowDays = o.RecencyWindowDays
	}
	if o.RecencyMinItems > 0 {
		p.RecencyMinItems = o.RecencyMinItems
	}
}

func setIfPositive(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func (p Policy) Validate() error {
	for _, m := range []ledger.LinkMethod{ledger.MethodDeterministic, ledger.MethodCurated, ledger.MethodMLSuggestedApproved} {
		base, ok := p.MethodBaselines[m]
		if !ok || base < 0 || base > 1 {
			return fmt.Errorf("confidence policy: baseline for %s must be within [0,1]", m)
		}
		limit, ok := p.MethodCaps[m]
		if !ok || limit <= 0 || limit > 1 {
			return fmt.Errorf("confidence policy: cap for %s must be within (0,1]", m)
		}
	}
	if p.BandMediumMin <= 0 || p.BandHighMin <= p.BandMediumMin || p.BandHighMin > 1 {
		return fmt.Errorf("confidence policy: band thresholds must satisfy 0 < medium < high <= 1")
	}
	if len(p.LowTrustSources) == 0 {
		return fmt.Errorf("confidence policy: low-trust tier must not be empty")
	}
	for _, s := range p.LowTrustSources {
		if p.IsHighTrust(s) {
			return fmt.Errorf("confidence policy: %s cannot be both high and low trust", s)
		}
	}
	return nil
}

func (p Policy) RecencyWindow() time.Duration {
	return time.Duration(p.RecencyWindowDays) * 24 * time.Hour
}

func (p Policy) IsLowTrust(s ledger.SourceSystem) bool {
	for _, lt := range p.LowTrustSources {
		if lt == s {
			return true
		}
	}
	return false
}

func (p Policy) IsHighTrust(s ledger.SourceSystem) bool {
	for _, ht := range p.HighTrustSources {
		if ht == s {
			return true
		}
	}
	return false
}

// OnlyLowTrust reports whether every source in the set belongs to the low-trust tier.
// An empty set is not "only low trust"; emptiness is reported separately.
func (p Policy) OnlyLowTrust(sources []ledger.SourceSystem) bool {
	if len(sources) == 0 {
		return false
	}
	for _, s := range sources {
		if !p.IsLowTrust(s) {
			return false
		}
	}
	return true
}

// Band discretizes a score.
func (p Policy) Band(score float64) ledger.ConfidenceBand {
	switch {
	case score >= p.BandHighMin:
		return ledger.BandHigh
	case score >= p.BandMediumMin:
		return ledger.BandMedium
	default:
		return ledger.BandLow
	}
}

func (p Policy) clone() Policy {
	c := p
	c.MethodBaselines = copyMap(p.MethodBaselines)
	c.MethodCaps = copyMap(p.MethodCaps)
	c.SourceWeights = copyMap(p.SourceWeights)
	c.SourceCaps = copyMap(p.SourceCaps)
	c.HighTrustSources = append([]ledger.SourceSystem(nil), p.HighTrustSources...)
	c.LowTrustSources = append([]ledger.SourceSystem(nil), p.LowTrustSources...)
	return c
}

func copyMap[K comparable](in map[K]float64) map[K]float64 {
	out := make(map[K]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
