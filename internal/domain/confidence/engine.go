// Package confidence scores assertions from their creation method and linked evidence.
//
// The engine is a pure function of its inputs: no clock, no randomness, no I/O. Callers
// that want recency relative to "now" pass the instant in explicitly.
package confidence

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/biograph-backend/internal/domain/ledger"
)

var (
	ErrNoEvidence              = errors.New("confidence: no evidence")
	ErrInsufficientSourceTrust = errors.New("confidence: evidence only from low-trust sources")
	ErrInvalidAdjustment       = errors.New("confidence: curator delta out of range")
	ErrMissingJustification    = errors.New("confidence: curator delta requires justification")
	ErrUnknownMethod           = errors.New("confidence: unknown link method")
)

// EvidenceInput is the slice of an evidence record the engine scores on.
type EvidenceInput struct {
	SourceSystem ledger.SourceSystem
	ObservedAt   time.Time
}

type Input struct {
	Method               ledger.LinkMethod
	Evidence             []EvidenceInput
	CuratorDelta         float64
	CuratorJustification string
	// ReferenceTime anchors the recency window. Zero means the latest observed_at.
	ReferenceTime time.Time
}

type Result struct {
	Score     float64
	Band      ledger.ConfidenceBand
	Rationale Rationale
}

type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{policy: policy.clone()}, nil
}

var defaultEngine = &Engine{policy: DefaultPolicy()}

// Default returns the engine configured with DefaultPolicy.
func Default() *Engine { return defaultEngine }

// ComputeConfidence scores with the default policy.
func ComputeConfidence(in Input) (Result, error) {
	return defaultEngine.Compute(in)
}

func (e *Engine) Policy() Policy { return e.policy.clone() }

func (e *Engine) Compute(in Input) (Result, error) {
	p := e.policy
	base, ok := p.MethodBaselines[in.Method]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMethod, in.Method)
	}
	methodCap := p.MethodCaps[in.Method]

	if len(in.Evidence) == 0 {
		return Result{}, ErrNoEvidence
	}
	if err := e.CheckAdjustment(in.CuratorDelta, in.CuratorJustification); err != nil {
		return Result{}, err
	}

	bySource := make(map[string]int)
	sources := make([]ledger.SourceSystem, 0, len(in.Evidence))
	var latest time.Time
	highTrust := 0
	for _, ev := range in.Evidence {
		if bySource[string(ev.SourceSystem)] == 0 {
			sources = append(sources, ev.SourceSystem)
		}
		bySource[string(ev.SourceSystem)]++
		if p.IsHighTrust(ev.SourceSystem) {
			highTrust++
		}
		if ev.ObservedAt.After(latest) {
			latest = ev.ObservedAt
		}
	}
	if p.OnlyLowTrust(sources) {
		return Result{}, ErrInsufficientSourceTrust
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	count := len(in.Evidence)
	evidenceBonus := math.Min(p.EvidenceBonusCap, math.Max(0, float64(count-1)*p.EvidenceBonusStep))

	contributions := make(map[string]float64)
	sourceBonus := 0.0
	for _, s := range sources {
		weight, ok := p.SourceWeights[s]
		if !ok {
			continue
		}
		c := float64(bySource[string(s)]) * weight
		if limit, capped := p.SourceCaps[s]; capped {
			c = math.Min(limit, c)
		}
		c = round6(c)
		contributions[string(s)] = c
		sourceBonus += c
	}

	agreement := 0.0
	if highTrust > 1 {
		agreement = p.AgreementBonus
	}

	ref := in.ReferenceTime
	if ref.IsZero() {
		ref = latest
	}
	cutoff := ref.Add(-p.RecencyWindow())
	recent := 0
	for _, ev := range in.Evidence {
		if !ev.ObservedAt.Before(cutoff) {
			recent++
		}
	}
	recency := 0.0
	if recent >= p.RecencyMinItems {
		recency = p.RecencyBonus
	}

	uncapped := round6(base + evidenceBonus + sourceBonus + agreement + recency + in.CuratorDelta)
	final := uncapped
	var caps []string
	if final > methodCap {
		final = methodCap
		caps = append(caps, fmt.Sprintf("%s_cap_%.2f", strings.ToLower(string(in.Method)), methodCap))
	}
	if final < 0 {
		final = 0
		caps = append(caps, "floor_0.00")
	}
	if final > 1 {
		final = 1
		caps = append(caps, "ceiling_1.00")
	}
	final = round6(final)
	band := p.Band(final)

	if caps == nil {
		caps = []string{}
	}
	r := Rationale{
		Method:               string(in.Method),
		EvidenceCount:        count,
		EvidenceBySource:     bySource,
		BaseScore:            round6(base),
		EvidenceBonus:        round6(evidenceBonus),
		SourceBonus:          round6(sourceBonus),
		SourceContributions:  contributions,
		AgreementBonus:       round6(agreement),
		RecencyBonus:         round6(recency),
		RecencyReference:     ref.UTC().Format(time.RFC3339),
		CuratorDelta:         round6(in.CuratorDelta),
		CuratorJustification: strings.TrimSpace(in.CuratorJustification),
		UncappedScore:        uncapped,
		CapsApplied:          caps,
		FinalScore:           final,
		Band:                 string(band),
	}
	return Result{Score: final, Band: band, Rationale: r}, nil
}

// CheckAdjustment validates a curator delta. Range is checked before justification.
func (e *Engine) CheckAdjustment(delta float64, justification string) error {
	limit := e.policy.CuratorDeltaLimit
	if math.IsNaN(delta) || math.IsInf(delta, 0) || delta < -limit || delta > limit {
		return fmt.Errorf("%w: %v not within [-%.2f, %.2f]", ErrInvalidAdjustment, delta, limit, limit)
	}
	if delta != 0 && strings.TrimSpace(justification) == "" {
		return ErrMissingJustification
	}
	return nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
