package domain

import (
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
)

type Evidence = ledger.Evidence
type NewEvidenceParams = ledger.NewEvidenceParams
type License = ledger.License
type Assertion = ledger.Assertion
type AssertionEvidence = ledger.AssertionEvidence
type NaturalKey = ledger.NaturalKey
type Explanation = ledger.Explanation
type ChainKey = ledger.ChainKey
type LookupCacheEntry = ledger.LookupCacheEntry

type SourceSystem = ledger.SourceSystem
type LinkMethod = ledger.LinkMethod
type ConfidenceBand = ledger.ConfidenceBand
type SupportType = ledger.SupportType
type CacheSource = ledger.CacheSource

const (
	MethodDeterministic       = ledger.MethodDeterministic
	MethodCurated             = ledger.MethodCurated
	MethodMLSuggestedApproved = ledger.MethodMLSuggestedApproved

	BandHigh   = ledger.BandHigh
	BandMedium = ledger.BandMedium
	BandLow    = ledger.BandLow

	SupportPrimary   = ledger.SupportPrimary
	SupportSecondary = ledger.SupportSecondary
	SupportContext   = ledger.SupportContext
)

// AllModels lists every persisted record in migration order.
func AllModels() []any {
	return []any{
		&License{},
		&Evidence{},
		&Assertion{},
		&AssertionEvidence{},
		&Explanation{},
		&LookupCacheEntry{},
	}
}
