package ledger

import (
	"sort"
	"strings"
)

// SourceSystem names a trusted integrator that produces evidence.
type SourceSystem string

const (
	SourceSECEdgar        SourceSystem = "sec_edgar"
	SourceSECEdgarExhibit SourceSystem = "sec_edgar_exhibit"
	SourceOpenTargets     SourceSystem = "opentargets"
	SourceChEMBL          SourceSystem = "chembl"
	SourceWikidata        SourceSystem = "wikidata"
	SourceNewsMetadata    SourceSystem = "news_metadata"
	SourcePubMed          SourceSystem = "pubmed"
	SourceClinicalTrials  SourceSystem = "clinicaltrials_gov"
	SourceOpenFDA         SourceSystem = "openfda"
	SourceUSPTO           SourceSystem = "uspto"
)

var knownSources = map[SourceSystem]struct{}{
	SourceSECEdgar:        {},
	SourceSECEdgarExhibit: {},
	SourceOpenTargets:     {},
	SourceChEMBL:          {},
	SourceWikidata:        {},
	SourceNewsMetadata:    {},
	SourcePubMed:          {},
	SourceClinicalTrials:  {},
	SourceOpenFDA:         {},
	SourceUSPTO:           {},
}

func (s SourceSystem) Valid() bool {
	_, ok := knownSources[s]
	return ok
}

// KnownSourceSystems returns the integrator enum in stable order.
func KnownSourceSystems() []SourceSystem {
	out := make([]SourceSystem, 0, len(knownSources))
	for s := range knownSources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ParseSourceSystem(raw string) SourceSystem {
	return SourceSystem(strings.ToLower(strings.TrimSpace(raw)))
}

// LinkMethod is the provenance tag describing how an assertion was established.
type LinkMethod string

const (
	MethodDeterministic       LinkMethod = "DETERMINISTIC"
	MethodCurated             LinkMethod = "CURATED"
	MethodMLSuggestedApproved LinkMethod = "ML_SUGGESTED_APPROVED"
)

func (m LinkMethod) Valid() bool {
	switch m {
	case MethodDeterministic, MethodCurated, MethodMLSuggestedApproved:
		return true
	default:
		return false
	}
}

// RequiresApprover is true for methods where a human signed off on the fact.
func (m LinkMethod) RequiresApprover() bool {
	return m == MethodCurated || m == MethodMLSuggestedApproved
}

func ParseLinkMethod(raw string) LinkMethod {
	return LinkMethod(strings.ToUpper(strings.TrimSpace(raw)))
}

type ConfidenceBand string

const (
	BandHigh   ConfidenceBand = "HIGH"
	BandMedium ConfidenceBand = "MEDIUM"
	BandLow    ConfidenceBand = "LOW"
)

// SupportType qualifies how a piece of evidence backs an assertion.
type SupportType string

const (
	SupportPrimary   SupportType = "PRIMARY"
	SupportSecondary SupportType = "SECONDARY"
	SupportContext   SupportType = "CONTEXT"
)

func (s SupportType) Valid() bool {
	return s == SupportPrimary || s == SupportSecondary || s == SupportContext
}
