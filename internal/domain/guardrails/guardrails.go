// Package guardrails holds the pre-commit checks a proposed assertion must pass.
//
// Every check is a plain function over typed records so it can run inside any unit of
// work. Database triggers may repeat some of these checks; correctness never depends on them.
package guardrails

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/domain/confidence"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
)

// LicenseSet maps a normalized license code to its commercial-safe flag.
type LicenseSet map[string]bool

func NewLicenseSet(rows []ledger.License) LicenseSet {
	out := make(LicenseSet, len(rows))
	for _, r := range rows {
		out[ledger.NormalizeLicense(r.Code)] = r.IsCommercialSafe
	}
	return out
}

type Validator struct {
	policy confidence.Policy
}

func New(policy confidence.Policy) *Validator {
	return &Validator{policy: policy}
}

// CheckLicense fails with LICENSE_REJECTED unless the code is allow-listed and commercial-safe.
func (v *Validator) CheckLicense(op, license string, allow LicenseSet) error {
	code := ledger.NormalizeLicense(license)
	safe, known := allow[code]
	switch {
	case code == "":
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonLicenseRejected, op, "license is required")
	case !known:
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonLicenseRejected, op,
			fmt.Sprintf("license %q is not in the allow-list", code))
	case !safe:
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonLicenseRejected, op,
			fmt.Sprintf("license %q is not commercial-safe", code))
	}
	return nil
}

// CheckProvenance refuses assertion writes that lack a human or deterministic provenance tag.
func (v *Validator) CheckProvenance(op string, method ledger.LinkMethod, approvedBy string) error {
	if method == "" {
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonUntrustedProvenance, op, "link_method is required")
	}
	if !method.Valid() {
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonUntrustedProvenance, op,
			fmt.Sprintf("link_method %q is not an accepted provenance tag", method))
	}
	if method.RequiresApprover() && strings.TrimSpace(approvedBy) == "" {
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonUntrustedProvenance, op,
			fmt.Sprintf("link_method %s requires an approving curator", method))
	}
	return nil
}

// CheckEvidenceSet runs the assertion guardrail pass in order: presence, source trust, licenses.
// found holds the non-deleted evidence rows that resolved from requested.
func (v *Validator) CheckEvidenceSet(op string, requested []uuid.UUID, found []*ledger.Evidence, allow LicenseSet) error {
	if len(requested) == 0 {
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonMissingEvidence, op, "evidence_ids must not be empty")
	}
	byID := make(map[uuid.UUID]*ledger.Evidence, len(found))
	for _, ev := range found {
		if ev != nil && !ev.DeletedAt.Valid {
			byID[ev.ID] = ev
		}
	}
	var missing []string
	for _, id := range requested {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonMissingEvidence, op,
			fmt.Sprintf("evidence not found or deleted: %s", strings.Join(missing, ", ")))
	}

	if err := v.CheckSourceTrust(op, found); err != nil {
		return err
	}

	for _, ev := range found {
		if err := v.CheckLicense(op, ev.License, allow); err != nil {
			return err
		}
	}
	return nil
}

// CheckSourceTrust fails when the distinct sources of evidence all sit in the low-trust tier.
func (v *Validator) CheckSourceTrust(op string, evidence []*ledger.Evidence) error {
	if v.policy.OnlyLowTrust(DistinctSources(evidence)) {
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonInsufficientSourceTrust, op,
			"evidence comes only from low-trust sources; add at least one trusted-tier record")
	}
	return nil
}

// CheckRemainingSupport guards evidence removal: what stays must still satisfy the
// presence and trust invariants for the assertion.
func (v *Validator) CheckRemainingSupport(op string, assertionID uuid.UUID, remaining []*ledger.Evidence) error {
	if len(remaining) == 0 {
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonEvidenceInUse, op,
			fmt.Sprintf("assertion %s would be left without evidence", assertionID))
	}
	if v.policy.OnlyLowTrust(DistinctSources(remaining)) {
		return domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonEvidenceInUse, op,
			fmt.Sprintf("assertion %s would be left with only low-trust evidence", assertionID))
	}
	return nil
}

// SupportTypeFor picks the default link qualifier for a piece of evidence.
func (v *Validator) SupportTypeFor(ev *ledger.Evidence) ledger.SupportType {
	switch {
	case ev == nil:
		return ledger.SupportContext
	case v.policy.IsLowTrust(ev.SourceSystem):
		return ledger.SupportContext
	case v.policy.IsHighTrust(ev.SourceSystem):
		return ledger.SupportPrimary
	default:
		return ledger.SupportSecondary
	}
}

func DistinctSources(evidence []*ledger.Evidence) []ledger.SourceSystem {
	seen := make(map[ledger.SourceSystem]struct{}, len(evidence))
	out := make([]ledger.SourceSystem, 0, len(evidence))
	for _, ev := range evidence {
		if ev == nil {
			continue
		}
		if _, ok := seen[ev.SourceSystem]; ok {
			continue
		}
		seen[ev.SourceSystem] = struct{}{}
		out = append(out, ev.SourceSystem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EngineInputs converts evidence rows into confidence engine inputs.
func EngineInputs(evidence []*ledger.Evidence) []confidence.EvidenceInput {
	out := make([]confidence.EvidenceInput, 0, len(evidence))
	for _, ev := range evidence {
		if ev == nil {
			continue
		}
		out = append(out, confidence.EvidenceInput{SourceSystem: ev.SourceSystem, ObservedAt: ev.ObservedAt})
	}
	return out
}
