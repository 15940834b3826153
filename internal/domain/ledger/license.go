package ledger

import (
	"strings"
	"time"
)

// License is one row of the license allow-list.
type License struct {
	Code             string    `gorm:"column:license;primaryKey" json:"license" yaml:"license"`
	IsCommercialSafe bool      `gorm:"column:is_commercial_safe;not null;default:false" json:"is_commercial_safe" yaml:"commercial_safe"`
	Description      string    `gorm:"column:description" json:"description,omitempty" yaml:"description"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at" yaml:"-"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at" yaml:"-"`
}

func (License) TableName() string { return "license_allowlist" }

func NormalizeLicense(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// DefaultLicenses is the seed allow-list installed by migrations.
func DefaultLicenses() []License {
	return []License{
		{Code: "PUBLIC_DOMAIN", IsCommercialSafe: true, Description: "Public domain (e.g. SEC EDGAR filings)"},
		{Code: "US_GOV_PUBLIC", IsCommercialSafe: true, Description: "US federal government works"},
		{Code: "CC0", IsCommercialSafe: true, Description: "Creative Commons Zero (e.g. Wikidata)"},
		{Code: "CC-BY-4.0", IsCommercialSafe: true, Description: "Attribution required (e.g. Open Targets)"},
		{Code: "CC-BY-SA-3.0", IsCommercialSafe: true, Description: "Attribution share-alike (e.g. ChEMBL)"},
		{Code: "CC-BY-SA-4.0", IsCommercialSafe: true, Description: "Attribution share-alike"},
		{Code: "CC-BY-NC-4.0", IsCommercialSafe: false, Description: "Non-commercial only"},
	}
}
