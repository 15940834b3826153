package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/data/repos/ledger"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type LicenseRepo = ledger.LicenseRepo
type EvidenceRepo = ledger.EvidenceRepo
type AssertionRepo = ledger.AssertionRepo
type AssertionEvidenceRepo = ledger.AssertionEvidenceRepo
type ExplanationRepo = ledger.ExplanationRepo
type LookupCacheRepo = ledger.LookupCacheRepo

type EvidenceFilter = ledger.EvidenceFilter
type AssertionFilter = ledger.AssertionFilter
type ValidAtQuery = ledger.ValidAtQuery

func NewLicenseRepo(db *gorm.DB, baseLog *logger.Logger) LicenseRepo {
	return ledger.NewLicenseRepo(db, baseLog)
}
func NewEvidenceRepo(db *gorm.DB, baseLog *logger.Logger) EvidenceRepo {
	return ledger.NewEvidenceRepo(db, baseLog)
}
func NewAssertionRepo(db *gorm.DB, baseLog *logger.Logger) AssertionRepo {
	return ledger.NewAssertionRepo(db, baseLog)
}
func NewAssertionEvidenceRepo(db *gorm.DB, baseLog *logger.Logger) AssertionEvidenceRepo {
	return ledger.NewAssertionEvidenceRepo(db, baseLog)
}
func NewExplanationRepo(db *gorm.DB, baseLog *logger.Logger) ExplanationRepo {
	return ledger.NewExplanationRepo(db, baseLog)
}
func NewLookupCacheRepo(db *gorm.DB, baseLog *logger.Logger) LookupCacheRepo {
	return ledger.NewLookupCacheRepo(db, baseLog)
}
