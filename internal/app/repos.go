package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/data/repos"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type Repos struct {
	Licenses     repos.LicenseRepo
	Evidence     repos.EvidenceRepo
	Assertions   repos.AssertionRepo
	Links        repos.AssertionEvidenceRepo
	Explanations repos.ExplanationRepo
	LookupCache  repos.LookupCacheRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Licenses:     repos.NewLicenseRepo(db, log),
		Evidence:     repos.NewEvidenceRepo(db, log),
		Assertions:   repos.NewAssertionRepo(db, log),
		Links:        repos.NewAssertionEvidenceRepo(db, log),
		Explanations: repos.NewExplanationRepo(db, log),
		LookupCache:  repos.NewLookupCacheRepo(db, log),
	}
}
