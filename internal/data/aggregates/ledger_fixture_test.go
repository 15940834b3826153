package aggregates_test

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/data/aggregates"
	aggtest "github.com/yungbote/biograph-backend/internal/data/aggregates/testutil"
	"github.com/yungbote/biograph-backend/internal/data/repos"
	repotest "github.com/yungbote/biograph-backend/internal/data/repos/testutil"
	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
)

type ledgerFixture struct {
	tx         *gorm.DB
	hooks      *aggtest.HooksRecorder
	evidence   domainagg.EvidenceAggregate
	assertions domainagg.AssertionAggregate

	evidenceRepo  repos.EvidenceRepo
	assertionRepo repos.AssertionRepo
	linkRepo      repos.AssertionEvidenceRepo
	now           time.Time
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := repotest.DB(t)
	tx := repotest.Tx(t, db)
	log := repotest.Logger(t)

	f := &ledgerFixture{
		tx:            tx,
		hooks:         &aggtest.HooksRecorder{},
		evidenceRepo:  repos.NewEvidenceRepo(tx, log),
		assertionRepo: repos.NewAssertionRepo(tx, log),
		linkRepo:      repos.NewAssertionEvidenceRepo(tx, log),
		now:           time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	base := aggregates.BaseDeps{
		DB:       tx,
		Log:      log,
		Runner:   aggregates.NewGormTxRunner(tx),
		Hooks:    f.hooks,
		CASGuard: aggregates.NewCASGuard(tx),
	}
	licenses := repos.NewLicenseRepo(tx, log)
	f.evidence = aggregates.NewEvidenceAggregate(aggregates.EvidenceAggregateDeps{
		Base:       base,
		Evidence:   f.evidenceRepo,
		Licenses:   licenses,
		Assertions: f.assertionRepo,
	})
	f.assertions = aggregates.NewAssertionAggregate(aggregates.AssertionAggregateDeps{
		Base:       base,
		Assertions: f.assertionRepo,
		Links:      f.linkRepo,
		Evidence:   f.evidenceRepo,
		Licenses:   licenses,
		Clock:      func() time.Time { return f.now },
	})
	return f
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrString(s string) *string { return &s }

func ptrFloat(v float64) *float64 { return &v }
