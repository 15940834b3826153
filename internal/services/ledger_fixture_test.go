package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/data/repos"
	"github.com/yungbote/biograph-backend/internal/data/repos/testutil"
	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type ledgerWorld struct {
	db      *gorm.DB
	log     *logger.Logger
	metrics *observability.Metrics

	assertions   repos.AssertionRepo
	links        repos.AssertionEvidenceRepo
	evidence     repos.EvidenceRepo
	licenses     repos.LicenseRepo
	explanations repos.ExplanationRepo

	day1 time.Time
	day2 time.Time
}

func newLedgerWorld(t *testing.T) *ledgerWorld {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	return &ledgerWorld{
		db:           db,
		log:          log,
		metrics:      observability.New(),
		assertions:   repos.NewAssertionRepo(db, log),
		links:        repos.NewAssertionEvidenceRepo(db, log),
		evidence:     repos.NewEvidenceRepo(db, log),
		licenses:     repos.NewLicenseRepo(db, log),
		explanations: repos.NewExplanationRepo(db, log),
		day1:         time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		day2:         time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	}
}

func (w *ledgerWorld) materializer(t *testing.T, sink ProjectionSink) MaterializerService {
	t.Helper()
	svc, err := NewMaterializerService(w.db, w.log, w.assertions, w.explanations, w.metrics, sink, DefaultMaterializerConfig())
	if err != nil {
		t.Fatalf("NewMaterializerService: %v", err)
	}
	return svc
}

func (w *ledgerWorld) authoritative() *AuthoritativeStore {
	return NewAuthoritativeStore(AuthoritativeStoreDeps{
		DB:           w.db,
		Log:          w.log,
		Explanations: w.explanations,
		Assertions:   w.assertions,
		Links:        w.links,
		Evidence:     w.evidence,
		Licenses:     w.licenses,
		Metrics:      w.metrics,
	})
}

type seededChain struct {
	program   *types.Assertion
	target    *types.Assertion
	diseaseD1 *types.Assertion
	diseaseD2 *types.Assertion
	evidence  *types.Evidence
}

// seedChain writes AAPL -> p1 -> T1 -> {D1, D2}, all asserted at noon on day1.
// Strengths: D1 = 0.9*0.8*0.7 = 0.504, D2 = 0.9*0.8*0.5 = 0.36.
func (w *ledgerWorld) seedChain(t *testing.T) seededChain {
	t.Helper()
	ctx := context.Background()
	at := w.day1.Add(12 * time.Hour)
	ev := testutil.SeedEvidence(t, ctx, w.db, ledger.SourceSECEdgar, "0000320193-24-000001", at.Add(-time.Hour))
	chembl := testutil.SeedEvidence(t, ctx, w.db, ledger.SourceChEMBL, "CHEMBL25", at.Add(-time.Hour))
	return seededChain{
		program:   testutil.SeedAssertion(t, ctx, w.db, testutil.Key("issuer", "AAPL", "has_program", "drug_program", "p1"), at, 0.9, ev),
		target:    testutil.SeedAssertion(t, ctx, w.db, testutil.Key("drug_program", "p1", "targets", "target", "T1"), at, 0.8, chembl),
		diseaseD1: testutil.SeedAssertion(t, ctx, w.db, testutil.Key("target", "T1", "indicated_for", "disease", "D1"), at, 0.7, chembl, ev),
		diseaseD2: testutil.SeedAssertion(t, ctx, w.db, testutil.Key("target", "T1", "indicated_for", "disease", "D2"), at, 0.5),
		evidence:  ev,
	}
}

func (w *ledgerWorld) retract(t *testing.T, a *types.Assertion, at time.Time) {
	t.Helper()
	if err := w.db.Model(&types.Assertion{}).Where("id = ?", a.ID).Update("retracted_at", at.UTC()).Error; err != nil {
		t.Fatalf("retract: %v", err)
	}
}

type recordingSink struct {
	calls [][]string
	full  bool
}

func (s *recordingSink) Enqueue(_ time.Time, rootIDs []string) bool {
	s.calls = append(s.calls, append([]string(nil), rootIDs...))
	return !s.full
}
