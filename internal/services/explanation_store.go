package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/data/aggregates"
	"github.com/yungbote/biograph-backend/internal/data/graph"
	"github.com/yungbote/biograph-backend/internal/data/repos"
	types "github.com/yungbote/biograph-backend/internal/domain"
	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/domain/confidence"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

const AuthoritativeStoreName = "postgres"

type EvidenceDetail struct {
	Evidence    *types.Evidence `json:"evidence"`
	License     *types.License  `json:"license,omitempty"`
	SupportType string          `json:"support_type,omitempty"`
}

type AssertionDetail struct {
	Assertion *types.Assertion      `json:"assertion"`
	Rationale *confidence.Rationale `json:"rationale,omitempty"`
	Bullets   []string              `json:"bullets,omitempty"`
	Evidence  []EvidenceDetail      `json:"evidence"`
	Versions  []*types.Assertion    `json:"versions"`
}

// ExplanationStore serves explanation graphs and their audit detail.
// Assertion and evidence detail always come from the authoritative store.
type ExplanationStore interface {
	GetExplanation(ctx context.Context, rootID string, asOf time.Time) (*ExplanationGraph, error)
	GetAssertionDetail(ctx context.Context, assertionID uuid.UUID) (*AssertionDetail, error)
	GetEvidence(ctx context.Context, evidenceID uuid.UUID) (*EvidenceDetail, error)
	IsAvailable(ctx context.Context) bool
	GetStoreName() string
}

// AuthoritativeStore reads directly from the relational ledger.
type AuthoritativeStore struct {
	db           *gorm.DB
	log          *logger.Logger
	explanations repos.ExplanationRepo
	assertions   repos.AssertionRepo
	links        repos.AssertionEvidenceRepo
	evidence     repos.EvidenceRepo
	licenses     repos.LicenseRepo
	metrics      *observability.Metrics
}

type AuthoritativeStoreDeps struct {
	DB           *gorm.DB
	Log          *logger.Logger
	Explanations repos.ExplanationRepo
	Assertions   repos.AssertionRepo
	Links        repos.AssertionEvidenceRepo
	Evidence     repos.EvidenceRepo
	Licenses     repos.LicenseRepo
	Metrics      *observability.Metrics
}

func NewAuthoritativeStore(deps AuthoritativeStoreDeps) *AuthoritativeStore {
	return &AuthoritativeStore{
		db:           deps.DB,
		log:          deps.Log.With("store", "AuthoritativeExplanationStore"),
		explanations: deps.Explanations,
		assertions:   deps.Assertions,
		links:        deps.Links,
		evidence:     deps.Evidence,
		licenses:     deps.Licenses,
		metrics:      deps.Metrics,
	}
}

func (s *AuthoritativeStore) GetStoreName() string { return AuthoritativeStoreName }

func (s *AuthoritativeStore) IsAvailable(ctx context.Context) bool {
	sqlDB, err := s.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

func (s *AuthoritativeStore) GetExplanation(ctx context.Context, rootID string, asOf time.Time) (*ExplanationGraph, error) {
	const op = "explanations.GetExplanation"
	day := ledger.DateOnly(asOf)
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.explanations.ListByDate(dbc, day, []string{rootID})
	if err != nil {
		s.metrics.IncExplanationRead(AuthoritativeStoreName, "error")
		return nil, aggregates.MapError(op, err)
	}
	if len(rows) == 0 {
		s.metrics.IncExplanationRead(AuthoritativeStoreName, "not_found")
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "no explanation for root on date", nil)
	}

	ids := make([]uuid.UUID, 0, len(rows)*3)
	for _, r := range rows {
		ids = append(ids, r.AssertionIDs()...)
	}
	list, err := s.assertions.GetByIDs(dbc, ids)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	byID := make(map[uuid.UUID]*types.Assertion, len(list))
	for _, a := range list {
		if err := ledger.RequireConfidence(a); err != nil {
			s.metrics.IncExplanationRead(AuthoritativeStoreName, "invariant_violation")
			return nil, err
		}
		byID[a.ID] = a
	}
	chains := chainsFromRows(rows, byID)
	if len(chains) < len(rows) {
		s.log.Warn("explanation rows reference missing assertions", "root_id", rootID, "as_of_date", day.Format(time.DateOnly), "rows", len(rows), "complete", len(chains))
	}
	chains = validChains(chains, byID, day)
	if len(chains) == 0 {
		s.metrics.IncExplanationRead(AuthoritativeStoreName, "not_found")
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "no valid explanation for root on date", nil)
	}
	counts, err := s.evidenceCounts(ctx, edgeAssertionIDs(chains))
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	s.metrics.IncExplanationRead(AuthoritativeStoreName, "ok")
	return buildGraph(rootID, day, chains, counts, AuthoritativeStoreName), nil
}

// hopAssertions loads the assertions behind chain edges, keyed by id.
func (s *AuthoritativeStore) hopAssertions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Assertion, error) {
	list, err := s.assertions.GetByIDs(dbctx.Context{Ctx: ctx}, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*types.Assertion, len(list))
	for _, a := range list {
		out[a.ID] = a
	}
	return out, nil
}

func (s *AuthoritativeStore) evidenceCounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]int{}, nil
	}
	return s.links.CountLiveByAssertions(dbctx.Context{Ctx: ctx}, ids)
}

func (s *AuthoritativeStore) GetAssertionDetail(ctx context.Context, assertionID uuid.UUID) (*AssertionDetail, error) {
	const op = "explanations.GetAssertionDetail"
	dbc := dbctx.Context{Ctx: ctx}
	a, err := s.assertions.GetByID(dbc, assertionID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if a == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "assertion not found", nil)
	}
	out := &AssertionDetail{Assertion: a, Evidence: []EvidenceDetail{}}
	if len(a.RationaleJSON) > 0 {
		if r, err := confidence.ParseRationale(a.RationaleJSON); err == nil {
			out.Rationale = &r
			out.Bullets = r.Bullets()
		} else {
			s.log.Warn("stored rationale unreadable", "assertion_id", a.ID, "error", err)
		}
	}

	links, err := s.links.ListByAssertion(dbc, a.ID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	support := make(map[uuid.UUID]string, len(links))
	for _, l := range links {
		support[l.EvidenceID] = string(l.SupportType)
	}
	evidence, err := s.evidence.ListForAssertion(dbc, a.ID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	licenses := map[string]*types.License{}
	for _, ev := range evidence {
		lic, err := s.license(dbc, licenses, ev.License)
		if err != nil {
			return nil, aggregates.MapError(op, err)
		}
		out.Evidence = append(out.Evidence, EvidenceDetail{Evidence: ev, License: lic, SupportType: support[ev.ID]})
	}

	versions, err := s.assertions.ListVersions(dbc, a.NaturalKey())
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	out.Versions = versions
	return out, nil
}

func (s *AuthoritativeStore) license(dbc dbctx.Context, cache map[string]*types.License, code string) (*types.License, error) {
	if lic, ok := cache[code]; ok {
		return lic, nil
	}
	lic, err := s.licenses.Get(dbc, code)
	if err != nil {
		return nil, err
	}
	cache[code] = lic
	return lic, nil
}

// GetEvidence includes soft-deleted rows so retracted support stays auditable.
func (s *AuthoritativeStore) GetEvidence(ctx context.Context, evidenceID uuid.UUID) (*EvidenceDetail, error) {
	const op = "explanations.GetEvidence"
	dbc := dbctx.Context{Ctx: ctx}
	ev, err := s.evidence.GetByID(dbc, evidenceID, true)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if ev == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "evidence not found", nil)
	}
	lic, err := s.licenses.Get(dbc, ev.License)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	return &EvidenceDetail{Evidence: ev, License: lic}, nil
}

// ProjectionStore serves graph shape from a derived projection and everything else
// from the authoritative store. Any projection failure degrades to the authoritative path.
type ProjectionStore struct {
	projection    graph.Projection
	authoritative *AuthoritativeStore
	log           *logger.Logger
	metrics       *observability.Metrics
	readTimeout   time.Duration
}

func NewProjectionStore(projection graph.Projection, authoritative *AuthoritativeStore, baseLog *logger.Logger, metrics *observability.Metrics, readTimeout time.Duration) *ProjectionStore {
	if readTimeout <= 0 {
		readTimeout = 2 * time.Second
	}
	return &ProjectionStore{
		projection:    projection,
		authoritative: authoritative,
		log:           baseLog.With("store", "ProjectionExplanationStore", "backend", projection.Backend()),
		metrics:       metrics,
		readTimeout:   readTimeout,
	}
}

func (s *ProjectionStore) GetStoreName() string { return s.projection.Backend() }

func (s *ProjectionStore) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	return s.projection.Ping(ctx) == nil
}

func (s *ProjectionStore) GetExplanation(ctx context.Context, rootID string, asOf time.Time) (*ExplanationGraph, error) {
	backend := s.projection.Backend()
	day := ledger.DateOnly(asOf)

	pctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	chains, err := s.projection.ChainsForRoot(pctx, rootID, day)
	cancel()
	if err != nil {
		s.log.Warn("projection read failed; serving from authoritative store", "root_id", rootID, "error", err)
		s.metrics.IncProjectionFallback(backend, "error")
		return s.authoritative.GetExplanation(ctx, rootID, day)
	}
	if len(chains) == 0 {
		s.metrics.IncProjectionFallback(backend, "miss")
		return s.authoritative.GetExplanation(ctx, rootID, day)
	}

	hops, err := s.authoritative.hopAssertions(ctx, edgeAssertionIDs(chains))
	if err != nil {
		return nil, aggregates.MapError("explanations.GetExplanation", err)
	}
	chains = validChains(chains, hops, day)
	if len(chains) == 0 {
		s.metrics.IncProjectionFallback(backend, "stale")
		return s.authoritative.GetExplanation(ctx, rootID, day)
	}

	counts, err := s.authoritative.evidenceCounts(ctx, edgeAssertionIDs(chains))
	if err != nil {
		return nil, aggregates.MapError("explanations.GetExplanation", err)
	}
	s.metrics.IncExplanationRead(backend, "ok")
	return buildGraph(rootID, day, chains, counts, backend), nil
}

func (s *ProjectionStore) GetAssertionDetail(ctx context.Context, assertionID uuid.UUID) (*AssertionDetail, error) {
	return s.authoritative.GetAssertionDetail(ctx, assertionID)
}

func (s *ProjectionStore) GetEvidence(ctx context.Context, evidenceID uuid.UUID) (*EvidenceDetail, error) {
	return s.authoritative.GetEvidence(ctx, evidenceID)
}
