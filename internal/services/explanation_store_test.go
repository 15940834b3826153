package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/biograph-backend/internal/data/graph"
	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
)

func materializedWorld(t *testing.T) (*ledgerWorld, seededChain) {
	t.Helper()
	w := newLedgerWorld(t)
	c := w.seedChain(t)
	if _, err := w.materializer(t, nil).Materialize(context.Background(), w.day1, []string{"AAPL"}); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	return w, c
}

func edgeByAssertion(g *ExplanationGraph, id uuid.UUID) *ExplanationEdge {
	for i := range g.Edges {
		if g.Edges[i].AssertionIDs[0] == id {
			return &g.Edges[i]
		}
	}
	return nil
}

func TestAuthoritativeStoreGetExplanation(t *testing.T) {
	w, c := materializedWorld(t)
	store := w.authoritative()
	ctx := context.Background()

	g, err := store.GetExplanation(ctx, "AAPL", w.day1.Add(15*time.Hour))
	if err != nil {
		t.Fatalf("GetExplanation: %v", err)
	}
	if g.Source != AuthoritativeStoreName || g.AsOfDate != "2024-06-01" {
		t.Fatalf("graph header: source=%s date=%s", g.Source, g.AsOfDate)
	}
	if len(g.Nodes) != 5 || len(g.Edges) != 4 || len(g.Chains) != 2 {
		t.Fatalf("graph size: nodes=%d edges=%d chains=%d", len(g.Nodes), len(g.Edges), len(g.Chains))
	}

	program := edgeByAssertion(g, c.program.ID)
	if program == nil || program.Type != "HAS_PROGRAM" || program.SourceID != "AAPL" || program.TargetID != "p1" {
		t.Fatalf("program edge: %+v", program)
	}
	if program.EvidenceCount != 1 || program.ConfidenceBand != "HIGH" {
		t.Fatalf("program edge detail: count=%d band=%s", program.EvidenceCount, program.ConfidenceBand)
	}
	if e := edgeByAssertion(g, c.diseaseD1.ID); e == nil || e.EvidenceCount != 2 {
		t.Fatalf("D1 edge: %+v", e)
	}
	if e := edgeByAssertion(g, c.diseaseD2.ID); e == nil || e.EvidenceCount != 0 {
		t.Fatalf("D2 edge: %+v", e)
	}

	if _, err := store.GetExplanation(ctx, "MSFT", w.day1); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("unknown root: want not_found got=%v", err)
	}
	if _, err := store.GetExplanation(ctx, "AAPL", w.day2); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("unmaterialized date: want not_found got=%v", err)
	}
}

func TestAuthoritativeStoreRejectsUnscoredAssertions(t *testing.T) {
	w, c := materializedWorld(t)
	if err := w.db.Exec("UPDATE assertion SET confidence_score = NULL WHERE id = ?", c.target.ID).Error; err != nil {
		t.Fatalf("clear score: %v", err)
	}
	_, err := w.authoritative().GetExplanation(context.Background(), "AAPL", w.day1)
	if !domainagg.HasReason(err, domainagg.ReasonConfidenceMissing) {
		t.Fatalf("want CONFIDENCE_MISSING got=%v", err)
	}
}

func TestAuthoritativeStoreAssertionDetailAndEvidence(t *testing.T) {
	w, c := materializedWorld(t)
	store := w.authoritative()
	ctx := context.Background()

	d, err := store.GetAssertionDetail(ctx, c.diseaseD1.ID)
	if err != nil {
		t.Fatalf("GetAssertionDetail: %v", err)
	}
	if d.Assertion.ID != c.diseaseD1.ID || len(d.Evidence) != 2 || len(d.Versions) != 1 {
		t.Fatalf("detail: evidence=%d versions=%d", len(d.Evidence), len(d.Versions))
	}
	for _, ev := range d.Evidence {
		if ev.License == nil || ev.SupportType != "PRIMARY" {
			t.Fatalf("evidence detail: %+v", ev)
		}
	}

	if _, err := store.GetAssertionDetail(ctx, uuid.New()); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("unknown assertion: want not_found got=%v", err)
	}

	if _, err := w.evidence.SoftDelete(dbctx.Context{Ctx: ctx}, c.evidence.ID, "ops", "superseded filing", w.day2); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	ev, err := store.GetEvidence(ctx, c.evidence.ID)
	if err != nil {
		t.Fatalf("GetEvidence after delete: %v", err)
	}
	if !ev.Evidence.DeletedAt.Valid || ev.License == nil || ev.License.Code != "PUBLIC_DOMAIN" {
		t.Fatalf("deleted evidence should stay auditable: %+v", ev.Evidence)
	}
	if _, err := store.GetEvidence(ctx, uuid.New()); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("unknown evidence: want not_found got=%v", err)
	}
}

func newBadger(t *testing.T, w *ledgerWorld) *graph.BadgerProjection {
	t.Helper()
	p, err := graph.NewBadgerProjection(graph.BadgerOptions{InMemory: true}, w.log)
	if err != nil {
		t.Fatalf("NewBadgerProjection: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestProjectionStoreServesSyncedChains(t *testing.T) {
	w, c := materializedWorld(t)
	ctx := context.Background()
	proj := newBadger(t, w)
	auth := w.authoritative()

	ps := NewProjectionSync(w.log, w.metrics, proj, w.explanations, w.assertions, 4)
	if err := ps.SyncNow(ctx, w.day1, []string{"AAPL"}); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}

	store := NewProjectionStore(proj, auth, w.log, w.metrics, time.Second)
	got, err := store.GetExplanation(ctx, "AAPL", w.day1)
	if err != nil {
		t.Fatalf("GetExplanation: %v", err)
	}
	want, err := auth.GetExplanation(ctx, "AAPL", w.day1)
	if err != nil {
		t.Fatalf("authoritative GetExplanation: %v", err)
	}
	if got.Source != "badger" {
		t.Fatalf("source: want=badger got=%s", got.Source)
	}
	if len(got.Nodes) != len(want.Nodes) || len(got.Edges) != len(want.Edges) || len(got.Chains) != len(want.Chains) {
		t.Fatalf("projection graph differs: got=%d/%d/%d want=%d/%d/%d",
			len(got.Nodes), len(got.Edges), len(got.Chains), len(want.Nodes), len(want.Edges), len(want.Chains))
	}
	if e := edgeByAssertion(got, c.diseaseD1.ID); e == nil || e.EvidenceCount != 2 {
		t.Fatalf("projection evidence count should come from the ledger: %+v", e)
	}

	d, err := store.GetAssertionDetail(ctx, c.program.ID)
	if err != nil || d.Assertion.ID != c.program.ID {
		t.Fatalf("detail through projection store: err=%v", err)
	}
	if store.GetStoreName() != "badger" || !store.IsAvailable(ctx) {
		t.Fatalf("store identity: name=%s", store.GetStoreName())
	}
}

func TestExplanationReadsExcludeRetractedHops(t *testing.T) {
	w, c := materializedWorld(t)
	ctx := context.Background()
	proj := newBadger(t, w)
	auth := w.authoritative()
	ps := NewProjectionSync(w.log, w.metrics, proj, w.explanations, w.assertions, 4)
	if err := ps.SyncNow(ctx, w.day1, []string{"AAPL"}); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	projected := NewProjectionStore(proj, auth, w.log, w.metrics, time.Second)

	// A retraction after the snapshot date leaves that date's history intact.
	w.retract(t, c.diseaseD1, w.day2.Add(6*time.Hour))
	g, err := auth.GetExplanation(ctx, "AAPL", w.day1)
	if err != nil || len(g.Chains) != 2 {
		t.Fatalf("later retraction: err=%v graph=%+v", err, g)
	}

	w.retract(t, c.diseaseD2, w.day1.Add(18*time.Hour))
	for _, store := range []ExplanationStore{auth, projected} {
		g, err := store.GetExplanation(ctx, "AAPL", w.day1)
		if err != nil {
			t.Fatalf("%s GetExplanation: %v", store.GetStoreName(), err)
		}
		if len(g.Chains) != 1 || edgeByAssertion(g, c.diseaseD2.ID) != nil {
			t.Fatalf("%s served a retracted hop: chains=%d", store.GetStoreName(), len(g.Chains))
		}
		if g.Source != store.GetStoreName() {
			t.Fatalf("source: want=%s got=%s", store.GetStoreName(), g.Source)
		}
	}

	w.retract(t, c.program, w.day1.Add(18*time.Hour))
	for _, store := range []ExplanationStore{auth, projected} {
		if _, err := store.GetExplanation(ctx, "AAPL", w.day1); !domainagg.IsCode(err, domainagg.CodeNotFound) {
			t.Fatalf("%s with retracted root hop: want not_found got=%v", store.GetStoreName(), err)
		}
	}
}

func TestProjectionStoreFallsBackOnMissAndError(t *testing.T) {
	w, _ := materializedWorld(t)
	ctx := context.Background()
	proj := newBadger(t, w)
	store := NewProjectionStore(proj, w.authoritative(), w.log, w.metrics, time.Second)

	g, err := store.GetExplanation(ctx, "AAPL", w.day1)
	if err != nil {
		t.Fatalf("GetExplanation on empty projection: %v", err)
	}
	if g.Source != AuthoritativeStoreName || len(g.Chains) != 2 {
		t.Fatalf("miss should be served by the ledger: source=%s chains=%d", g.Source, len(g.Chains))
	}

	if err := proj.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	g, err = store.GetExplanation(ctx, "AAPL", w.day1)
	if err != nil {
		t.Fatalf("GetExplanation on closed projection: %v", err)
	}
	if g.Source != AuthoritativeStoreName {
		t.Fatalf("error should be served by the ledger: source=%s", g.Source)
	}
	if store.IsAvailable(ctx) {
		t.Fatalf("closed projection should report unavailable")
	}
}

func TestProjectionSyncWorkerAndRebuild(t *testing.T) {
	w, _ := materializedWorld(t)
	ctx := context.Background()
	proj := newBadger(t, w)

	ps := NewProjectionSync(w.log, w.metrics, proj, w.explanations, w.assertions, 1)
	ps.Start(ctx)
	if !ps.Enqueue(w.day1, []string{"AAPL"}) {
		t.Fatalf("first enqueue should be accepted")
	}
	ps.Stop()

	chains, err := proj.ChainsForRoot(ctx, "AAPL", w.day1)
	if err != nil || len(chains) != 2 {
		t.Fatalf("after worker: err=%v chains=%d", err, len(chains))
	}

	if err := w.db.Exec("DELETE FROM explanation WHERE leaf_entity_id = ?", "D2").Error; err != nil {
		t.Fatalf("delete row: %v", err)
	}
	n, err := ps.Rebuild(ctx, w.day1)
	if err != nil || n != 1 {
		t.Fatalf("Rebuild: n=%d err=%v", n, err)
	}
	chains, err = proj.ChainsForRoot(ctx, "AAPL", w.day1)
	if err != nil || len(chains) != 1 || chains[0].Key().Leaf != "D1" {
		t.Fatalf("after rebuild: err=%v chains=%v", err, chains)
	}

	var nilSync *ProjectionSync
	if !nilSync.Enqueue(w.day1, []string{"AAPL"}) {
		t.Fatalf("nil sync should accept and ignore batches")
	}
	if err := nilSync.SyncNow(ctx, w.day1, nil); err != nil {
		t.Fatalf("nil SyncNow: %v", err)
	}
}

func TestProjectionRebuildClearsRootsMissingFromLedger(t *testing.T) {
	w, _ := materializedWorld(t)
	ctx := context.Background()
	proj := newBadger(t, w)
	ps := NewProjectionSync(w.log, w.metrics, proj, w.explanations, w.assertions, 1)

	ghost := graph.Chain{
		ExplanationID: uuid.New(),
		RootID:        "MSFT",
		AsOfDate:      w.day1,
		StrengthScore: 0.5,
		Edges:         []graph.ChainEdge{{AssertionID: uuid.New(), Predicate: "has_program", FromType: "issuer", FromID: "MSFT", ToType: "drug_program", ToID: "DP-X"}},
	}
	if err := proj.ReplaceChains(ctx, w.day1, []string{"MSFT"}, []graph.Chain{ghost}); err != nil {
		t.Fatalf("seed ghost root: %v", err)
	}
	if err := ps.SyncNow(ctx, w.day1, []string{"AAPL"}); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}

	n, err := ps.Rebuild(ctx, w.day1)
	if err != nil || n != 2 {
		t.Fatalf("Rebuild: n=%d err=%v", n, err)
	}
	if chains, err := proj.ChainsForRoot(ctx, "MSFT", w.day1); err != nil || len(chains) != 0 {
		t.Fatalf("ghost root after rebuild: err=%v chains=%d", err, len(chains))
	}
	if chains, err := proj.ChainsForRoot(ctx, "AAPL", w.day1); err != nil || len(chains) != 2 {
		t.Fatalf("ledger root after rebuild: err=%v chains=%d", err, len(chains))
	}

	// A date with no authoritative rows still clears what the projection holds.
	if err := w.db.Exec("DELETE FROM explanation").Error; err != nil {
		t.Fatalf("delete rows: %v", err)
	}
	if _, err := ps.Rebuild(ctx, w.day1); err != nil {
		t.Fatalf("Rebuild (empty ledger): %v", err)
	}
	roots, err := proj.Roots(ctx, w.day1)
	if err != nil || len(roots) != 0 {
		t.Fatalf("roots after empty rebuild: err=%v roots=%v", err, roots)
	}
}

func TestProjectionSyncDropsWhenQueueFull(t *testing.T) {
	w, _ := materializedWorld(t)
	proj := newBadger(t, w)
	ps := NewProjectionSync(w.log, w.metrics, proj, w.explanations, w.assertions, 1)

	if !ps.Enqueue(w.day1, []string{"AAPL"}) {
		t.Fatalf("first enqueue should fit")
	}
	if ps.Enqueue(w.day1, []string{"AAPL"}) {
		t.Fatalf("second enqueue should be dropped while no worker runs")
	}
}

func TestNormalizeGraphBackend(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", GraphBackendPostgres, true},
		{"authoritative-only", GraphBackendPostgres, true},
		{" Neo4j ", GraphBackendNeo4j, true},
		{"authoritative+projection", GraphBackendNeo4j, true},
		{"embedded", GraphBackendBadger, true},
		{"dgraph", GraphBackendPostgres, false},
	}
	for _, tc := range cases {
		got, ok := NormalizeGraphBackend(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalizeGraphBackend(%q): want=%s/%v got=%s/%v", tc.in, tc.want, tc.ok, got, ok)
		}
	}
}

func TestNewExplanationStoreFallsBack(t *testing.T) {
	w := newLedgerWorld(t)
	auth := w.authoritative()
	ctx := context.Background()

	cases := []struct {
		name string
		cfg  ExplanationStoreConfig
	}{
		{"unknown backend", ExplanationStoreConfig{Backend: "dgraph"}},
		{"postgres", ExplanationStoreConfig{Backend: "postgres"}},
		{"neo4j without credentials", ExplanationStoreConfig{Backend: "neo4j"}},
		{"badger without dir", ExplanationStoreConfig{Backend: "badger"}},
		{"open failure", ExplanationStoreConfig{Backend: "neo4j", Open: func(context.Context) (graph.Projection, error) {
			return nil, errors.New("connection refused")
		}}},
		{"unreachable", ExplanationStoreConfig{Backend: "badger", Open: func(context.Context) (graph.Projection, error) {
			p, err := graph.NewBadgerProjection(graph.BadgerOptions{InMemory: true}, w.log)
			if err != nil {
				return nil, err
			}
			_ = p.Close(context.Background())
			return p, nil
		}}},
	}
	for _, tc := range cases {
		store, proj := NewExplanationStore(ctx, w.log, w.metrics, tc.cfg, auth)
		if store.GetStoreName() != AuthoritativeStoreName || proj != nil {
			t.Fatalf("%s: want authoritative fallback got=%s proj=%v", tc.name, store.GetStoreName(), proj)
		}
	}
}

func TestNewExplanationStoreOpensBadger(t *testing.T) {
	w := newLedgerWorld(t)
	ctx := context.Background()
	store, proj := NewExplanationStore(ctx, w.log, w.metrics, ExplanationStoreConfig{Backend: "embedded", BadgerInMemory: true}, w.authoritative())
	if proj == nil {
		t.Fatalf("expected projection")
	}
	defer proj.Close(ctx)
	if store.GetStoreName() != GraphBackendBadger {
		t.Fatalf("store: want=badger got=%s", store.GetStoreName())
	}
	if _, ok := store.(*ProjectionStore); !ok {
		t.Fatalf("store type: %T", store)
	}
}
