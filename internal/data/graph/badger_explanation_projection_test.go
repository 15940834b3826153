package graph

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

func newTestProjection(t *testing.T) *BadgerProjection {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	p, err := NewBadgerProjection(BadgerOptions{InMemory: true}, log)
	if err != nil {
		t.Fatalf("NewBadgerProjection: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func testChain(root, mid, target, leaf string, asOf time.Time, strength float64) Chain {
	score := 0.9
	key := ledger.ChainKey{Root: root, Mid: mid, Target: target, Leaf: leaf}
	return Chain{
		ExplanationID: ledger.ExplanationID(key, asOf),
		RootID:        root,
		AsOfDate:      asOf,
		StrengthScore: strength,
		Edges: []ChainEdge{
			{AssertionID: uuid.New(), Predicate: "has_program", FromType: "issuer", FromID: root, ToType: "drug_program", ToID: mid, Score: &score, Band: "HIGH"},
			{AssertionID: uuid.New(), Predicate: "targets", FromType: "drug_program", FromID: mid, ToType: "target", ToID: target, Score: &score, Band: "HIGH"},
			{AssertionID: uuid.New(), Predicate: "indicated_for", FromType: "target", FromID: target, ToType: "disease", ToID: leaf, Score: &score, Band: "HIGH"},
		},
	}
}

func TestBadgerProjectionReplaceAndRead(t *testing.T) {
	ctx := context.Background()
	p := newTestProjection(t)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a := testChain("CIK:1", "DP:1", "T:1", "D:1", day, 0.7)
	b := testChain("CIK:1", "DP:1", "T:1", "D:2", day, 0.6)
	other := testChain("CIK:2", "DP:9", "T:9", "D:9", day, 0.5)

	if err := p.ReplaceChains(ctx, day, []string{"CIK:1", "CIK:2"}, []Chain{a, b, other}); err != nil {
		t.Fatalf("ReplaceChains: %v", err)
	}
	got, err := p.ChainsForRoot(ctx, "CIK:1", day)
	if err != nil {
		t.Fatalf("ChainsForRoot: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("chains: want=2 got=%d", len(got))
	}
	if got[0].Key().Leaf != "D:1" || got[1].Key().Leaf != "D:2" {
		t.Fatalf("order: got=%v,%v", got[0].Key(), got[1].Key())
	}
	if len(got[0].Edges) != 3 || got[0].Edges[1].Predicate != "targets" {
		t.Fatalf("edges: got=%+v", got[0].Edges)
	}

	// Re-sync CIK:1 with only chain a; CIK:2 is out of scope and must survive.
	if err := p.ReplaceChains(ctx, day, []string{"CIK:1"}, []Chain{a}); err != nil {
		t.Fatalf("ReplaceChains (2): %v", err)
	}
	got, _ = p.ChainsForRoot(ctx, "CIK:1", day)
	if len(got) != 1 || got[0].ExplanationID != a.ExplanationID {
		t.Fatalf("after resync: got=%+v", got)
	}
	got, _ = p.ChainsForRoot(ctx, "CIK:2", day)
	if len(got) != 1 {
		t.Fatalf("out of scope root: want=1 got=%d", len(got))
	}
}

func TestBadgerProjectionSeparatesDates(t *testing.T) {
	ctx := context.Background()
	p := newTestProjection(t)
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2024, 4, 1, 15, 30, 0, 0, time.UTC)

	if err := p.ReplaceChains(ctx, jan, []string{"CIK:1"}, []Chain{testChain("CIK:1", "DP:1", "T:1", "D:1", jan, 0.4)}); err != nil {
		t.Fatalf("ReplaceChains jan: %v", err)
	}
	if err := p.ReplaceChains(ctx, apr, []string{"CIK:1"}, nil); err != nil {
		t.Fatalf("ReplaceChains apr: %v", err)
	}
	got, _ := p.ChainsForRoot(ctx, "CIK:1", jan)
	if len(got) != 1 {
		t.Fatalf("jan chains: want=1 got=%d", len(got))
	}
	got, _ = p.ChainsForRoot(ctx, "CIK:1", apr)
	if len(got) != 0 {
		t.Fatalf("apr chains: want=0 got=%d", len(got))
	}
}

func TestBadgerProjectionRoots(t *testing.T) {
	ctx := context.Background()
	p := newTestProjection(t)
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	chains := []Chain{
		testChain("CIK:2", "DP:2", "T:2", "D:2", jan, 0.5),
		testChain("CIK:1", "DP:1", "T:1", "D:1", jan, 0.4),
		testChain("CIK:1", "DP:1", "T:1", "D:3", jan, 0.3),
		testChain("ns/CIK:3", "DP:3", "T:3", "D:3", jan, 0.3),
	}
	if err := p.ReplaceChains(ctx, jan, []string{"CIK:1", "CIK:2", "ns/CIK:3"}, chains); err != nil {
		t.Fatalf("ReplaceChains jan: %v", err)
	}
	if err := p.ReplaceChains(ctx, feb, []string{"CIK:9"}, []Chain{testChain("CIK:9", "DP:9", "T:9", "D:9", feb, 0.2)}); err != nil {
		t.Fatalf("ReplaceChains feb: %v", err)
	}

	got, err := p.Roots(ctx, jan)
	if err != nil {
		t.Fatalf("Roots: %v", err)
	}
	want := []string{"CIK:1", "CIK:2", "ns/CIK:3"}
	if len(got) != len(want) {
		t.Fatalf("roots: want=%v got=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("roots: want=%v got=%v", want, got)
		}
	}

	if err := p.ReplaceChains(ctx, jan, []string{"CIK:2"}, nil); err != nil {
		t.Fatalf("clear CIK:2: %v", err)
	}
	got, _ = p.Roots(ctx, jan)
	if len(got) != 2 || got[0] != "CIK:1" {
		t.Fatalf("roots after clear: got=%v", got)
	}
	got, _ = p.Roots(ctx, feb)
	if len(got) != 1 || got[0] != "CIK:9" {
		t.Fatalf("feb roots: got=%v", got)
	}
}

func TestBadgerProjectionClosed(t *testing.T) {
	p := newTestProjection(t)
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Ping(context.Background()); err != ErrProjectionClosed {
		t.Fatalf("Ping after close: want=%v got=%v", ErrProjectionClosed, err)
	}
	if _, err := p.ChainsForRoot(context.Background(), "CIK:1", time.Now()); err != ErrProjectionClosed {
		t.Fatalf("ChainsForRoot after close: want=%v got=%v", ErrProjectionClosed, err)
	}
}
