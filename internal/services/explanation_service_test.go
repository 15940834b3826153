package services

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/biograph-backend/internal/data/repos"
	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
)

func TestExplanationServiceDecoratesLabels(t *testing.T) {
	w, _ := materializedWorld(t)
	cache := NewDBLookupCache(repos.NewLookupCacheRepo(w.db, w.log), w.log)
	labels := NewLabelService(cache, w.log, w.metrics, LabelServiceConfig{})
	resolvers := LabelResolvers{
		ledger.CacheSourceChEMBL: func(_ context.Context, id string) (map[string]any, error) {
			return map[string]any{"label": "Program " + id}, nil
		},
		ledger.CacheSourceOpenTargets: func(context.Context, string) (map[string]any, error) {
			return nil, errors.New("upstream unavailable")
		},
	}
	svc := NewExplanationService(w.authoritative(), labels, resolvers, w.log)
	ctx := context.Background()

	plain, err := svc.GetExplanation(ctx, "AAPL", w.day1, false)
	if err != nil {
		t.Fatalf("GetExplanation: %v", err)
	}
	for _, n := range plain.Nodes {
		if n.Label != n.ID || n.LabelIsFallback {
			t.Fatalf("undecorated node should carry its id: %+v", n)
		}
	}

	g, err := svc.GetExplanation(ctx, "AAPL", w.day1, true)
	if err != nil {
		t.Fatalf("GetExplanation with labels: %v", err)
	}
	if len(g.Nodes) != len(plain.Nodes) || len(g.Edges) != len(plain.Edges) {
		t.Fatalf("labels must not change graph shape")
	}
	for _, n := range g.Nodes {
		switch n.Type {
		case "drug_program":
			if n.Label != "Program p1" || n.LabelIsFallback {
				t.Fatalf("program label: %+v", n)
			}
		case "target", "disease", "issuer":
			if n.Label != n.ID || !n.LabelIsFallback {
				t.Fatalf("%s label should fall back to id: %+v", n.Type, n)
			}
		}
	}
	if _, ok, err := cache.Get(ctx, ledger.CacheKey(ledger.CacheSourceChEMBL, "p1")); err != nil || !ok {
		t.Fatalf("resolved label should be cached: ok=%v err=%v", ok, err)
	}
}

func TestLookupCacheIsDisposable(t *testing.T) {
	w, c := materializedWorld(t)
	cache := NewDBLookupCache(repos.NewLookupCacheRepo(w.db, w.log), w.log)
	labels := NewLabelService(cache, w.log, w.metrics, LabelServiceConfig{})
	var calls int32
	resolvers := LabelResolvers{
		ledger.CacheSourceChEMBL: func(_ context.Context, id string) (map[string]any, error) {
			atomic.AddInt32(&calls, 1)
			return map[string]any{"label": "Program " + id}, nil
		},
	}
	svc := NewExplanationService(w.authoritative(), labels, resolvers, w.log)
	ctx := context.Background()

	before, err := svc.GetExplanation(ctx, "AAPL", w.day1, true)
	if err != nil {
		t.Fatalf("GetExplanation: %v", err)
	}
	scores := map[uuid.UUID]float64{}
	for _, a := range []*types.Assertion{c.program, c.target, c.diseaseD1, c.diseaseD2} {
		row, err := w.assertions.GetByID(dbctx.Context{Ctx: ctx}, a.ID)
		if err != nil || row == nil || row.ConfidenceScore == nil {
			t.Fatalf("GetByID(%s): err=%v", a.ID, err)
		}
		scores[a.ID] = *row.ConfidenceScore
	}

	if err := w.db.Exec("DELETE FROM lookup_cache").Error; err != nil {
		t.Fatalf("truncate lookup_cache: %v", err)
	}
	after, err := svc.GetExplanation(ctx, "AAPL", w.day1, true)
	if err != nil {
		t.Fatalf("GetExplanation after truncate: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("labels should be re-resolved after truncate: resolver calls=%d", got)
	}
	if !reflect.DeepEqual(before.Nodes, after.Nodes) || !reflect.DeepEqual(before.Edges, after.Edges) {
		t.Fatalf("graph changed after cache truncate:\nbefore=%+v\nafter=%+v", before, after)
	}
	for id, want := range scores {
		row, _ := w.assertions.GetByID(dbctx.Context{Ctx: ctx}, id)
		if row.ConfidenceScore == nil || *row.ConfidenceScore != want {
			t.Fatalf("confidence of %s changed: want=%v got=%v", id, want, row.ConfidenceScore)
		}
	}
}
