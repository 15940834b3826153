package aggregates

import (
	"context"
	"testing"
	"time"

	repotest "github.com/yungbote/biograph-backend/internal/data/repos/testutil"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
)

func TestRequireRevisionMatch(t *testing.T) {
	if err := RequireRevisionMatch(3, 3); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := RequireRevisionMatch(3, 0); err != nil {
		t.Fatalf("zero expected revision should skip the check: %v", err)
	}
	if err := RequireRevisionMatch(2, 3); err == nil {
		t.Fatalf("expected conflict error")
	}
}

func TestRequireCASSuccess(t *testing.T) {
	if err := RequireCASSuccess(true, "ok"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := RequireCASSuccess(false, "stale"); err == nil {
		t.Fatalf("expected conflict error")
	}
}

func TestCASGuardUpdateIfCurrent(t *testing.T) {
	db := repotest.DB(t)
	tx := repotest.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	guard := NewCASGuard(tx)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := repotest.SeedAssertion(t, ctx, tx, repotest.Key("issuer", "AAPL", "has_program", "drug_program", "p1"), t0, 0.8)

	ok, err := guard.UpdateIfCurrent(dbc, a.ID, 2, map[string]any{"curator_delta": 0.05})
	if err != nil || ok {
		t.Fatalf("stale revision should not match: ok=%v err=%v", ok, err)
	}
	ok, err = guard.UpdateIfCurrent(dbc, a.ID, 1, map[string]any{"curator_delta": 0.05})
	if err != nil || !ok {
		t.Fatalf("UpdateIfCurrent: ok=%v err=%v", ok, err)
	}

	ev := repotest.SeedEvidence(t, ctx, tx, ledger.SourceChEMBL, "CHEMBL1", t0)
	ok, err = guard.UpdateIfLive(dbc, "evidence", ev.ID, map[string]any{"deleted_at": t0})
	if err != nil || !ok {
		t.Fatalf("UpdateIfLive(first): ok=%v err=%v", ok, err)
	}
	ok, err = guard.UpdateIfLive(dbc, "evidence", ev.ID, map[string]any{"deleted_at": t0})
	if err != nil || ok {
		t.Fatalf("UpdateIfLive(second): ok=%v err=%v", ok, err)
	}
}
