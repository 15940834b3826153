package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/biograph-backend/internal/data/repos/testutil"
	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
)

func TestEvidenceRepo(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewEvidenceRepo(db, testutil.Logger(t))

	observed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := &types.Evidence{
		SourceSystem:   ledger.SourceSECEdgar,
		SourceRecordID: "0000320193-24-000010",
		ObservedAt:     observed,
		License:        "PUBLIC_DOMAIN",
		URI:            "https://www.sec.gov/Archives/edgar/data/320193",
	}
	if err := repo.Create(dbc, ev); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.ID == uuid.Nil {
		t.Fatalf("Create: expected id to be assigned")
	}

	got, err := repo.GetBySourceRecord(dbc, ledger.SourceSECEdgar, "0000320193-24-000010")
	if err != nil || got == nil || got.ID != ev.ID {
		t.Fatalf("GetBySourceRecord: err=%v got=%v", err, got)
	}
	if !got.ObservedAt.Equal(observed) {
		t.Fatalf("observed_at: want=%v got=%v", observed, got.ObservedAt)
	}
	if got.CreatedBy != "system" {
		t.Fatalf("created_by default: want=system got=%q", got.CreatedBy)
	}

	if missing, err := repo.GetBySourceRecord(dbc, ledger.SourceSECEdgar, "nope"); err != nil || missing != nil {
		t.Fatalf("GetBySourceRecord(missing): err=%v got=%v", err, missing)
	}

	deletedAt := observed.Add(time.Hour)
	ok, err := repo.SoftDelete(dbc, ev.ID, "curator@example.org", "duplicate filing", deletedAt)
	if err != nil || !ok {
		t.Fatalf("SoftDelete: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.SoftDelete(dbc, ev.ID, "curator@example.org", "again", deletedAt); err != nil || ok {
		t.Fatalf("SoftDelete(second): ok=%v err=%v", ok, err)
	}

	if live, err := repo.GetByID(dbc, ev.ID, false); err != nil || live != nil {
		t.Fatalf("GetByID(live): err=%v got=%v", err, live)
	}
	withDeleted, err := repo.GetByID(dbc, ev.ID, true)
	if err != nil || withDeleted == nil {
		t.Fatalf("GetByID(includeDeleted): err=%v got=%v", err, withDeleted)
	}
	if !withDeleted.DeletedAt.Valid || withDeleted.DeletedBy == nil || *withDeleted.DeletedBy != "curator@example.org" {
		t.Fatalf("soft delete fields not set: %+v", withDeleted)
	}
	if again, err := repo.GetBySourceRecord(dbc, ledger.SourceSECEdgar, "0000320193-24-000010"); err != nil || again == nil {
		t.Fatalf("GetBySourceRecord should include deleted rows: err=%v got=%v", err, again)
	}
	if rows, err := repo.GetByIDs(dbc, []uuid.UUID{ev.ID}); err != nil || len(rows) != 0 {
		t.Fatalf("GetByIDs should skip deleted rows: err=%v len=%d", err, len(rows))
	}
}

func TestEvidenceRepoListForAssertions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewEvidenceRepo(db, testutil.Logger(t))

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e1 := testutil.SeedEvidence(t, ctx, tx, ledger.SourceSECEdgar, "f-1", t0)
	e2 := testutil.SeedEvidence(t, ctx, tx, ledger.SourceChEMBL, "CHEMBL25", t0.Add(24*time.Hour))
	e3 := testutil.SeedEvidence(t, ctx, tx, ledger.SourceOpenTargets, "ot-1", t0)

	a1 := testutil.SeedAssertion(t, ctx, tx, testutil.Key("issuer", "AAPL", "has_program", "drug_program", "p1"), t0, 0.85, e1, e2)
	a2 := testutil.SeedAssertion(t, ctx, tx, testutil.Key("drug_program", "p1", "targets", "target", "ENSG1"), t0, 0.90, e2, e3)

	if ok, err := repo.SoftDelete(dbc, e3.ID, "ops", "", t0); err != nil || !ok {
		t.Fatalf("SoftDelete: ok=%v err=%v", ok, err)
	}

	byAssertion, err := repo.ListForAssertions(dbc, []uuid.UUID{a1.ID, a2.ID})
	if err != nil {
		t.Fatalf("ListForAssertions: %v", err)
	}
	if n := len(byAssertion[a1.ID]); n != 2 {
		t.Fatalf("a1 evidence: want=2 got=%d", n)
	}
	if byAssertion[a1.ID][0].ID != e1.ID {
		t.Fatalf("a1 evidence should be ordered by observed_at")
	}
	if n := len(byAssertion[a2.ID]); n != 1 || byAssertion[a2.ID][0].ID != e2.ID {
		t.Fatalf("a2 evidence: want only e2, got %d rows", n)
	}

	rows, err := repo.List(dbc, EvidenceFilter{SourceSystem: ledger.SourceChEMBL})
	if err != nil || len(rows) != 1 || rows[0].ID != e2.ID {
		t.Fatalf("List(chembl): err=%v len=%d", err, len(rows))
	}
	all, err := repo.List(dbc, EvidenceFilter{IncludeDeleted: true})
	if err != nil || len(all) != 3 {
		t.Fatalf("List(includeDeleted): err=%v len=%d", err, len(all))
	}
}
