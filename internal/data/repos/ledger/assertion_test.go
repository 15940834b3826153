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

func TestAssertionRepoVersions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewAssertionRepo(db, testutil.Logger(t))

	t0 := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	key := testutil.Key("issuer", "AAPL", "has_program", "drug_program", "p1")
	ev := testutil.SeedEvidence(t, ctx, tx, ledger.SourceSECEdgar, "f-1", t0)
	v1 := testutil.SeedAssertion(t, ctx, tx, key, t0, 0.85, ev)

	cur, err := repo.GetCurrentByKey(dbc, key)
	if err != nil || cur == nil || cur.ID != v1.ID {
		t.Fatalf("GetCurrentByKey: err=%v got=%v", err, cur)
	}

	closeAt := t0.Add(48 * time.Hour)
	ok, err := repo.CloseCurrent(dbc, v1.ID, closeAt)
	if err != nil || !ok {
		t.Fatalf("CloseCurrent: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.CloseCurrent(dbc, v1.ID, closeAt); err != nil || ok {
		t.Fatalf("CloseCurrent(second): ok=%v err=%v", ok, err)
	}
	if cur, err := repo.GetCurrentByKey(dbc, key); err != nil || cur != nil {
		t.Fatalf("GetCurrentByKey after close: err=%v got=%v", err, cur)
	}

	score := 0.9
	band := ledger.BandHigh
	v2 := &types.Assertion{
		AssertedAt:      closeAt,
		ConfidenceScore: &score,
		ConfidenceBand:  &band,
		LinkMethod:      ledger.MethodDeterministic,
		RationaleJSON:   []byte(`{"final_score":0.9}`),
		VersionID:       v1.VersionID,
		Revision:        v1.Revision + 1,
		SupersedesID:    &v1.ID,
		IsCurrent:       true,
		ValidFrom:       closeAt,
	}
	v2.SetNaturalKey(key)
	if err := repo.Create(dbc, v2); err != nil {
		t.Fatalf("Create(v2): %v", err)
	}

	versions, err := repo.ListVersions(dbc, key)
	if err != nil || len(versions) != 2 {
		t.Fatalf("ListVersions: err=%v len=%d", err, len(versions))
	}
	if versions[0].ID != v1.ID || versions[1].ID != v2.ID {
		t.Fatalf("ListVersions order: got %s, %s", versions[0].ID, versions[1].ID)
	}
	if versions[0].ValidTo == nil || !versions[0].ValidTo.Equal(closeAt) {
		t.Fatalf("v1 valid_to: want=%v got=%v", closeAt, versions[0].ValidTo)
	}

	before, err := repo.ListValidAt(dbc, ValidAtQuery{At: t0.Add(24 * time.Hour), SubjectType: "issuer"})
	if err != nil || len(before) != 1 || before[0].ID != v1.ID {
		t.Fatalf("ListValidAt(before close): err=%v got=%d rows", err, len(before))
	}
	after, err := repo.ListValidAt(dbc, ValidAtQuery{At: closeAt.Add(time.Hour), SubjectIDs: []string{"AAPL"}})
	if err != nil || len(after) != 1 || after[0].ID != v2.ID {
		t.Fatalf("ListValidAt(after close): err=%v got=%d rows", err, len(after))
	}
	if early, err := repo.ListValidAt(dbc, ValidAtQuery{At: t0.Add(-time.Hour)}); err != nil || len(early) != 0 {
		t.Fatalf("ListValidAt(before asserted): err=%v got=%d rows", err, len(early))
	}
}

func TestAssertionRepoCurrentKeyIsUnique(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewAssertionRepo(db, testutil.Logger(t))

	t0 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	key := testutil.Key("issuer", "AAPL", "has_program", "drug_program", "p1")
	testutil.SeedAssertion(t, ctx, db, key, t0, 0.85)

	score := 0.8
	band := ledger.BandMedium
	dup := &types.Assertion{
		AssertedAt:      t0,
		ConfidenceScore: &score,
		ConfidenceBand:  &band,
		LinkMethod:      ledger.MethodDeterministic,
		RationaleJSON:   []byte(`{}`),
		VersionID:       1,
		Revision:        1,
		IsCurrent:       true,
		ValidFrom:       t0,
	}
	dup.SetNaturalKey(key)
	if err := repo.Create(dbc, dup); err == nil {
		t.Fatalf("expected unique violation for a second current version")
	}
}

func TestAssertionRepoRetractionVisibility(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewAssertionRepo(db, testutil.Logger(t))
	links := NewAssertionEvidenceRepo(db, testutil.Logger(t))
	evRepo := NewEvidenceRepo(db, testutil.Logger(t))

	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	ev := testutil.SeedEvidence(t, ctx, tx, ledger.SourceOpenTargets, "ot-7", t0)
	a := testutil.SeedAssertion(t, ctx, tx, testutil.Key("target", "ENSG1", "associated_with", "disease", "EFO_1"), t0, 0.9, ev)

	retractAt := t0.Add(72 * time.Hour)
	if err := repo.UpdateFields(dbc, a.ID, map[string]interface{}{"retracted_at": retractAt, "retract_reason": "withdrawn"}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if rows, err := repo.ListValidAt(dbc, ValidAtQuery{At: retractAt.Add(-time.Second)}); err != nil || len(rows) != 1 {
		t.Fatalf("ListValidAt before retraction: err=%v len=%d", err, len(rows))
	}
	if rows, err := repo.ListValidAt(dbc, ValidAtQuery{At: retractAt}); err != nil || len(rows) != 0 {
		t.Fatalf("ListValidAt at retraction: err=%v len=%d", err, len(rows))
	}
	if rows, err := repo.ListCurrentByEvidence(dbc, ev.ID); err != nil || len(rows) != 0 {
		t.Fatalf("ListCurrentByEvidence should skip retracted: err=%v len=%d", err, len(rows))
	}

	counts, err := links.CountLiveByAssertions(dbc, []uuid.UUID{a.ID})
	if err != nil || counts[a.ID] != 1 {
		t.Fatalf("CountLiveByAssertions: err=%v counts=%v", err, counts)
	}
	if _, err := evRepo.SoftDelete(dbc, ev.ID, "ops", "", t0); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	counts, err = links.CountLiveByAssertions(dbc, []uuid.UUID{a.ID})
	if err != nil || counts[a.ID] != 0 {
		t.Fatalf("CountLiveByAssertions after delete: err=%v counts=%v", err, counts)
	}

	n, err := links.Link(dbc, []*types.AssertionEvidence{{AssertionID: a.ID, EvidenceID: ev.ID, SupportType: ledger.SupportPrimary}})
	if err != nil || n != 0 {
		t.Fatalf("Link duplicate: n=%d err=%v", n, err)
	}
}
