package ledger

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type AssertionEvidenceRepo interface {
	Link(dbc dbctx.Context, links []*types.AssertionEvidence) (int64, error)
	ListByAssertion(dbc dbctx.Context, assertionID uuid.UUID) ([]*types.AssertionEvidence, error)
	CountLiveByAssertions(dbc dbctx.Context, assertionIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type assertionEvidenceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssertionEvidenceRepo(db *gorm.DB, baseLog *logger.Logger) AssertionEvidenceRepo {
	return &assertionEvidenceRepo{db: db, log: baseLog.With("repo", "AssertionEvidenceRepo")}
}

// Link inserts links, ignoring pairs that already exist. It returns the number of new rows.
func (r *assertionEvidenceRepo) Link(dbc dbctx.Context, links []*types.AssertionEvidence) (int64, error) {
	if len(links) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "assertion_id"}, {Name: "evidence_id"}},
			DoNothing: true,
		}).
		Create(&links)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *assertionEvidenceRepo) ListByAssertion(dbc dbctx.Context, assertionID uuid.UUID) ([]*types.AssertionEvidence, error) {
	var out []*types.AssertionEvidence
	if assertionID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("assertion_id = ?", assertionID).
		Order("evidence_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountLiveByAssertions counts linked evidence that has not been soft-deleted.
func (r *assertionEvidenceRepo) CountLiveByAssertions(dbc dbctx.Context, assertionIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(assertionIDs))
	if len(assertionIDs) == 0 {
		return out, nil
	}
	type countRow struct {
		AssertionID string
		N           int
	}
	var rows []countRow
	err := dbc.DB(r.db).
		Table("assertion_evidence").
		Select("assertion_evidence.assertion_id AS assertion_id, COUNT(*) AS n").
		Joins("JOIN evidence ON evidence.id = assertion_evidence.evidence_id").
		Where("assertion_evidence.assertion_id IN ? AND evidence.deleted_at IS NULL", assertionIDs).
		Group("assertion_evidence.assertion_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		id, err := uuid.Parse(row.AssertionID)
		if err != nil {
			return nil, err
		}
		out[id] = row.N
	}
	return out, nil
}
