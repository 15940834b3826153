package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type ExplanationRepo interface {
	Upsert(dbc dbctx.Context, rows []*types.Explanation) (int64, error)
	ListByDate(dbc dbctx.Context, asOf time.Time, rootIDs []string) ([]*types.Explanation, error)
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error)
	ListRoots(dbc dbctx.Context, asOf time.Time) ([]string, error)
}

type explanationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExplanationRepo(db *gorm.DB, baseLog *logger.Logger) ExplanationRepo {
	return &explanationRepo{db: db, log: baseLog.With("repo", "ExplanationRepo")}
}

// Upsert writes rows keyed by (chain, as_of_date). Existing rows are only rewritten when
// their row_hash differs, so the returned count is inserts plus real updates.
func (r *explanationRepo) Upsert(dbc dbctx.Context, rows []*types.Explanation) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "root_entity_id"},
				{Name: "mid_entity_id"},
				{Name: "target_entity_id"},
				{Name: "leaf_entity_id"},
				{Name: "as_of_date"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"root_mid_assertion_id",
				"mid_target_assertion_id",
				"target_leaf_assertion_id",
				"strength_score",
				"row_hash",
				"updated_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "explanation.row_hash <> excluded.row_hash"},
			}},
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// ListByDate returns rows for one date, optionally restricted to some roots.
func (r *explanationRepo) ListByDate(dbc dbctx.Context, asOf time.Time, rootIDs []string) ([]*types.Explanation, error) {
	tx := dbc.DB(r.db).Where("as_of_date = ?", asOf)
	if len(rootIDs) > 0 {
		tx = tx.Where("root_entity_id IN ?", rootIDs)
	}
	var out []*types.Explanation
	if err := tx.
		Order("root_entity_id ASC, mid_entity_id ASC, target_entity_id ASC, leaf_entity_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *explanationRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).Where("id IN ?", ids).Delete(&types.Explanation{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *explanationRepo) ListRoots(dbc dbctx.Context, asOf time.Time) ([]string, error) {
	var out []string
	if err := dbc.DB(r.db).Model(&types.Explanation{}).
		Where("as_of_date = ?", asOf).
		Distinct("root_entity_id").
		Order("root_entity_id ASC").
		Pluck("root_entity_id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
