package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

// ValidAtQuery selects assertion versions in force at an instant.
type ValidAtQuery struct {
	At          time.Time
	SubjectType string
	SubjectIDs  []string
	ObjectType  string
	Predicates  []string
}

type AssertionFilter struct {
	SubjectID      string
	ObjectID       string
	Predicate      string
	IncludeHistory bool
	Limit          int
	Offset         int
}

type AssertionRepo interface {
	Create(dbc dbctx.Context, a *types.Assertion) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Assertion, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Assertion, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Assertion, error)
	GetCurrentByKey(dbc dbctx.Context, key types.NaturalKey) (*types.Assertion, error)
	ListVersions(dbc dbctx.Context, key types.NaturalKey) ([]*types.Assertion, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	CloseCurrent(dbc dbctx.Context, id uuid.UUID, validTo time.Time) (bool, error)
	ListCurrentByEvidence(dbc dbctx.Context, evidenceID uuid.UUID) ([]*types.Assertion, error)
	ListValidAt(dbc dbctx.Context, q ValidAtQuery) ([]*types.Assertion, error)
	List(dbc dbctx.Context, f AssertionFilter) ([]*types.Assertion, error)
}

type assertionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssertionRepo(db *gorm.DB, baseLog *logger.Logger) AssertionRepo {
	return &assertionRepo{db: db, log: baseLog.With("repo", "AssertionRepo")}
}

func (r *assertionRepo) Create(dbc dbctx.Context, a *types.Assertion) error {
	if a == nil {
		return nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return dbc.DB(r.db).Create(a).Error
}

func (r *assertionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Assertion, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Assertion
	err := dbc.DB(r.db).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// LockByID reads a row FOR UPDATE. SQLite has no row locks and serializes writers instead.
func (r *assertionRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Assertion, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Assertion
	err := dbc.DB(r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *assertionRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Assertion, error) {
	var out []*types.Assertion
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func whereKey(q *gorm.DB, key types.NaturalKey) *gorm.DB {
	return q.Where(
		"subject_type = ? AND subject_id = ? AND predicate = ? AND object_type = ? AND object_id = ?",
		key.SubjectType, key.SubjectID, key.Predicate, key.ObjectType, key.ObjectID,
	)
}

func (r *assertionRepo) GetCurrentByKey(dbc dbctx.Context, key types.NaturalKey) (*types.Assertion, error) {
	var row types.Assertion
	err := whereKey(dbc.DB(r.db), key).Where("is_current = ?", true).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListVersions returns every version of a natural key, oldest first.
func (r *assertionRepo) ListVersions(dbc dbctx.Context, key types.NaturalKey) ([]*types.Assertion, error) {
	var out []*types.Assertion
	if err := whereKey(dbc.DB(r.db), key).Order("revision ASC, created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assertionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).Model(&types.Assertion{}).Where("id = ?", id).Updates(updates).Error
}

// CloseCurrent ends the validity window of the current version. It reports false when the
// row is no longer current, which callers treat as a lost race.
func (r *assertionRepo) CloseCurrent(dbc dbctx.Context, id uuid.UUID, validTo time.Time) (bool, error) {
	res := dbc.DB(r.db).Model(&types.Assertion{}).
		Where("id = ? AND is_current = ?", id, true).
		Updates(map[string]interface{}{
			"is_current": false,
			"valid_to":   validTo,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListCurrentByEvidence returns current, non-retracted assertions that cite evidenceID.
func (r *assertionRepo) ListCurrentByEvidence(dbc dbctx.Context, evidenceID uuid.UUID) ([]*types.Assertion, error) {
	var out []*types.Assertion
	if evidenceID == uuid.Nil {
		return out, nil
	}
	sub := dbc.DB(r.db).Model(&types.AssertionEvidence{}).Select("assertion_id").Where("evidence_id = ?", evidenceID)
	if err := dbc.DB(r.db).
		Where("id IN (?)", sub).
		Where("is_current = ? AND retracted_at IS NULL", true).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListValidAt selects versions where asserted_at and valid_from are at or before At, and
// neither valid_to nor retracted_at has been reached.
func (r *assertionRepo) ListValidAt(dbc dbctx.Context, q ValidAtQuery) ([]*types.Assertion, error) {
	at := q.At.UTC()
	tx := dbc.DB(r.db).
		Where("asserted_at <= ? AND valid_from <= ?", at, at).
		Where("valid_to IS NULL OR valid_to > ?", at).
		Where("retracted_at IS NULL OR retracted_at > ?", at)
	if q.SubjectType != "" {
		tx = tx.Where("subject_type = ?", q.SubjectType)
	}
	if len(q.SubjectIDs) > 0 {
		tx = tx.Where("subject_id IN ?", q.SubjectIDs)
	}
	if q.ObjectType != "" {
		tx = tx.Where("object_type = ?", q.ObjectType)
	}
	if len(q.Predicates) > 0 {
		tx = tx.Where("predicate IN ?", q.Predicates)
	}
	var out []*types.Assertion
	if err := tx.Order("subject_id ASC, object_id ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assertionRepo) List(dbc dbctx.Context, f AssertionFilter) ([]*types.Assertion, error) {
	tx := dbc.DB(r.db)
	if !f.IncludeHistory {
		tx = tx.Where("is_current = ?", true)
	}
	if f.SubjectID != "" {
		tx = tx.Where("subject_id = ?", f.SubjectID)
	}
	if f.ObjectID != "" {
		tx = tx.Where("object_id = ?", f.ObjectID)
	}
	if f.Predicate != "" {
		tx = tx.Where("predicate = ?", f.Predicate)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*types.Assertion
	if err := tx.Order("asserted_at DESC, id ASC").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
