package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type EvidenceFilter struct {
	SourceSystem   types.SourceSystem
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type EvidenceRepo interface {
	Create(dbc dbctx.Context, ev *types.Evidence) error
	GetByID(dbc dbctx.Context, id uuid.UUID, includeDeleted bool) (*types.Evidence, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Evidence, error)
	GetBySourceRecord(dbc dbctx.Context, source types.SourceSystem, recordID string) (*types.Evidence, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	SoftDelete(dbc dbctx.Context, id uuid.UUID, deletedBy, reason string, at time.Time) (bool, error)
	ListForAssertion(dbc dbctx.Context, assertionID uuid.UUID) ([]*types.Evidence, error)
	ListForAssertions(dbc dbctx.Context, assertionIDs []uuid.UUID) (map[uuid.UUID][]*types.Evidence, error)
	List(dbc dbctx.Context, f EvidenceFilter) ([]*types.Evidence, error)
}

type evidenceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEvidenceRepo(db *gorm.DB, baseLog *logger.Logger) EvidenceRepo {
	return &evidenceRepo{db: db, log: baseLog.With("repo", "EvidenceRepo")}
}

func (r *evidenceRepo) Create(dbc dbctx.Context, ev *types.Evidence) error {
	if ev == nil {
		return nil
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return dbc.DB(r.db).Create(ev).Error
}

func (r *evidenceRepo) GetByID(dbc dbctx.Context, id uuid.UUID, includeDeleted bool) (*types.Evidence, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	q := dbc.DB(r.db)
	if includeDeleted {
		q = q.Unscoped()
	}
	var row types.Evidence
	err := q.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByIDs returns the non-deleted rows among ids, in no particular order.
func (r *evidenceRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Evidence, error) {
	var out []*types.Evidence
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetBySourceRecord looks up the idempotency key, soft-deleted rows included.
func (r *evidenceRepo) GetBySourceRecord(dbc dbctx.Context, source types.SourceSystem, recordID string) (*types.Evidence, error) {
	if source == "" || recordID == "" {
		return nil, nil
	}
	var row types.Evidence
	err := dbc.DB(r.db).Unscoped().
		Where("source_system = ? AND source_record_id = ?", source, recordID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *evidenceRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).Unscoped().Model(&types.Evidence{}).Where("id = ?", id).Updates(updates).Error
}

// SoftDelete marks a live row deleted. It reports false when the row was already deleted or missing.
func (r *evidenceRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID, deletedBy, reason string, at time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	updates := map[string]interface{}{
		"deleted_at": at,
		"deleted_by": deletedBy,
		"updated_at": at,
	}
	if reason != "" {
		updates["delete_reason"] = reason
	}
	res := dbc.DB(r.db).Unscoped().Model(&types.Evidence{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *evidenceRepo) ListForAssertion(dbc dbctx.Context, assertionID uuid.UUID) ([]*types.Evidence, error) {
	byAssertion, err := r.ListForAssertions(dbc, []uuid.UUID{assertionID})
	if err != nil {
		return nil, err
	}
	return byAssertion[assertionID], nil
}

// ListForAssertions returns the live evidence linked to each assertion, ordered by observed_at.
func (r *evidenceRepo) ListForAssertions(dbc dbctx.Context, assertionIDs []uuid.UUID) (map[uuid.UUID][]*types.Evidence, error) {
	out := map[uuid.UUID][]*types.Evidence{}
	if len(assertionIDs) == 0 {
		return out, nil
	}
	var links []*types.AssertionEvidence
	if err := dbc.DB(r.db).Where("assertion_id IN ?", assertionIDs).Find(&links).Error; err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return out, nil
	}
	evidenceIDs := make([]uuid.UUID, 0, len(links))
	seen := map[uuid.UUID]struct{}{}
	for _, l := range links {
		if _, ok := seen[l.EvidenceID]; ok {
			continue
		}
		seen[l.EvidenceID] = struct{}{}
		evidenceIDs = append(evidenceIDs, l.EvidenceID)
	}
	var rows []*types.Evidence
	if err := dbc.DB(r.db).
		Where("id IN ?", evidenceIDs).
		Order("observed_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*types.Evidence, len(rows))
	for _, ev := range rows {
		byID[ev.ID] = ev
	}
	for _, ev := range rows {
		for _, l := range links {
			if l.EvidenceID == ev.ID {
				out[l.AssertionID] = append(out[l.AssertionID], byID[ev.ID])
			}
		}
	}
	return out, nil
}

func (r *evidenceRepo) List(dbc dbctx.Context, f EvidenceFilter) ([]*types.Evidence, error) {
	q := dbc.DB(r.db)
	if f.IncludeDeleted {
		q = q.Unscoped()
	}
	if f.SourceSystem != "" {
		q = q.Where("source_system = ?", f.SourceSystem)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*types.Evidence
	if err := q.Order("observed_at DESC, id ASC").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
