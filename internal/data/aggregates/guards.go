package aggregates

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
)

// CASGuard provides compare-and-set helpers for ledger writes.
type CASGuard struct {
	db *gorm.DB
}

func NewCASGuard(db *gorm.DB) CASGuard {
	return CASGuard{db: db}
}

func (g CASGuard) baseDB(dbc dbctx.Context) (*gorm.DB, error) {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx), nil
	}
	if g.db != nil {
		return g.db.WithContext(dbc.Ctx), nil
	}
	return nil, ValidationError("missing db transaction context")
}

// UpdateIfCurrent updates an assertion row only while it is the current, unretracted
// version at the expected revision.
func (g CASGuard) UpdateIfCurrent(dbc dbctx.Context, id uuid.UUID, expectedRevision int, updates map[string]any) (bool, error) {
	db, err := g.baseDB(dbc)
	if err != nil {
		return false, err
	}
	if id == uuid.Nil {
		return false, ValidationError("id is required for UpdateIfCurrent")
	}
	if expectedRevision <= 0 {
		return false, ValidationError("expectedRevision must be > 0")
	}
	res := db.Table("assertion").
		Where("id = ? AND revision = ? AND is_current = ? AND retracted_at IS NULL", id, expectedRevision, true).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateIfLive updates a row of table only while it is not soft-deleted.
func (g CASGuard) UpdateIfLive(dbc dbctx.Context, table string, id uuid.UUID, updates map[string]any) (bool, error) {
	db, err := g.baseDB(dbc)
	if err != nil {
		return false, err
	}
	table = strings.TrimSpace(table)
	if table == "" || id == uuid.Nil {
		return false, ValidationError("table and id are required for UpdateIfLive")
	}
	res := db.Table(table).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RequireCASSuccess converts a failed compare-and-set into a typed conflict error.
func RequireCASSuccess(ok bool, message string) error {
	if ok {
		return nil
	}
	return ConflictError(strings.TrimSpace(message))
}

// RequireRevisionMatch validates an optimistic revision check. expected <= 0 skips it.
func RequireRevisionMatch(current, expected int) error {
	if expected <= 0 {
		return nil
	}
	if current != expected {
		return ConflictError("revision mismatch")
	}
	return nil
}
