package ledger

import (
	"errors"

	"gorm.io/gorm"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type LicenseRepo interface {
	List(dbc dbctx.Context) ([]*types.License, error)
	Get(dbc dbctx.Context, code string) (*types.License, error)
}

type licenseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLicenseRepo(db *gorm.DB, baseLog *logger.Logger) LicenseRepo {
	return &licenseRepo{db: db, log: baseLog.With("repo", "LicenseRepo")}
}

func (r *licenseRepo) List(dbc dbctx.Context) ([]*types.License, error) {
	var out []*types.License
	if err := dbc.DB(r.db).Order("license ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns nil when the code is not allow-listed.
func (r *licenseRepo) Get(dbc dbctx.Context, code string) (*types.License, error) {
	code = ledger.NormalizeLicense(code)
	if code == "" {
		return nil, nil
	}
	var row types.License
	err := dbc.DB(r.db).Where("license = ?", code).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
