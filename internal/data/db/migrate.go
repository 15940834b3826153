package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.AllModels()...)
}

// Migrate creates tables, installs Postgres-only guards and seeds the license allow-list.
func Migrate(ctx context.Context, db *gorm.DB, log *logger.Logger, licenses []ledger.License) error {
	if err := AutoMigrateAll(db.WithContext(ctx)); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if IsPostgres(db) {
		if err := EnsureLicenseTrigger(db.WithContext(ctx)); err != nil {
			return fmt.Errorf("license trigger: %w", err)
		}
	}
	if len(licenses) == 0 {
		licenses = ledger.DefaultLicenses()
	}
	if err := SeedLicenses(ctx, db, licenses); err != nil {
		return fmt.Errorf("seed licenses: %w", err)
	}
	if log != nil {
		log.Info("migrations applied", "driver", db.Dialector.Name(), "licenses", len(licenses))
	}
	return nil
}

var licenseTriggerDDL = []string{
	`CREATE OR REPLACE FUNCTION evidence_license_guard() RETURNS trigger AS $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM license_allowlist
		WHERE license = NEW.license AND is_commercial_safe
	) THEN
		RAISE EXCEPTION 'license % is not allow-listed as commercial-safe', NEW.license
			USING ERRCODE = '23514';
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS trg_evidence_license_guard ON evidence`,
	`CREATE TRIGGER trg_evidence_license_guard
	BEFORE INSERT OR UPDATE OF license ON evidence
	FOR EACH ROW EXECUTE FUNCTION evidence_license_guard()`,
}

// EnsureLicenseTrigger installs the database-level copy of the license gate.
func EnsureLicenseTrigger(db *gorm.DB) error {
	for _, stmt := range licenseTriggerDDL {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func SeedLicenses(ctx context.Context, db *gorm.DB, rows []ledger.License) error {
	now := time.Now().UTC()
	out := make([]ledger.License, 0, len(rows))
	for _, r := range rows {
		code := ledger.NormalizeLicense(r.Code)
		if code == "" {
			continue
		}
		r.Code = code
		r.CreatedAt = now
		r.UpdatedAt = now
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "license"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_commercial_safe", "description", "updated_at"}),
		}).
		Create(&out).Error
}

type licenseFile struct {
	Licenses []ledger.License `yaml:"licenses"`
}

// LoadLicenseFile reads an allow-list seed from YAML.
func LoadLicenseFile(path string) ([]ledger.License, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ledger.DefaultLicenses(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read license file: %w", err)
	}
	var f licenseFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse license file: %w", err)
	}
	if len(f.Licenses) == 0 {
		return nil, fmt.Errorf("license file %s lists no licenses", path)
	}
	return f.Licenses, nil
}
