package ledger

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type LookupCacheRepo interface {
	Get(dbc dbctx.Context, key string) (*types.LookupCacheEntry, error)
	Upsert(dbc dbctx.Context, entry *types.LookupCacheEntry) error
	RecordHit(dbc dbctx.Context, key string, at time.Time) error
	Delete(dbc dbctx.Context, key string) (bool, error)
	DeleteBySource(dbc dbctx.Context, source types.CacheSource) (int64, error)
	DeleteExpired(dbc dbctx.Context, now time.Time) (int64, error)
	StatsBySource(dbc dbctx.Context, now time.Time) ([]LookupCacheSourceStats, error)
}

// LookupCacheSourceStats aggregates one source's entries.
type LookupCacheSourceStats struct {
	Source    types.CacheSource
	Total     int64
	Expired   int64
	TotalHits int64
	Oldest    *time.Time
	Newest    *time.Time
}

type lookupCacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLookupCacheRepo(db *gorm.DB, baseLog *logger.Logger) LookupCacheRepo {
	return &lookupCacheRepo{db: db, log: baseLog.With("repo", "LookupCacheRepo")}
}

func (r *lookupCacheRepo) Get(dbc dbctx.Context, key string) (*types.LookupCacheEntry, error) {
	if key == "" {
		return nil, nil
	}
	var row types.LookupCacheEntry
	err := dbc.DB(r.db).Where("cache_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert replaces the value and expiry of a key and resets its hit counter.
func (r *lookupCacheRepo) Upsert(dbc dbctx.Context, entry *types.LookupCacheEntry) error {
	if entry == nil || entry.CacheKey == "" {
		return nil
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"source", "value_json", "expires_at", "hit_count", "last_hit_at", "updated_at"}),
		}).
		Create(entry).Error
}

func (r *lookupCacheRepo) RecordHit(dbc dbctx.Context, key string, at time.Time) error {
	return dbc.DB(r.db).Model(&types.LookupCacheEntry{}).
		Where("cache_key = ?", key).
		UpdateColumns(map[string]interface{}{
			"hit_count":   gorm.Expr("hit_count + 1"),
			"last_hit_at": at,
		}).Error
}

func (r *lookupCacheRepo) Delete(dbc dbctx.Context, key string) (bool, error) {
	res := dbc.DB(r.db).Where("cache_key = ?", key).Delete(&types.LookupCacheEntry{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *lookupCacheRepo) DeleteBySource(dbc dbctx.Context, source types.CacheSource) (int64, error) {
	res := dbc.DB(r.db).Where("source = ?", source).Delete(&types.LookupCacheEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *lookupCacheRepo) DeleteExpired(dbc dbctx.Context, now time.Time) (int64, error) {
	res := dbc.DB(r.db).Where("expires_at <= ?", now).Delete(&types.LookupCacheEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// StatsBySource aggregates counts and hits per source in the database. Entries
// with expires_at at or before now count as expired.
func (r *lookupCacheRepo) StatsBySource(dbc dbctx.Context, now time.Time) ([]LookupCacheSourceStats, error) {
	var rows []LookupCacheSourceStats
	if err := dbc.DB(r.db).Model(&types.LookupCacheEntry{}).
		Select(`source,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0) AS expired,
			COALESCE(SUM(hit_count), 0) AS total_hits`, now).
		Group("source").
		Order("source ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		oldest, err := r.createdAtEdge(dbc, rows[i].Source, "created_at ASC")
		if err != nil {
			return nil, err
		}
		newest, err := r.createdAtEdge(dbc, rows[i].Source, "created_at DESC")
		if err != nil {
			return nil, err
		}
		rows[i].Oldest, rows[i].Newest = oldest, newest
	}
	return rows, nil
}

// createdAtEdge reads the first created_at of a source under order.
func (r *lookupCacheRepo) createdAtEdge(dbc dbctx.Context, source types.CacheSource, order string) (*time.Time, error) {
	var row types.LookupCacheEntry
	err := dbc.DB(r.db).
		Select("created_at").
		Where("source = ?", source).
		Order(order).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if row.CreatedAt.IsZero() {
		return nil, nil
	}
	t := row.CreatedAt
	return &t, nil
}
