package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/biograph-backend/internal/data/repos"
	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

// CacheStats summarizes one source's entries.
type CacheStats struct {
	Total     int64      `json:"total_entries"`
	Expired   int64      `json:"expired_entries"`
	Valid     int64      `json:"valid_entries"`
	TotalHits int64      `json:"total_hits"`
	AvgHits   float64    `json:"avg_hits"`
	Oldest    *time.Time `json:"oldest_entry,omitempty"`
	Newest    *time.Time `json:"newest_entry,omitempty"`
}

func (s *CacheStats) observe(createdAt, expiresAt time.Time, hits int64, now time.Time) {
	s.Total++
	if !expiresAt.After(now) {
		s.Expired++
	} else {
		s.Valid++
	}
	s.TotalHits += hits
	if !createdAt.IsZero() {
		if s.Oldest == nil || createdAt.Before(*s.Oldest) {
			t := createdAt
			s.Oldest = &t
		}
		if s.Newest == nil || createdAt.After(*s.Newest) {
			t := createdAt
			s.Newest = &t
		}
	}
}

func (s *CacheStats) finish() {
	if s.Total > 0 {
		s.AvgHits = round6(float64(s.TotalHits) / float64(s.Total))
	}
}

// LookupCache is a disposable display-label cache. Nothing in the ledger reads from it,
// and truncating it loses nothing.
type LookupCache interface {
	// Get returns the cached value; expired entries are removed and reported as a miss.
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, source types.CacheSource, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	ClearSource(ctx context.Context, source types.CacheSource) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (map[types.CacheSource]CacheStats, error)
	Backend() string
}

type dbLookupCache struct {
	repo repos.LookupCacheRepo
	log  *logger.Logger
	now  func() time.Time
}

func NewDBLookupCache(repo repos.LookupCacheRepo, baseLog *logger.Logger) LookupCache {
	return &dbLookupCache{
		repo: repo,
		log:  baseLog.With("cache", "DBLookupCache"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (c *dbLookupCache) Backend() string { return "postgres" }

func (c *dbLookupCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	dbc := dbctx.Context{Ctx: ctx}
	row, err := c.repo.Get(dbc, key)
	if err != nil || row == nil {
		return nil, false, err
	}
	now := c.now()
	if !row.ExpiresAt.After(now) {
		if _, err := c.repo.Delete(dbc, key); err != nil {
			c.log.Warn("expired cache entry not removed", "cache_key", key, "error", err)
		}
		return nil, false, nil
	}
	if err := c.repo.RecordHit(dbc, key, now); err != nil {
		c.log.Warn("cache hit not recorded", "cache_key", key, "error", err)
	}
	return json.RawMessage(row.ValueJSON), true, nil
}

func (c *dbLookupCache) Set(ctx context.Context, key string, source types.CacheSource, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("lookup cache: ttl must be positive")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("lookup cache: encode value: %w", err)
	}
	now := c.now()
	return c.repo.Upsert(dbctx.Context{Ctx: ctx}, &types.LookupCacheEntry{
		CacheKey:  key,
		Source:    source,
		ValueJSON: datatypes.JSON(raw),
		ExpiresAt: now.Add(ttl),
		HitCount:  0,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (c *dbLookupCache) Delete(ctx context.Context, key string) (bool, error) {
	return c.repo.Delete(dbctx.Context{Ctx: ctx}, key)
}

func (c *dbLookupCache) ClearSource(ctx context.Context, source types.CacheSource) (int64, error) {
	n, err := c.repo.DeleteBySource(dbctx.Context{Ctx: ctx}, source)
	if err == nil {
		c.log.Info("lookup cache source cleared", "source", source, "deleted", n)
	}
	return n, err
}

func (c *dbLookupCache) CleanupExpired(ctx context.Context) (int64, error) {
	return c.repo.DeleteExpired(dbctx.Context{Ctx: ctx}, c.now())
}

func (c *dbLookupCache) Stats(ctx context.Context) (map[types.CacheSource]CacheStats, error) {
	rows, err := c.repo.StatsBySource(dbctx.Context{Ctx: ctx}, c.now())
	if err != nil {
		return nil, err
	}
	out := make(map[types.CacheSource]CacheStats, len(rows))
	for _, r := range rows {
		st := CacheStats{
			Total:     r.Total,
			Expired:   r.Expired,
			Valid:     r.Total - r.Expired,
			TotalHits: r.TotalHits,
			Oldest:    r.Oldest,
			Newest:    r.Newest,
		}
		st.finish()
		out[r.Source] = st
	}
	return out, nil
}
