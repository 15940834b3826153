package ledger

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// CacheSource names an external label provider.
type CacheSource string

const (
	CacheSourceOpenTargets CacheSource = "opentargets"
	CacheSourceChEMBL      CacheSource = "chembl"
	CacheSourceGeoNames    CacheSource = "geonames"
	CacheSourceWikidata    CacheSource = "wikidata"
)

// LookupCacheEntry is a disposable display-label cache row. Nothing in the ledger reads it.
type LookupCacheEntry struct {
	CacheKey  string         `gorm:"column:cache_key;primaryKey" json:"cache_key"`
	Source    CacheSource    `gorm:"column:source;not null;index" json:"source"`
	ValueJSON datatypes.JSON `gorm:"column:value_json;not null" json:"value_json"`
	ExpiresAt time.Time      `gorm:"column:expires_at;not null;index" json:"expires_at"`
	HitCount  int64          `gorm:"column:hit_count;not null;default:0" json:"hit_count"`
	LastHitAt *time.Time     `gorm:"column:last_hit_at" json:"last_hit_at,omitempty"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (LookupCacheEntry) TableName() string { return "lookup_cache" }

// CacheKey builds the "source:external_id" key.
func CacheKey(source CacheSource, externalID string) string {
	return string(source) + ":" + strings.TrimSpace(externalID)
}

// SplitCacheKey is the inverse of CacheKey.
func SplitCacheKey(key string) (CacheSource, string, bool) {
	src, id, ok := strings.Cut(key, ":")
	if !ok || src == "" || id == "" {
		return "", "", false
	}
	return CacheSource(src), id, true
}
