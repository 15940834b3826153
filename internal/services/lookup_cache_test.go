package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/biograph-backend/internal/data/repos"
	"github.com/yungbote/biograph-backend/internal/data/repos/testutil"
	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/observability"
)

func newDBCache(t *testing.T) (*dbLookupCache, *time.Time) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	c := NewDBLookupCache(repos.NewLookupCacheRepo(db, log), log).(*dbLookupCache)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestDBLookupCacheGetSetExpire(t *testing.T) {
	c, now := newDBCache(t)
	ctx := context.Background()
	key := ledger.CacheKey(ledger.CacheSourceChEMBL, "CHEMBL25")

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, key, ledger.CacheSourceChEMBL, map[string]any{"label": "ASPIRIN"}, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil || v["label"] != "ASPIRIN" {
		t.Fatalf("value: %s err=%v", raw, err)
	}
	if _, _, err := c.Get(ctx, key); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	st := stats[ledger.CacheSourceChEMBL]
	if st.Total != 1 || st.Valid != 1 || st.TotalHits != 2 || st.AvgHits != 2 {
		t.Fatalf("stats after hits: %+v", st)
	}

	*now = now.Add(2 * time.Hour)
	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("expired entry should miss: ok=%v err=%v", ok, err)
	}
	stats, err = c.Stats(ctx)
	if err != nil || len(stats) != 0 {
		t.Fatalf("expired entry should be removed on read: %v err=%v", stats, err)
	}

	if err := c.Set(ctx, key, ledger.CacheSourceChEMBL, "x", 0); err == nil {
		t.Fatalf("zero ttl should be rejected")
	}
}

func TestDBLookupCacheBulkOperations(t *testing.T) {
	c, now := newDBCache(t)
	ctx := context.Background()
	set := func(src types.CacheSource, id string, ttl time.Duration) {
		t.Helper()
		if err := c.Set(ctx, ledger.CacheKey(src, id), src, map[string]any{"label": id}, ttl); err != nil {
			t.Fatalf("Set %s: %v", id, err)
		}
	}
	set(ledger.CacheSourceChEMBL, "CHEMBL1", time.Hour)
	set(ledger.CacheSourceChEMBL, "CHEMBL2", 3*time.Hour)
	set(ledger.CacheSourceOpenTargets, "ENSG1", time.Hour)
	set(ledger.CacheSourceWikidata, "Q312", time.Hour)

	*now = now.Add(2 * time.Hour)
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st := stats[ledger.CacheSourceChEMBL]; st.Total != 2 || st.Expired != 1 || st.Valid != 1 || st.Oldest == nil {
		t.Fatalf("chembl stats: %+v", st)
	}

	n, err := c.CleanupExpired(ctx)
	if err != nil || n != 3 {
		t.Fatalf("CleanupExpired: n=%d err=%v", n, err)
	}
	ok, err := c.Delete(ctx, ledger.CacheKey(ledger.CacheSourceChEMBL, "CHEMBL2"))
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	ok, err = c.Delete(ctx, ledger.CacheKey(ledger.CacheSourceChEMBL, "CHEMBL2"))
	if err != nil || ok {
		t.Fatalf("Delete twice: ok=%v err=%v", ok, err)
	}

	set(ledger.CacheSourceGeoNames, "5128581", time.Hour)
	set(ledger.CacheSourceGeoNames, "2643743", time.Hour)
	n, err = c.ClearSource(ctx, ledger.CacheSourceGeoNames)
	if err != nil || n != 2 {
		t.Fatalf("ClearSource: n=%d err=%v", n, err)
	}
}

type failingCache struct{ LookupCache }

func (failingCache) Get(context.Context, string) (json.RawMessage, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, types.CacheSource, any, time.Duration) error {
	return errors.New("cache down")
}

func newLabels(t *testing.T, cache LookupCache, timeout time.Duration) LabelService {
	t.Helper()
	return NewLabelService(cache, testutil.Logger(t), observability.New(), LabelServiceConfig{ResolveTimeout: timeout})
}

func TestResolveWithFallbackCachesSuccess(t *testing.T) {
	c, _ := newDBCache(t)
	labels := newLabels(t, c, time.Second)
	ctx := context.Background()

	var calls int32
	resolve := func(_ context.Context, id string) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]any{"label": "aspirin", "id": id}, nil
	}
	for i := 0; i < 3; i++ {
		l := labels.ResolveWithFallback(ctx, ledger.CacheSourceChEMBL, "CHEMBL25", resolve, "")
		if l.Label != "aspirin" || l.IsFallback {
			t.Fatalf("call %d: %+v", i, l)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("resolver calls: want=1 got=%d", calls)
	}
}

func TestResolveWithFallbackNeverFails(t *testing.T) {
	c, _ := newDBCache(t)
	labels := newLabels(t, c, 50*time.Millisecond)
	ctx := context.Background()

	cases := []struct {
		name     string
		resolve  ResolveFunc
		fallback string
		want     string
	}{
		{"error", func(context.Context, string) (map[string]any, error) { return nil, errors.New("503") }, "", "Q95"},
		{"empty", func(context.Context, string) (map[string]any, error) { return map[string]any{"label": "  "}, nil }, "Google", "Google"},
		{"panic", func(context.Context, string) (map[string]any, error) { panic("boom") }, "", "Q95"},
		{"timeout", func(ctx context.Context, _ string) (map[string]any, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return map[string]any{"label": "late"}, nil
		}, "", "Q95"},
		{"no resolver", nil, "", "Q95"},
	}
	for _, tc := range cases {
		l := labels.ResolveWithFallback(ctx, ledger.CacheSourceWikidata, "Q95", tc.resolve, tc.fallback)
		if !l.IsFallback || l.Label != tc.want || l.ID != "Q95" {
			t.Fatalf("%s: %+v", tc.name, l)
		}
	}
	if _, ok, _ := c.Get(ctx, ledger.CacheKey(ledger.CacheSourceWikidata, "Q95")); ok {
		t.Fatalf("fallbacks must not be cached")
	}
}

func TestResolveWithFallbackToleratesCacheErrors(t *testing.T) {
	labels := newLabels(t, failingCache{}, time.Second)
	l := labels.ResolveWithFallback(context.Background(), ledger.CacheSourceOpenTargets, "ENSG00000146648", func(context.Context, string) (map[string]any, error) {
		return map[string]any{"label": "EGFR"}, nil
	}, "")
	if l.Label != "EGFR" || l.IsFallback {
		t.Fatalf("resolver result should survive cache errors: %+v", l)
	}
}

func TestHTTPLabelResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/molecule/CHEMBL25.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"molecule_chembl_id":"CHEMBL25","pref_name":"ASPIRIN"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	resolvers := NewHTTPLabelResolvers(map[types.CacheSource]string{
		ledger.CacheSourceChEMBL:   srv.URL + "/molecule/{id}.json",
		ledger.CacheSourceWikidata: "",
	}, srv.Client())
	if _, ok := resolvers[ledger.CacheSourceWikidata]; ok {
		t.Fatalf("empty template should not register a resolver")
	}
	got, err := resolvers[ledger.CacheSourceChEMBL](context.Background(), "CHEMBL25")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got["label"] != "ASPIRIN" || got["pref_name"] != "ASPIRIN" {
		t.Fatalf("resolved: %v", got)
	}
	if _, err := resolvers[ledger.CacheSourceChEMBL](context.Background(), "CHEMBL404"); err == nil {
		t.Fatalf("404 should be an error")
	}
}

func TestRedisLookupCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer rdb.Close()
	ctx := context.Background()
	if err := rdb.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	c := NewRedisLookupCache(rdb, testutil.Logger(t))
	key := ledger.CacheKey(ledger.CacheSourceChEMBL, "CHEMBL25")

	if err := c.Set(ctx, key, ledger.CacheSourceChEMBL, map[string]any{"label": "ASPIRIN"}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, err := c.Get(ctx, key); err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	stats, err := c.Stats(ctx)
	if err != nil || stats[ledger.CacheSourceChEMBL].TotalHits != 1 || stats[ledger.CacheSourceChEMBL].Valid != 1 {
		t.Fatalf("Stats: %v err=%v", stats, err)
	}
	if err := rdb.Del(ctx, redisEntryKey(key)).Err(); err != nil {
		t.Fatalf("expire by hand: %v", err)
	}
	n, err := c.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CleanupExpired: n=%d err=%v", n, err)
	}
	if err := c.Set(ctx, key, ledger.CacheSourceChEMBL, "x", time.Minute); err != nil {
		t.Fatalf("Set again: %v", err)
	}
	n, err = c.ClearSource(ctx, ledger.CacheSourceChEMBL)
	if err != nil || n != 1 {
		t.Fatalf("ClearSource: n=%d err=%v", n, err)
	}
}
