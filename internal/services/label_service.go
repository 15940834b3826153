package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

const DefaultLabelTTL = 30 * 24 * time.Hour

// Label is a display label for an external identifier.
type Label struct {
	ID         string            `json:"id"`
	Label      string            `json:"label"`
	Source     types.CacheSource `json:"source"`
	IsFallback bool              `json:"is_fallback"`
	Data       map[string]any    `json:"data,omitempty"`
}

// ResolveFunc fetches the upstream record for an identifier. The returned map must carry a
// non-empty "label" for the result to be cached.
type ResolveFunc func(ctx context.Context, externalID string) (map[string]any, error)

type LabelServiceConfig struct {
	TTL            time.Duration
	ResolveTimeout time.Duration
}

type LabelService interface {
	ResolveWithFallback(ctx context.Context, source types.CacheSource, externalID string, resolve ResolveFunc, fallbackLabel string) Label
	Cache() LookupCache
}

type labelService struct {
	cache   LookupCache
	log     *logger.Logger
	metrics *observability.Metrics
	ttl     time.Duration
	timeout time.Duration
}

func NewLabelService(cache LookupCache, baseLog *logger.Logger, metrics *observability.Metrics, cfg LabelServiceConfig) LabelService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultLabelTTL
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 3 * time.Second
	}
	return &labelService{
		cache:   cache,
		log:     baseLog.With("service", "LabelService"),
		metrics: metrics,
		ttl:     cfg.TTL,
		timeout: cfg.ResolveTimeout,
	}
}

func (s *labelService) Cache() LookupCache { return s.cache }

// ResolveWithFallback never fails. Cache errors count as misses, resolver failures return a
// fallback label (the id when fallbackLabel is empty), and only successful lookups are cached.
func (s *labelService) ResolveWithFallback(ctx context.Context, source types.CacheSource, externalID string, resolve ResolveFunc, fallbackLabel string) Label {
	start := time.Now()
	key := ledger.CacheKey(source, externalID)
	fallback := func(status string) Label {
		s.metrics.ObserveLabelResolve(string(source), status, time.Since(start))
		label := strings.TrimSpace(fallbackLabel)
		if label == "" {
			label = externalID
		}
		return Label{ID: externalID, Label: label, Source: source, IsFallback: true}
	}

	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.log.Warn("lookup cache read failed", "cache_key", key, "error", err)
			s.metrics.IncCacheLookup(string(source), "error")
		case ok:
			var data map[string]any
			if err := json.Unmarshal(raw, &data); err == nil {
				if label := labelOf(data); label != "" {
					s.metrics.IncCacheLookup(string(source), "hit")
					s.metrics.ObserveLabelResolve(string(source), "cached", time.Since(start))
					return Label{ID: externalID, Label: label, Source: source, Data: data}
				}
			}
			s.metrics.IncCacheLookup(string(source), "corrupt")
		default:
			s.metrics.IncCacheLookup(string(source), "miss")
		}
	}

	if resolve == nil {
		return fallback("no_resolver")
	}
	data, err := s.callResolver(ctx, resolve, externalID)
	if err != nil {
		s.log.Debug("label resolve failed", "cache_key", key, "error", err)
		return fallback("error")
	}
	label := labelOf(data)
	if label == "" {
		return fallback("empty")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, source, data, s.ttl); err != nil {
			s.log.Warn("lookup cache write failed", "cache_key", key, "error", err)
		}
	}
	s.metrics.ObserveLabelResolve(string(source), "resolved", time.Since(start))
	return Label{ID: externalID, Label: label, Source: source, Data: data}
}

type resolveResult struct {
	data map[string]any
	err  error
}

func (s *labelService) callResolver(ctx context.Context, resolve ResolveFunc, externalID string) (map[string]any, error) {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan resolveResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- resolveResult{err: fmt.Errorf("resolver panic: %v", r)}
			}
		}()
		data, err := resolve(rctx, externalID)
		done <- resolveResult{data: data, err: err}
	}()

	select {
	case <-rctx.Done():
		return nil, rctx.Err()
	case res := <-done:
		return res.data, res.err
	}
}

func labelOf(data map[string]any) string {
	if data == nil {
		return ""
	}
	s, _ := data["label"].(string)
	return strings.TrimSpace(s)
}
