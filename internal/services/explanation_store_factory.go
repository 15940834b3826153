package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/biograph-backend/internal/data/graph"
	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
	"github.com/yungbote/biograph-backend/internal/platform/neo4jdb"
)

const (
	GraphBackendPostgres = "postgres"
	GraphBackendNeo4j    = "neo4j"
	GraphBackendBadger   = "badger"
)

// ErrProjectionDisabled is returned by openers when no projection is configured.
var ErrProjectionDisabled = errors.New("graph projection disabled")

// NormalizeGraphBackend maps configuration spellings to a backend name. ok is false for
// unknown values, which callers treat as postgres.
func NormalizeGraphBackend(raw string) (backend string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "postgres", "postgresql", "pg", "authoritative", "authoritative-only":
		return GraphBackendPostgres, true
	case "neo4j", "authoritative+projection", "authoritative+neo4j":
		return GraphBackendNeo4j, true
	case "badger", "embedded", "authoritative+badger":
		return GraphBackendBadger, true
	default:
		return GraphBackendPostgres, false
	}
}

type ProjectionOpener func(ctx context.Context) (graph.Projection, error)

type ExplanationStoreConfig struct {
	Backend        string
	Neo4j          neo4jdb.Config
	BadgerDir      string
	BadgerInMemory bool
	ReadTimeout    time.Duration
	// Open overrides how the projection is opened. Nil uses the backend's default.
	Open ProjectionOpener
}

// NewExplanationStore picks the read path from configuration. The authoritative store is
// returned, with a warning, whenever the projection is unconfigured, unreachable or fails
// to open; this never fails startup. The projection is returned so callers can sync and close it.
func NewExplanationStore(
	ctx context.Context,
	baseLog *logger.Logger,
	metrics *observability.Metrics,
	cfg ExplanationStoreConfig,
	authoritative *AuthoritativeStore,
) (ExplanationStore, graph.Projection) {
	log := baseLog.With("component", "ExplanationStoreFactory")
	backend, ok := NormalizeGraphBackend(cfg.Backend)
	if !ok {
		log.Warn("unknown GRAPH_BACKEND; using authoritative store", "value", cfg.Backend)
		metrics.IncProjectionFallback(cfg.Backend, "unknown_backend")
	}
	if backend == GraphBackendPostgres {
		log.Info("explanation store selected", "backend", GraphBackendPostgres)
		return authoritative, nil
	}

	open := cfg.Open
	if open == nil {
		open = defaultOpener(baseLog, backend, cfg)
	}
	projection, err := open(ctx)
	if err != nil {
		reason := "open_failed"
		if errors.Is(err, neo4jdb.ErrIncompleteConfig) || errors.Is(err, ErrProjectionDisabled) {
			reason = "incomplete_config"
		}
		log.Warn("graph projection unavailable; using authoritative store", "backend", backend, "reason", reason, "error", err)
		metrics.IncProjectionFallback(backend, reason)
		return authoritative, nil
	}

	pingTimeout := cfg.ReadTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := projection.Ping(pctx); err != nil {
		log.Warn("graph projection unreachable; using authoritative store", "backend", backend, "error", err)
		metrics.IncProjectionFallback(backend, "unreachable")
		_ = projection.Close(ctx)
		return authoritative, nil
	}

	log.Info("explanation store selected", "backend", backend)
	return NewProjectionStore(projection, authoritative, baseLog, metrics, cfg.ReadTimeout), projection
}

func defaultOpener(baseLog *logger.Logger, backend string, cfg ExplanationStoreConfig) ProjectionOpener {
	switch backend {
	case GraphBackendNeo4j:
		return func(ctx context.Context) (graph.Projection, error) {
			client, err := neo4jdb.New(baseLog, cfg.Neo4j)
			if err != nil {
				return nil, err
			}
			return graph.NewNeo4jProjection(client, baseLog), nil
		}
	case GraphBackendBadger:
		return func(ctx context.Context) (graph.Projection, error) {
			if strings.TrimSpace(cfg.BadgerDir) == "" && !cfg.BadgerInMemory {
				return nil, fmt.Errorf("%w: BADGER_DIR not set", ErrProjectionDisabled)
			}
			return graph.NewBadgerProjection(graph.BadgerOptions{Dir: cfg.BadgerDir, InMemory: cfg.BadgerInMemory}, baseLog)
		}
	default:
		return func(context.Context) (graph.Projection, error) { return nil, ErrProjectionDisabled }
	}
}
