package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/biograph-backend/internal/data/aggregates"
	"github.com/yungbote/biograph-backend/internal/data/graph"
	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/jobs"
	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
	"github.com/yungbote/biograph-backend/internal/platform/neo4jdb"
	"github.com/yungbote/biograph-backend/internal/services"
)

type Services struct {
	Evidence   domainagg.EvidenceAggregate
	Assertions domainagg.AssertionAggregate
	Confidence services.ConfidenceService

	Authoritative  *services.AuthoritativeStore
	Store          services.ExplanationStore
	Projection     graph.Projection
	ProjectionSync *services.ProjectionSync
	Materializer   services.MaterializerService

	Cache        services.LookupCache
	Labels       services.LabelService
	Explanations services.ExplanationService

	Scheduler *jobs.Scheduler
}

func wireServices(ctx context.Context, log *logger.Logger, cfg Config, clients Clients, repos Repos, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")
	theDB := clients.DB()

	base := aggregates.BaseDeps{
		DB:       theDB,
		Log:      log,
		Runner:   aggregates.NewGormTxRunner(theDB),
		Hooks:    aggregates.NewObservabilityHooks(metrics),
		CASGuard: aggregates.NewCASGuard(theDB),
	}
	evidence := aggregates.NewEvidenceAggregate(aggregates.EvidenceAggregateDeps{
		Base:       base,
		Evidence:   repos.Evidence,
		Licenses:   repos.Licenses,
		Assertions: repos.Assertions,
		Engine:     clients.Engine,
	})
	assertions := aggregates.NewAssertionAggregate(aggregates.AssertionAggregateDeps{
		Base:       base,
		Assertions: repos.Assertions,
		Links:      repos.Links,
		Evidence:   repos.Evidence,
		Licenses:   repos.Licenses,
		Engine:     clients.Engine,
	})
	confidenceSvc := services.NewConfidenceService(theDB, log, repos.Assertions, repos.Evidence, clients.Engine)

	authoritative := services.NewAuthoritativeStore(services.AuthoritativeStoreDeps{
		DB:           theDB,
		Log:          log,
		Explanations: repos.Explanations,
		Assertions:   repos.Assertions,
		Links:        repos.Links,
		Evidence:     repos.Evidence,
		Licenses:     repos.Licenses,
		Metrics:      metrics,
	})
	store, projection := services.NewExplanationStore(ctx, log, metrics, services.ExplanationStoreConfig{
		Backend: cfg.GraphBackend,
		Neo4j: neo4jdb.Config{
			URI:            cfg.Neo4jURI,
			User:           cfg.Neo4jUser,
			Password:       cfg.Neo4jPassword,
			Database:       cfg.Neo4jDatabase,
			TimeoutSeconds: cfg.Neo4jTimeoutSeconds,
			MaxPoolSize:    cfg.Neo4jMaxPoolSize,
		},
		BadgerDir:   cfg.BadgerDir,
		ReadTimeout: cfg.ProjectionReadTO,
	}, authoritative)

	var (
		sync *services.ProjectionSync
		sink services.ProjectionSink
	)
	if projection != nil {
		sync = services.NewProjectionSync(log, metrics, projection, repos.Explanations, repos.Assertions, cfg.ProjectionSyncQueue)
		sink = sync
	}
	materializer, err := services.NewMaterializerService(theDB, log, repos.Assertions, repos.Explanations, metrics, sink, services.MaterializerConfig{
		MissingConfidence: cfg.ChainMissingConfidence,
		DiffThreshold:     cfg.DiffThreshold,
		Parallelism:       cfg.MaterializeParallelism,
	})
	if err != nil {
		return Services{}, fmt.Errorf("materializer: %w", err)
	}

	var cache services.LookupCache
	if clients.Redis != nil {
		cache = services.NewRedisLookupCache(clients.Redis, log)
	} else {
		cache = services.NewDBLookupCache(repos.LookupCache, log)
	}
	labels := services.NewLabelService(cache, log, metrics, services.LabelServiceConfig{
		TTL:            cfg.LookupCacheTTL,
		ResolveTimeout: cfg.LookupResolveTimeout,
	})
	resolvers := services.NewHTTPLabelResolvers(map[ledger.CacheSource]string{
		ledger.CacheSourceOpenTargets: cfg.OpenTargetsLabelURL,
		ledger.CacheSourceChEMBL:      cfg.ChEMBLLabelURL,
		ledger.CacheSourceGeoNames:    cfg.GeoNamesLabelURL,
		ledger.CacheSourceWikidata:    cfg.WikidataLabelURL,
	}, nil)
	explanations := services.NewExplanationService(store, labels, resolvers, log)

	scheduler, err := jobs.NewScheduler(log, metrics, jobs.Config{
		MaterializeSpec:       cfg.MaterializeCron,
		CacheCleanupSpec:      cfg.CacheCleanupCron,
		ProjectionRebuildSpec: cfg.ProjectionRebuildCron,
		Location:              cfg.CronLocation(),
		RunTimeout:            cfg.JobTimeout,
	}, jobs.Deps{Materializer: materializer, Cache: cache, Projection: sync})
	if err != nil {
		return Services{}, err
	}

	return Services{
		Evidence:       evidence,
		Assertions:     assertions,
		Confidence:     confidenceSvc,
		Authoritative:  authoritative,
		Store:          store,
		Projection:     projection,
		ProjectionSync: sync,
		Materializer:   materializer,
		Cache:          cache,
		Labels:         labels,
		Explanations:   explanations,
		Scheduler:      scheduler,
	}, nil
}

// GraphBackendSummary is logged once at startup.
func (s Services) GraphBackendSummary() string {
	name := s.Store.GetStoreName()
	if s.Projection == nil {
		return name
	}
	return strings.Join([]string{services.AuthoritativeStoreName, name}, "+")
}
