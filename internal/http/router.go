package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/biograph-backend/internal/http/handlers"
	httpMW "github.com/yungbote/biograph-backend/internal/http/middleware"
	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	TracingEnabled bool
	CORSOrigins    []string

	AuthMiddleware *httpMW.AuthMiddleware

	LedgerHandler      *httpH.LedgerHandler
	ExplanationHandler *httpH.ExplanationHandler
	CacheHandler       *httpH.CacheHandler
	HealthHandler      *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracingEnabled {
		name := cfg.ServiceName
		if name == "" {
			name = "biograph"
		}
		r.Use(otelgin.Middleware(name))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")

	// Reads are public; every write carries an actor.
	if cfg.LedgerHandler != nil {
		api.GET("/evidence/:id", cfg.LedgerHandler.GetEvidence)
		api.GET("/assertions/:id", cfg.LedgerHandler.GetAssertion)
		api.GET("/assertions/:id/confidence", cfg.LedgerHandler.GetConfidence)
	}
	if cfg.ExplanationHandler != nil {
		api.GET("/explanations/:root", cfg.ExplanationHandler.GetExplanation)
		api.GET("/explanations/:root/diff", cfg.ExplanationHandler.Diff)
		api.GET("/explanation-store", cfg.ExplanationHandler.StoreStatus)
	}
	if cfg.CacheHandler != nil {
		api.GET("/cache/stats", cfg.CacheHandler.Stats)
	}

	protected := api.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireActor())
	}
	{
		// Evidence
		if cfg.LedgerHandler != nil {
			protected.POST("/evidence", cfg.LedgerHandler.RecordEvidence)
			protected.DELETE("/evidence/:id", cfg.LedgerHandler.SoftDeleteEvidence)

			// Assertions
			protected.POST("/assertions", cfg.LedgerHandler.CreateAssertion)
			protected.POST("/assertions/:id/evidence", cfg.LedgerHandler.LinkEvidence)
			protected.POST("/assertions/:id/retract", cfg.LedgerHandler.RetractAssertion)
			protected.POST("/assertions/:id/supersede", cfg.LedgerHandler.SupersedeAssertion)
			protected.POST("/assertions/:id/recompute", cfg.LedgerHandler.RecomputeConfidence)
		}

		// Explanations
		if cfg.ExplanationHandler != nil {
			protected.POST("/explanations/materialize", cfg.ExplanationHandler.Materialize)
		}

		// Lookup cache
		if cfg.CacheHandler != nil {
			protected.POST("/cache/cleanup", cfg.CacheHandler.Cleanup)
			protected.DELETE("/cache/sources/:source", cfg.CacheHandler.ClearSource)
		}
	}

	return r
}
