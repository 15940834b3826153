package app

import (
	"github.com/yungbote/biograph-backend/internal/http"
	httpH "github.com/yungbote/biograph-backend/internal/http/handlers"
	httpMW "github.com/yungbote/biograph-backend/internal/http/middleware"
	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health      *httpH.HealthHandler
	Ledger      *httpH.LedgerHandler
	Explanation *httpH.ExplanationHandler
	Cache       *httpH.CacheHandler
}

func wireHandlers(log *logger.Logger, clients Clients, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:      httpH.NewHealthHandler(clients.DB(), services.Store),
		Ledger:      httpH.NewLedgerHandler(services.Evidence, services.Assertions, services.Store, services.Confidence),
		Explanation: httpH.NewExplanationHandler(services.Explanations, services.Materializer),
		Cache:       httpH.NewCacheHandler(services.Cache),
	}
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, cfg.JWTSecret),
	}
}

func wireServer(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *http.Server {
	return http.NewServer(http.RouterConfig{
		Log:                log,
		Metrics:            metrics,
		ServiceName:        cfg.OtelService,
		TracingEnabled:     cfg.OtelEnabled,
		CORSOrigins:        cfg.CORSOrigins,
		AuthMiddleware:     middleware.Auth,
		LedgerHandler:      handlers.Ledger,
		ExplanationHandler: handlers.Explanation,
		CacheHandler:       handlers.Cache,
		HealthHandler:      handlers.Health,
	})
}
