package handlers

import (
	"github.com/zacharyr0th/aptos-stables/internal/services"
	"github.com/zacharyr0th/aptos-stables/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
)

// Router handles HTTP routing setup
type Router struct {
	supplyHandler *SupplyHandler
	quoteHandler  *QuoteHandler
	healthHandler *HealthHandler
	limiter       *ratelimiter.RateLimiter
}

// NewRouter creates a new Router instance with all handlers
func NewRouter(
	supplyService services.SupplyServiceInterface,
	quoteService services.QuoteServiceInterface,
	healthHandler *HealthHandler,
	limiter *ratelimiter.RateLimiter,
) *Router {
	return &Router{
		supplyHandler: NewSupplyHandler(supplyService),
		quoteHandler:  NewQuoteHandler(quoteService),
		healthHandler: healthHandler,
		limiter:       limiter,
	}
}

// SetupRoutes configures all API routes behind the per-client rate limiter
func (r *Router) SetupRoutes(engine *gin.Engine) {
	api := engine.Group("/api")
	api.Use(r.limiter.Middleware(ratelimiter.ClientIdentifier))
	{
		api.GET("/supply", r.supplyHandler.GetSupply)
		api.GET("/cmc", r.quoteHandler.GetQuote)
	}
}

// SetupHealthRoutes configures health check routes
func (r *Router) SetupHealthRoutes(engine *gin.Engine) {
	health := engine.Group("/health")
	{
		health.GET("", r.healthHandler.GetHealth)            // Overall health
		health.GET("/live", r.healthHandler.GetLiveness)     // Liveness probe
		health.GET("/ready", r.healthHandler.GetReadiness)   // Readiness probe
		health.GET("/store", r.healthHandler.GetStoreHealth) // Snapshot store health
	}
}
