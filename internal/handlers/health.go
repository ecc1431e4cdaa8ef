package handlers

import (
	"net/http"
	"time"

	"github.com/zacharyr0th/aptos-stables/internal/models"
	"github.com/zacharyr0th/aptos-stables/internal/services"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	storeHealthChecker services.StoreHealthChecker
	supplyService      services.SupplyServiceInterface
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(storeHealthChecker services.StoreHealthChecker, supplyService services.SupplyServiceInterface) *HealthHandler {
	return &HealthHandler{
		storeHealthChecker: storeHealthChecker,
		supplyService:      supplyService,
	}
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    services.HealthStatus            `json:"status"`
	Timestamp time.Time                        `json:"timestamp"`
	Services  map[string]*services.HealthCheck `json:"services"`
	Cache     models.CacheStatus               `json:"cache"`
	Version   string                           `json:"version,omitempty"`
}

// GetHealth returns the overall health status
func (h *HealthHandler) GetHealth(c *gin.Context) {
	serviceChecks := h.storeHealthChecker.GetDetailedHealth()

	cacheStatus := h.supplyService.CacheStatus()
	serviceChecks["supply_cache"] = supplyCacheCheck(cacheStatus)

	// Determine overall status
	overallStatus := services.HealthStatusHealthy
	for _, check := range serviceChecks {
		if check.Status == services.HealthStatusUnhealthy {
			overallStatus = services.HealthStatusUnhealthy
			break
		} else if check.Status == services.HealthStatusDegraded && overallStatus == services.HealthStatusHealthy {
			overallStatus = services.HealthStatusDegraded
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  serviceChecks,
		Cache:     cacheStatus,
		Version:   "1.0.0",
	}

	// Degraded still answers 200
	statusCode := http.StatusOK
	if overallStatus == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// GetLiveness returns a simple liveness check
func (h *HealthHandler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// GetReadiness returns readiness status (checks if all dependencies are available)
func (h *HealthHandler) GetReadiness(c *gin.Context) {
	storeHealth := h.storeHealthChecker.CheckHealth()

	if storeHealth.Status == services.HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"message":   "snapshot store not available",
			"timestamp": time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// GetStoreHealth returns detailed snapshot store health information
func (h *HealthHandler) GetStoreHealth(c *gin.Context) {
	healthCheck := h.storeHealthChecker.CheckHealth()

	statusCode := http.StatusOK
	if healthCheck.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, healthCheck)
}

// supplyCacheCheck is degraded while any asset lacks a fresh value
func supplyCacheCheck(status models.CacheStatus) *services.HealthCheck {
	check := &services.HealthCheck{
		Service:   "supply_cache",
		Status:    services.HealthStatusHealthy,
		Timestamp: time.Now(),
	}

	switch {
	case status.Missing > 0:
		check.Status = services.HealthStatusDegraded
		check.Message = "some assets have never been fetched"
	case status.Stale > 0:
		check.Status = services.HealthStatusDegraded
		check.Message = "serving stale values for some assets"
	default:
		check.Message = "all assets fresh"
	}
	return check
}
