package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zacharyr0th/aptos-stables/internal/models"
	"github.com/zacharyr0th/aptos-stables/internal/services"
	"github.com/zacharyr0th/aptos-stables/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	cacheControlFresh   = "public, max-age=60, stale-while-revalidate=30"
	cacheControlPartial = "no-cache"
)

// SupplyHandler serves GET /api/supply
type SupplyHandler struct {
	supplyService services.SupplyServiceInterface
}

// NewSupplyHandler creates a new SupplyHandler instance
func NewSupplyHandler(supplyService services.SupplyServiceInterface) *SupplyHandler {
	return &SupplyHandler{
		supplyService: supplyService,
	}
}

// GetSupply answers with every supply, a partial set, or a generic error
func (h *SupplyHandler) GetSupply(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	resp, err := h.supplyService.GetSupplies(c.Request.Context())
	if err != nil {
		log.Warn("Supply aggregation failed, attempting partial response", zap.Error(err))

		partial, ok := h.supplyService.GetPartialSupplies()
		if !ok {
			models.HandleError(c, models.NewDataUnavailableError(err))
			return
		}

		c.Header("Cache-Control", cacheControlPartial)
		c.JSON(http.StatusPartialContent, partial)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		models.HandleError(c, err)
		return
	}

	etag := fingerprint(body)
	c.Header("ETag", etag)
	c.Header("Cache-Control", cacheControlFresh)

	if etagMatches(c.GetHeader("If-None-Match"), etag) {
		c.Status(http.StatusNotModified)
		return
	}

	log.Debug("Supply request served",
		zap.Bool("cached", resp.Cached),
		zap.String("total", resp.Total),
	)
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// fingerprint is the quoted sha256 of the body
func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// etagMatches implements the weak comparison If-None-Match uses
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
