package handlers

import (
	"net/http"

	"github.com/zacharyr0th/aptos-stables/internal/models"
	"github.com/zacharyr0th/aptos-stables/internal/services"

	"github.com/gin-gonic/gin"
)

const cacheControlQuote = "public, max-age=300"

// QuoteHandler serves GET /api/cmc
type QuoteHandler struct {
	quoteService services.QuoteServiceInterface
}

// NewQuoteHandler creates a new QuoteHandler instance
func NewQuoteHandler(quoteService services.QuoteServiceInterface) *QuoteHandler {
	return &QuoteHandler{
		quoteService: quoteService,
	}
}

// GetQuote proxies the cached quote
func (h *QuoteHandler) GetQuote(c *gin.Context) {
	resp, err := h.quoteService.GetQuote(c.Request.Context())
	if err != nil {
		models.HandleError(c, models.NewQuoteUnavailableError(err))
		return
	}

	c.Header("Cache-Control", cacheControlQuote)
	c.JSON(http.StatusOK, resp)
}
