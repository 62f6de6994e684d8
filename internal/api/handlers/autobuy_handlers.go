package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/domain/entities"
)

// AutobuyHandlers exposes read-only autobuy state over HTTP
type AutobuyHandlers struct {
	autobuy AutobuyService
	market  MarketService
	logger  *zap.Logger
}

func NewAutobuyHandlers(autobuyService AutobuyService, marketService MarketService, logger *zap.Logger) *AutobuyHandlers {
	return &AutobuyHandlers{autobuy: autobuyService, market: marketService, logger: logger}
}

// GetStatus handles GET /api/v1/autobuy/status
func (h *AutobuyHandlers) GetStatus(c *gin.Context) {
	status, err := h.autobuy.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load autobuy status", zap.Error(err))
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetBoard handles GET /api/v1/market/:kind?symbols=A,B
func (h *AutobuyHandlers) GetBoard(c *gin.Context) {
	kind := entities.QuoteKind(c.Param("kind"))
	symbols := c.QueryArray("symbols")
	if len(symbols) == 1 {
		symbols = splitCSV(symbols[0])
	}

	board, err := h.market.Board(c.Request.Context(), kind, symbols)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
