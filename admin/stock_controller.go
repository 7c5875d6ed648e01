package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ashare_backend/services/marketstore"
)

// StockController handles instrument management views
type StockController struct {
	store  *marketstore.Store
	logger zerolog.Logger
}

// NewStockController creates a new stock controller
func NewStockController(store *marketstore.Store, logger zerolog.Logger) *StockController {
	return &StockController{
		store:  store,
		logger: logger.With().Str("component", "admin.stocks").Logger(),
	}
}

// ListStocks handles GET /admin/stocks
func (ctrl *StockController) ListStocks(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	stocks, total, err := ctrl.store.ListInstruments(c.Request.Context(), marketstore.InstrumentFilter{
		Search: c.Query("search"),
		Market: c.Query("market"),
		Page:   page,
		Limit:  pageSize,
	})
	if err != nil {
		ctrl.logger.Error().Err(err).Msg("Failed to list instruments")
		reply(c, http.StatusInternalServerError, "failed to list instruments")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": stocks,
		"pagination": gin.H{
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": totalPages,
		},
	})
}

// GetStock handles GET /admin/stocks/:code and reports how much history is stored
func (ctrl *StockController) GetStock(c *gin.Context) {
	code := c.Param("code")
	period := c.DefaultQuery("period", "daily")
	ctx := c.Request.Context()

	bars, err := ctrl.store.CountBars(ctx, code, period)
	if err != nil {
		ctrl.logger.Error().Err(err).Str("code", code).Msg("Failed to count bars")
		reply(c, http.StatusInternalServerError, "failed to load stock")
		return
	}
	last, ok, err := ctrl.store.LastTradeDate(ctx, code, period)
	if err != nil {
		reply(c, http.StatusInternalServerError, "failed to load stock")
		return
	}

	data := gin.H{"ts_code": code, "period": period, "bars": bars}
	if ok {
		data["last_trade_date"] = last.Format("2006-01-02")
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": data})
}
