package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"ashare_backend/config"
	"ashare_backend/services/codes"
	"ashare_backend/services/marketstore"
)

const maxBarLimit = 5000

// StockController handles public market-data reads
type StockController struct {
	store  *marketstore.Store
	logger zerolog.Logger
}

// NewStockController creates a new stock controller
func NewStockController(store *marketstore.Store, logger zerolog.Logger) *StockController {
	return &StockController{
		store:  store,
		logger: logger.With().Str("component", "api.stocks").Logger(),
	}
}

// GetStocks returns the instrument set
// GET /api/v1/stocks
func (sc *StockController) GetStocks(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	stocks, total, err := sc.store.ListInstruments(c.Request.Context(), marketstore.InstrumentFilter{
		Search: c.Query("search"),
		Market: c.Query("market"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		sc.logger.Error().Err(err).Msg("Failed to fetch stocks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stocks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stocks,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetBars returns stored bars for one instrument
// GET /api/v1/stocks/:code/bars?start=YYYY-MM-DD&end=YYYY-MM-DD&period=daily&limit=
func (sc *StockController) GetBars(c *gin.Context) {
	code, ok := storageCode(c)
	if !ok {
		return
	}

	start, err := parseDate(c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start date, expected YYYY-MM-DD"})
		return
	}
	end, err := parseDate(c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end date, expected YYYY-MM-DD"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit <= 0 || limit > maxBarLimit {
		limit = maxBarLimit
	}

	period := c.DefaultQuery("period", "daily")
	bars, err := sc.store.Bars(c.Request.Context(), code, period, start, end, limit)
	if err != nil {
		sc.logger.Error().Err(err).Str("code", code).Msg("Failed to fetch bars")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch bars"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ts_code": code,
		"period":  period,
		"count":   len(bars),
		"data":    bars,
	})
}

// GetLatest returns the latest-basic row for one instrument
// GET /api/v1/stocks/:code/latest
func (sc *StockController) GetLatest(c *gin.Context) {
	code, ok := storageCode(c)
	if !ok {
		return
	}

	row, err := sc.store.LatestBasic(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No data for stock"})
			return
		}
		sc.logger.Error().Err(err).Str("code", code).Msg("Failed to fetch latest basic")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stock"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": row})
}

// storageCode accepts either "600000.SH" or the provider form "sh.600000".
func storageCode(c *gin.Context) (string, bool) {
	raw := c.Param("code")
	if _, err := codes.ToUpstream(raw); err == nil {
		return raw, true
	}
	if code, err := codes.ToStorage(raw); err == nil {
		return code, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stock code, expected 600000.SH"})
	return "", false
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(config.DateLayout, s)
}
