package main

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chrisklg/stock-data-tracker/internal/alpaca"
	"github.com/chrisklg/stock-data-tracker/internal/models"
	"github.com/chrisklg/stock-data-tracker/internal/store"
	"github.com/chrisklg/stock-data-tracker/internal/syncer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultDays = 100

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log       *zap.Logger
	store     *store.Store
	client    alpaca.ClientInterface
	scheduler *syncer.Scheduler
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, st *store.Store, client alpaca.ClientInterface, scheduler *syncer.Scheduler) *APIHandler {
	return &APIHandler{log: log, store: st, client: client, scheduler: scheduler}
}

// Root reports service health.
func (h *APIHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":    "Stock Data Tracker API is running",
		"status":     "healthy",
		"data_range": "up to 1 day ago",
	})
}

type stockBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

type stockResponse struct {
	Symbol        string     `json:"symbol"`
	LastRefreshed string     `json:"last_refreshed,omitempty"`
	Data          []stockBar `json:"data"`
}

func newStockResponse(symbol string, bars []stockBar) stockResponse {
	resp := stockResponse{Symbol: symbol, Data: bars}
	if len(bars) > 0 {
		resp.LastRefreshed = bars[0].Date
	}
	return resp
}

// GetStocks serves daily bars for a symbol, newest first. The cached series
// is served when available; a cache miss or an explicit use_cache=false
// fetches the requested window from the provider and caches it.
func (h *APIHandler) GetStocks(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(defaultDays)))
	if err != nil || days < 1 {
		days = defaultDays
	}
	useCache := c.DefaultQuery("use_cache", "true") != "false"

	if useCache {
		cached, err := h.store.QueryDailyBars(symbol, days)
		if err != nil {
			h.log.Error("Failed to read cached bars", zap.String("symbol", symbol), zap.Error(err))
		}
		if len(cached) > 0 {
			bars := make([]stockBar, 0, len(cached))
			for _, b := range cached {
				bars = append(bars, stockBar{
					Date:   b.Date.Format("2006-01-02"),
					Open:   b.Open,
					High:   b.High,
					Low:    b.Low,
					Close:  b.Close,
					Volume: b.Volume,
				})
			}
			c.JSON(http.StatusOK, newStockResponse(symbol, bars))
			return
		}
	}

	// Cache miss or bypass: fetch the requested window and cache it.
	end := time.Now().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(days - 1))

	fetched, err := h.client.GetDailyBars(c.Request.Context(), symbol, start, end)
	if err != nil {
		h.log.Error("Failed to fetch bars from provider", zap.String("symbol", symbol), zap.Error(err))
		if errors.Is(err, alpaca.ErrSymbolNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no data found for symbol"})
		} else {
			c.JSON(http.StatusBadGateway, gin.H{"error": "market data is currently unavailable"})
		}
		return
	}

	if _, err := h.store.UpsertDailyBars(symbol, fetched); err != nil {
		h.log.Warn("Failed to cache fetched bars", zap.String("symbol", symbol), zap.Error(err))
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].Date.After(fetched[j].Date) })
	if len(fetched) > days {
		fetched = fetched[:days]
	}
	bars := make([]stockBar, 0, len(fetched))
	for _, b := range fetched {
		bars = append(bars, stockBar{
			Date:   b.Date.Format("2006-01-02"),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	c.JSON(http.StatusOK, newStockResponse(symbol, bars))
}

// Search looks up active instruments by keyword. Provider failures degrade
// to an empty result instead of erroring the request.
func (h *APIHandler) Search(c *gin.Context) {
	keywords := c.Query("keywords")
	if strings.TrimSpace(keywords) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keywords is required"})
		return
	}

	assets, err := h.client.SearchAssets(c.Request.Context(), keywords)
	if err != nil {
		h.log.Error("Asset search failed", zap.String("keywords", keywords), zap.Error(err))
		c.JSON(http.StatusOK, []alpaca.Asset{})
		return
	}
	c.JSON(http.StatusOK, assets)
}

// ListFavorites returns all tracked instruments with their last known close.
func (h *APIHandler) ListFavorites(c *gin.Context) {
	entries, err := h.store.ListFavorites()
	if err != nil {
		h.log.Error("Failed to list favorites", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list favorites"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

type addFavoriteRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Name   string `json:"name"`
}

// AddFavorite adds a symbol to the tracked set. Adding an existing favorite
// returns the existing record.
func (h *APIHandler) AddFavorite(c *gin.Context) {
	var req addFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	fav, err := h.store.AddFavorite(req.Symbol, req.Name)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSymbol) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
			return
		}
		h.log.Error("Failed to add favorite", zap.String("symbol", req.Symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add favorite"})
		return
	}

	c.JSON(http.StatusCreated, store.FavoriteEntry{
		ID:      fav.ID,
		Symbol:  fav.Instrument.Symbol,
		Name:    fav.Instrument.Name,
		AddedAt: fav.AddedAt,
	})
}

// IsFavorite reports whether a symbol is tracked.
func (h *APIHandler) IsFavorite(c *gin.Context) {
	symbol := c.Param("symbol")
	isFav, err := h.store.IsFavorite(symbol)
	if err != nil {
		h.log.Error("Failed to check favorite", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check favorite"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(strings.TrimSpace(symbol)), "is_favorite": isFav})
}

// RemoveFavorite removes a symbol from the tracked set. Removing an unknown
// symbol is reported, not an error.
func (h *APIHandler) RemoveFavorite(c *gin.Context) {
	symbol := c.Param("symbol")
	removed, err := h.store.RemoveFavorite(symbol)
	if err != nil {
		h.log.Error("Failed to remove favorite", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove favorite"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(strings.TrimSpace(symbol)), "removed": removed})
}

// Stats summarizes cache contents and run history.
func (h *APIHandler) Stats(c *gin.Context) {
	stats, err := h.store.GetStats()
	if err != nil {
		h.log.Error("Failed to collect stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ManualSync triggers one synchronization pass outside the polling schedule.
func (h *APIHandler) ManualSync(c *gin.Context) {
	summary, err := h.scheduler.RunOnce(c.Request.Context(), models.JobKindManual)
	if err != nil {
		h.log.Error("Manual sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
