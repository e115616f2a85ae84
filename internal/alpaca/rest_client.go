package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chrisklg/stock-data-tracker/internal/config"
	"github.com/chrisklg/stock-data-tracker/internal/models"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultDataBaseURL    = "https://data.alpaca.markets/v2"
	defaultTradingBaseURL = "https://paper-api.alpaca.markets/v2"
	dateLayout            = "2006-01-02"
	maxSearchResults      = 15
)

var (
	// ErrSymbolNotFound means the provider yielded no data slot for the
	// requested symbol. Not retried; surfaced to the caller.
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrProviderUnavailable covers transport, auth and timeout failures
	// talking to the provider. Timeouts are not distinguished further.
	ErrProviderUnavailable = errors.New("market data provider unavailable")
)

// ClientInterface defines the interface for the Alpaca REST API client.
type ClientInterface interface {
	GetDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error)
	SearchAssets(ctx context.Context, keywords string) ([]Asset, error)
	GetClock(ctx context.Context) (*Clock, error)
}

// Client is a client for the Alpaca data and trading REST APIs.
// It implements the ClientInterface.
type Client struct {
	data     *resty.Client
	trading  *resty.Client
	logger   *zap.Logger
	limiter  *rate.Limiter
	barLimit int
	now      func() time.Time
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new Alpaca REST API client.
func NewClient(cfg *config.Alpaca, logger *zap.Logger) *Client {
	dataURL := cfg.DataBaseURL
	if dataURL == "" {
		dataURL = defaultDataBaseURL
	}
	tradingURL := cfg.TradingBaseURL
	if tradingURL == "" {
		tradingURL = defaultTradingBaseURL
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	newREST := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("APCA-API-KEY-ID", cfg.ApiKey).
			SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)
	}

	return &Client{
		data:     newREST(dataURL),
		trading:  newREST(tradingURL),
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		barLimit: cfg.BarLimit,
		now:      time.Now,
	}
}

// doRequest executes a single rate-limited request. One best-effort call per
// invocation; retry policy belongs to the caller, not this layer.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter wait failed: %v", ErrProviderUnavailable, err)
	}

	c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", url))
	resp, err := req.SetContext(ctx).Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("%w: status %s", ErrSymbolNotFound, resp.Status())
		}
		return nil, fmt.Errorf("%w: status %s: %s", ErrProviderUnavailable, resp.Status(), resp.String())
	}
	return resp, nil
}

// GetDailyBars fetches daily bars for one symbol over [start, end]. The end
// date is clamped to yesterday because the provider does not guarantee
// settled data for the current day; if nothing remains after clamping, no
// network call is made and an empty result is returned.
func (c *Client) GetDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	start = models.DateOnly(start)
	end = models.DateOnly(end)

	yesterday := models.DateOnly(c.now()).AddDate(0, 0, -1)
	if end.After(yesterday) {
		c.logger.Warn("Clamping end date to yesterday, settled data lags one day",
			zap.String("symbol", sym),
			zap.Time("requested_end", end),
			zap.Time("end", yesterday))
		end = yesterday
	}
	if start.After(end) {
		return nil, nil
	}

	req := c.data.R().SetQueryParams(map[string]string{
		"symbols":    sym,
		"timeframe":  "1Day",
		"start":      start.Format(dateLayout),
		"end":        end.Format(dateLayout),
		"limit":      strconv.Itoa(c.barLimit),
		"adjustment": "raw",
	})

	resp, err := c.doRequest(ctx, "GET", "/stocks/bars", req)
	if err != nil {
		c.logger.Error("Failed to fetch daily bars", zap.String("symbol", sym), zap.Error(err))
		return nil, fmt.Errorf("failed to fetch daily bars for %s: %w", sym, err)
	}

	bars, err := extractBars(resp.Body(), sym)
	if err != nil {
		return nil, err
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	c.logger.Debug("Fetched daily bars", zap.String("symbol", sym), zap.Int("count", len(bars)))
	return bars, nil
}

// rawBar matches one bar object in the provider's JSON payloads.
type rawBar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    int64     `json:"v"`
}

// extractBars normalizes the payload shapes the provider has been observed to
// return: a "bars" object keyed by symbol, a plain "bars" array for
// single-symbol requests, and a top-level field per symbol. A present slot
// with zero bars (for example an all-holiday range) is a valid empty result;
// a missing slot means the symbol is unknown to the provider.
func extractBars(body []byte, symbol string) ([]models.Bar, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: undecodable response: %v", ErrProviderUnavailable, err)
	}

	var raws []rawBar
	found := false

	if payload, ok := envelope["bars"]; ok {
		var bySymbol map[string][]rawBar
		if err := json.Unmarshal(payload, &bySymbol); err == nil {
			for key, entry := range bySymbol {
				if strings.EqualFold(key, symbol) {
					raws = entry
					found = true
					break
				}
			}
		} else if err := json.Unmarshal(payload, &raws); err == nil {
			found = true
		} else {
			return nil, fmt.Errorf("%w: unrecognized bars payload: %v", ErrProviderUnavailable, err)
		}
	} else {
		for key, payload := range envelope {
			if !strings.EqualFold(key, symbol) {
				continue
			}
			if err := json.Unmarshal(payload, &raws); err != nil {
				return nil, fmt.Errorf("%w: unrecognized payload for %s: %v", ErrProviderUnavailable, symbol, err)
			}
			found = true
			break
		}
	}

	if !found {
		return nil, fmt.Errorf("%w: no data for %s", ErrSymbolNotFound, symbol)
	}

	bars := make([]models.Bar, 0, len(raws))
	for _, r := range raws {
		bars = append(bars, models.Bar{
			Date:   models.DateOnly(r.Timestamp),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return bars, nil
}

// Asset is one tradable instrument listed by the provider.
type Asset struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Class  string `json:"class"`
}

// SearchAssets lists active US equities matching keywords by symbol or name,
// capped to a small result set.
func (c *Client) SearchAssets(ctx context.Context, keywords string) ([]Asset, error) {
	var assets []Asset
	req := c.trading.R().
		SetQueryParams(map[string]string{
			"status":      "active",
			"asset_class": "us_equity",
		}).
		SetResult(&assets)

	resp, err := c.doRequest(ctx, "GET", "/assets", req)
	if err != nil {
		c.logger.Error("Failed to list assets", zap.Error(err))
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	all := *resp.Result().(*[]Asset)
	needle := strings.ToLower(strings.TrimSpace(keywords))

	matches := make([]Asset, 0, maxSearchResults)
	for _, a := range all {
		if needle != "" &&
			!strings.Contains(strings.ToLower(a.Symbol), needle) &&
			!strings.Contains(strings.ToLower(a.Name), needle) {
			continue
		}
		matches = append(matches, a)
		if len(matches) >= maxSearchResults {
			break
		}
	}

	c.logger.Debug("Asset search complete",
		zap.String("keywords", keywords),
		zap.Int("total", len(all)),
		zap.Int("matches", len(matches)))
	return matches, nil
}

// Clock reports the provider's market clock.
// Fetching it is a cheap connectivity and auth check.
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// GetClock fetches the current market clock.
func (c *Client) GetClock(ctx context.Context) (*Clock, error) {
	req := c.trading.R().SetResult(&Clock{})

	resp, err := c.doRequest(ctx, "GET", "/clock", req)
	if err != nil {
		c.logger.Error("Failed to get market clock", zap.Error(err))
		return nil, fmt.Errorf("failed to get market clock: %w", err)
	}

	return resp.Result().(*Clock), nil
}
