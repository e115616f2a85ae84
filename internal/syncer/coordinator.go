package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/chrisklg/stock-data-tracker/internal/alpaca"
	"github.com/chrisklg/stock-data-tracker/internal/config"
	"github.com/chrisklg/stock-data-tracker/internal/models"
	"github.com/chrisklg/stock-data-tracker/internal/store"
	"go.uber.org/zap"
)

// SymbolResult is the outcome of syncing one symbol.
type SymbolResult struct {
	Symbol     string `json:"symbol"`
	Success    bool   `json:"success"`
	NewRecords int    `json:"new_records,omitempty"`
	DateRange  string `json:"date_range,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunSummary aggregates one full synchronization pass over all favorites.
type RunSummary struct {
	Processed       int            `json:"processed"`
	Failed          int            `json:"failed"`
	TotalSymbols    int            `json:"total_symbols"`
	TotalNewRecords int            `json:"total_new_records"`
	Symbols         []string       `json:"symbols"`
	FailedSymbols   []string       `json:"failed_symbols"`
	Results         []SymbolResult `json:"results"`
}

// Status classifies the run for the audit trail. A run with no failures is
// completed, even when there was nothing to do; only failures degrade it.
func (r *RunSummary) Status() string {
	switch {
	case r.Failed == 0:
		return models.RunStatusCompleted
	case r.Processed > 0:
		return models.RunStatusPartialSuccess
	default:
		return models.RunStatusFailed
	}
}

// Coordinator runs one synchronization pass over all favorite symbols,
// sequentially, with a pacing delay between symbols.
type Coordinator struct {
	logger      *zap.Logger
	client      alpaca.ClientInterface
	store       *store.Store
	planner     *Planner
	symbolDelay time.Duration
}

// NewCoordinator creates a new run coordinator.
func NewCoordinator(logger *zap.Logger, client alpaca.ClientInterface, st *store.Store, planner *Planner, cfg *config.Sync) *Coordinator {
	return &Coordinator{
		logger:      logger,
		client:      client,
		store:       st,
		planner:     planner,
		symbolDelay: time.Duration(cfg.SymbolDelaySeconds) * time.Second,
	}
}

// Run performs one pass. Per-symbol failures are isolated into the summary;
// an error is only returned when the pass itself could not proceed (the
// favorite set was unreadable, or the context was cancelled mid-run).
func (c *Coordinator) Run(ctx context.Context) (*RunSummary, error) {
	symbols, err := c.store.ListFavoriteSymbols()
	if err != nil {
		return nil, fmt.Errorf("could not list favorite symbols: %w", err)
	}

	summary := &RunSummary{
		Symbols:       symbols,
		TotalSymbols:  len(symbols),
		FailedSymbols: []string{},
		Results:       []SymbolResult{},
	}
	if len(symbols) == 0 {
		c.logger.Info("No favorites to update")
		return summary, nil
	}

	for i, symbol := range symbols {
		result := c.syncSymbol(ctx, symbol)
		summary.Results = append(summary.Results, result)
		if result.Success {
			summary.Processed++
			summary.TotalNewRecords += result.NewRecords
		} else {
			summary.Failed++
			summary.FailedSymbols = append(summary.FailedSymbols, symbol)
		}

		if i == len(symbols)-1 {
			break
		}
		// Pace requests between symbols; the provider rate limit is shared
		// with the API server.
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		case <-time.After(c.symbolDelay):
		}
	}

	return summary, nil
}

// syncSymbol brings one symbol's cache up to date. All failures are captured
// in the result; nothing propagates.
func (c *Coordinator) syncSymbol(ctx context.Context, symbol string) SymbolResult {
	l := c.logger.With(zap.String("symbol", symbol))

	plan := c.planner.PlanWindow(symbol)
	if plan.UpToDate {
		l.Info("Already up to date")
		return SymbolResult{Symbol: symbol, Success: true, Message: "already up to date"}
	}

	dateRange := fmt.Sprintf("%s to %s", plan.Start.Format("2006-01-02"), plan.End.Format("2006-01-02"))
	l.Info("Fetching incremental data", zap.String("date_range", dateRange))

	bars, err := c.client.GetDailyBars(ctx, symbol, plan.Start, plan.End)
	if err != nil {
		l.Error("Failed to fetch daily bars", zap.Error(err))
		return SymbolResult{Symbol: symbol, Success: false, DateRange: dateRange, Error: err.Error()}
	}

	written, err := c.store.UpsertDailyBars(symbol, bars)
	if err != nil {
		l.Error("Failed to save daily bars", zap.Error(err))
		return SymbolResult{Symbol: symbol, Success: false, DateRange: dateRange, Error: err.Error()}
	}

	l.Info("Symbol updated", zap.Int("new_records", written))
	return SymbolResult{Symbol: symbol, Success: true, NewRecords: written, DateRange: dateRange}
}
