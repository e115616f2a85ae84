package syncer

import (
	"time"

	"github.com/chrisklg/stock-data-tracker/internal/config"
	"github.com/chrisklg/stock-data-tracker/internal/models"
	"go.uber.org/zap"
)

// LatestBarDater is the single cache read the planner depends on.
type LatestBarDater interface {
	LatestBarDate(symbol string) (time.Time, bool, error)
}

// Plan is the fetch window needed to bring one symbol's cache up to date.
// UpToDate means no fetch is required; callers must not treat it as an error
// or as an empty provider response.
type Plan struct {
	Start    time.Time
	End      time.Time
	UpToDate bool
}

// Planner computes the minimal missing date range per symbol.
type Planner struct {
	store         LatestBarDater
	logger        *zap.Logger
	bootstrapDays int
	fallbackDays  int
	now           func() time.Time
}

// NewPlanner creates a Planner with the configured bootstrap and fallback
// window sizes.
func NewPlanner(store LatestBarDater, logger *zap.Logger, cfg *config.Sync) *Planner {
	return &Planner{
		store:         store,
		logger:        logger,
		bootstrapDays: cfg.BootstrapDays,
		fallbackDays:  cfg.FallbackDays,
		now:           time.Now,
	}
}

// PlanWindow determines the fetch window for symbol: the day after the latest
// cached bar through yesterday, or the bootstrap window when nothing is
// cached yet. A cache read failure degrades to a short recent window instead
// of failing the symbol.
func (p *Planner) PlanWindow(symbol string) Plan {
	yesterday := models.DateOnly(p.now()).AddDate(0, 0, -1)

	latest, cached, err := p.store.LatestBarDate(symbol)
	if err != nil {
		p.logger.Warn("Could not read latest bar date, using fallback window",
			zap.String("symbol", symbol),
			zap.Int("fallback_days", p.fallbackDays),
			zap.Error(err))
		return Plan{Start: yesterday.AddDate(0, 0, -(p.fallbackDays - 1)), End: yesterday}
	}

	var start time.Time
	if cached {
		start = models.DateOnly(latest).AddDate(0, 0, 1)
	} else {
		start = yesterday.AddDate(0, 0, -(p.bootstrapDays - 1))
	}

	if start.After(yesterday) {
		return Plan{UpToDate: true}
	}
	return Plan{Start: start, End: yesterday}
}
