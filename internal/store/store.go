package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chrisklg/stock-data-tracker/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidSymbol is returned when a symbol is empty after trimming.
	// The input is rejected before any I/O.
	ErrInvalidSymbol = errors.New("symbol is required and cannot be empty")

	// ErrCacheUnavailable wraps persistence failures so callers can
	// distinguish them from provider errors and degrade where feasible.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// NormalizeSymbol trims and uppercases a ticker symbol.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", ErrInvalidSymbol
	}
	return s, nil
}

// Store owns the persisted representation of instruments, favorites, daily
// bars and run records. Every method is a single self-contained database
// call chain; no method holds a transaction across an external call.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Store on top of an opened database.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// UpsertInstrument returns the instrument for symbol, creating it if needed.
// The name is only applied on creation; an existing row is returned as-is.
func (s *Store) UpsertInstrument(symbol, name string) (*models.Instrument, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	inst := models.Instrument{Symbol: sym, Name: name}
	if err := s.db.Where(models.Instrument{Symbol: sym}).FirstOrCreate(&inst).Error; err != nil {
		return nil, fmt.Errorf("%w: get or create instrument %s: %v", ErrCacheUnavailable, sym, err)
	}
	return &inst, nil
}

// AddFavorite marks symbol as tracked. Adding an already-tracked symbol is a
// no-op that returns the existing favorite.
func (s *Store) AddFavorite(symbol, name string) (*models.Favorite, error) {
	inst, err := s.UpsertInstrument(symbol, name)
	if err != nil {
		return nil, err
	}

	fav := models.Favorite{InstrumentID: inst.ID, AddedAt: time.Now().UTC()}
	if err := s.db.Where(models.Favorite{InstrumentID: inst.ID}).FirstOrCreate(&fav).Error; err != nil {
		return nil, fmt.Errorf("%w: add favorite %s: %v", ErrCacheUnavailable, inst.Symbol, err)
	}
	fav.Instrument = *inst
	return &fav, nil
}

// RemoveFavorite deletes the membership row for symbol if present and reports
// whether a row was removed. An unknown or blank symbol is not an error.
// The delete is unscoped: a soft-deleted row would keep holding the unique
// index on instrument_id and block the symbol from ever being re-added.
func (s *Store) RemoveFavorite(symbol string) (bool, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return false, nil
	}

	res := s.db.Unscoped().Where("instrument_id IN (?)",
		s.db.Model(&models.Instrument{}).Select("id").Where("symbol = ?", sym),
	).Delete(&models.Favorite{})
	if res.Error != nil {
		return false, fmt.Errorf("%w: remove favorite %s: %v", ErrCacheUnavailable, sym, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// IsFavorite reports whether symbol is in the tracked set.
func (s *Store) IsFavorite(symbol string) (bool, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return false, nil
	}

	var count int64
	err = s.db.Model(&models.Favorite{}).
		Joins("JOIN instruments ON instruments.id = favorites.instrument_id").
		Where("instruments.symbol = ?", sym).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("%w: check favorite %s: %v", ErrCacheUnavailable, sym, err)
	}
	return count > 0, nil
}

// FavoriteEntry is a favorite joined with its instrument and the most recent
// cached close price, if any bars are cached.
type FavoriteEntry struct {
	ID        uint      `json:"id"`
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name,omitempty"`
	AddedAt   time.Time `json:"added_at"`
	LastPrice *float64  `json:"last_price,omitempty"`
}

// ListFavorites returns all favorites, newest first, each with the latest
// cached close attached via a per-instrument latest-bar lookup.
func (s *Store) ListFavorites() ([]FavoriteEntry, error) {
	var favs []models.Favorite
	if err := s.db.Preload("Instrument").Order("added_at DESC").Find(&favs).Error; err != nil {
		return nil, fmt.Errorf("%w: list favorites: %v", ErrCacheUnavailable, err)
	}

	entries := make([]FavoriteEntry, 0, len(favs))
	for _, f := range favs {
		entry := FavoriteEntry{
			ID:      f.ID,
			Symbol:  f.Instrument.Symbol,
			Name:    f.Instrument.Name,
			AddedAt: f.AddedAt,
		}

		var bar models.DailyBar
		err := s.db.Where("instrument_id = ?", f.InstrumentID).Order("date DESC").First(&bar).Error
		switch {
		case err == nil:
			price := bar.Close
			entry.LastPrice = &price
		case !errors.Is(err, gorm.ErrRecordNotFound):
			s.logger.Warn("Failed to look up latest close",
				zap.String("symbol", entry.Symbol), zap.Error(err))
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

// ListFavoriteSymbols returns the deduplicated set of tracked symbols.
func (s *Store) ListFavoriteSymbols() ([]string, error) {
	var symbols []string
	err := s.db.Model(&models.Favorite{}).
		Joins("JOIN instruments ON instruments.id = favorites.instrument_id").
		Distinct().
		Pluck("instruments.symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list favorite symbols: %v", ErrCacheUnavailable, err)
	}
	return symbols, nil
}

// UpsertDailyBars writes-or-replaces one row per bar keyed by
// (instrument, date). A bar that fails to write is logged and skipped rather
// than failing the batch. Returns the number of bars written.
func (s *Store) UpsertDailyBars(symbol string, bars []models.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	inst, err := s.UpsertInstrument(symbol, "")
	if err != nil {
		return 0, err
	}

	written := 0
	for _, b := range bars {
		row := models.DailyBar{
			InstrumentID: inst.ID,
			Date:         models.DateOnly(b.Date),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
		}
		err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instrument_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).Create(&row).Error
		if err != nil {
			s.logger.Error("Failed to save bar",
				zap.String("symbol", inst.Symbol),
				zap.Time("date", row.Date),
				zap.Error(err))
			continue
		}
		written++
	}
	return written, nil
}

// QueryDailyBars returns up to limit cached bars for symbol, newest first.
func (s *Store) QueryDailyBars(symbol string, limit int) ([]models.DailyBar, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}

	var bars []models.DailyBar
	err = s.db.Joins("JOIN instruments ON instruments.id = daily_bars.instrument_id").
		Where("instruments.symbol = ?", sym).
		Order("daily_bars.date DESC").
		Limit(limit).
		Find(&bars).Error
	if err != nil {
		return nil, fmt.Errorf("%w: query daily bars for %s: %v", ErrCacheUnavailable, sym, err)
	}
	return bars, nil
}

// LatestBarDate returns the most recent cached bar date for symbol. The
// second return value is false when no bars are cached.
func (s *Store) LatestBarDate(symbol string) (time.Time, bool, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return time.Time{}, false, err
	}

	var bar models.DailyBar
	err = s.db.Joins("JOIN instruments ON instruments.id = daily_bars.instrument_id").
		Where("instruments.symbol = ?", sym).
		Order("daily_bars.date DESC").
		First(&bar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: latest bar date for %s: %v", ErrCacheUnavailable, sym, err)
	}
	return bar.Date, true, nil
}

// AppendRunRecord persists one audit entry. The payload is serialized to
// JSON; a payload that fails to encode is recorded as an empty object so the
// run itself is never lost from the audit trail.
func (s *Store) AppendRunRecord(jobKind, status string, payload any) error {
	result, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode run result", zap.String("job_kind", jobKind), zap.Error(err))
		result = []byte("{}")
	}

	rec := models.RunRecord{
		JobKind:   jobKind,
		Status:    status,
		Result:    string(result),
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		s.logger.Error("Failed to record run",
			zap.String("job_kind", jobKind),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("%w: append run record: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// CountRunsToday counts today's run records for jobKind with one of the
// given statuses. Days are bounded in UTC.
func (s *Store) CountRunsToday(jobKind string, statuses []string) (int64, error) {
	var count int64
	err := s.db.Model(&models.RunRecord{}).
		Where("job_kind = ? AND status IN ? AND started_at >= ?",
			jobKind, statuses, models.DateOnly(time.Now())).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("%w: count runs today: %v", ErrCacheUnavailable, err)
	}
	return count, nil
}

// Stats summarizes cache contents and run history.
type Stats struct {
	Favorites    int64            `json:"favorites"`
	Instruments  int64            `json:"instruments"`
	CachedBars   int64            `json:"cached_bars"`
	RunsByStatus map[string]int64 `json:"runs_by_status"`
	LastRun      *RunInfo         `json:"last_run,omitempty"`
}

// RunInfo is a compact view of one run record.
type RunInfo struct {
	JobKind   string    `json:"job_kind"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// GetStats collects counts across all persisted entities.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{RunsByStatus: map[string]int64{}}

	if err := s.db.Model(&models.Favorite{}).Count(&stats.Favorites).Error; err != nil {
		return nil, fmt.Errorf("%w: count favorites: %v", ErrCacheUnavailable, err)
	}
	if err := s.db.Model(&models.Instrument{}).Count(&stats.Instruments).Error; err != nil {
		return nil, fmt.Errorf("%w: count instruments: %v", ErrCacheUnavailable, err)
	}
	if err := s.db.Model(&models.DailyBar{}).Count(&stats.CachedBars).Error; err != nil {
		return nil, fmt.Errorf("%w: count bars: %v", ErrCacheUnavailable, err)
	}

	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.Model(&models.RunRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: count runs: %v", ErrCacheUnavailable, err)
	}
	for _, r := range rows {
		stats.RunsByStatus[r.Status] = r.Count
	}

	var last models.RunRecord
	err = s.db.Order("started_at DESC").First(&last).Error
	if err == nil {
		stats.LastRun = &RunInfo{JobKind: last.JobKind, Status: last.Status, StartedAt: last.StartedAt}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: latest run: %v", ErrCacheUnavailable, err)
	}

	return stats, nil
}
