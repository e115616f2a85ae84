package models

import (
	"time"

	"gorm.io/gorm"
)

// DailyBar is one trading day's OHLCV observation for an instrument.
// At most one row per (instrument, date); later writes for the same pair
// replace all price and volume fields.
type DailyBar struct {
	gorm.Model
	InstrumentID uint      `gorm:"not null;uniqueIndex:idx_bar_instrument_date,priority:1" json:"instrument_id"`
	Date         time.Time `gorm:"not null;uniqueIndex:idx_bar_instrument_date,priority:2" json:"date"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `gorm:"default:0" json:"volume"`
}
