package models

import (
	"time"

	"gorm.io/gorm"
)

// Favorite marks an Instrument as a member of the tracked set.
// At most one row per instrument; removing a favorite leaves the instrument
// and its price history in place.
type Favorite struct {
	gorm.Model
	InstrumentID uint       `gorm:"uniqueIndex;not null" json:"instrument_id"`
	Instrument   Instrument `json:"instrument"`
	AddedAt      time.Time  `gorm:"not null;index" json:"added_at"`
}
