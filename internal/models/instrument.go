package models

import "gorm.io/gorm"

// Instrument is the identity record for a tracked symbol. Rows are created on
// first reference (favorite addition or price save) and never deleted; the
// symbol is the natural key and immutable once created.
type Instrument struct {
	gorm.Model
	Symbol   string `gorm:"uniqueIndex;not null" json:"symbol"`
	Name     string `json:"name,omitempty"`
	Currency string `gorm:"default:USD" json:"currency"`
	Region   string `gorm:"default:US" json:"region"`
}
