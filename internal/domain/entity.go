package domain

import (
	"time"
)

// InstrumentInfo is the catalog record of a tradable instrument
type InstrumentInfo struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Name      string    `json:"name"`
	TickSize  float64   `json:"tick_size"`
	IsActive  bool      `json:"is_active" gorm:"index"` // included in ListKnownInstruments
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Preference is a persisted key-value user setting (e.g. last selected instrument)
type Preference struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PrefSelectedInstrument stores the last selected instrument key.
const PrefSelectedInstrument = "selected_instrument"
