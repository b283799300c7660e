package strategy

import (
	"time"

	"orderflow_go/internal/domain"
)

// Context is the read-only view a Detector evaluates on each tick.
type Context struct {
	State     *domain.InstrumentState
	Trade     *domain.Trade // trade inferred on this tick, nil if none
	PrevPrice float64
	Now       time.Time
}

// Price is the current price of the instrument.
func (c Context) Price() float64 {
	return c.State.CurrentPrice
}

// Candidate is a detector's proposal for a new signal.
type Candidate struct {
	Kind      domain.SignalKind
	Direction domain.Direction
	Message   string

	// Iceberg, when set, asks the engine to register a marker at this price.
	Iceberg *domain.Side
	Price   float64
}

// Detector is a pluggable signal trigger.
// It is called synchronously by the Engine and must not mutate the state.
type Detector interface {
	Name() string
	Detect(ctx Context) []Candidate
}
