package event

import (
	"time"

	"orderflow_go/internal/domain"
)

// Type identifies an event kind.
type Type int

const (
	TypeFrame Type = iota + 1
	TypeQuotes
	TypeStatus
	TypeSelect
	TypeAddInstrument
	TypeIceberg
	TypeReset
)

func (t Type) String() string {
	switch t {
	case TypeFrame:
		return "FRAME"
	case TypeQuotes:
		return "QUOTES"
	case TypeStatus:
		return "STATUS"
	case TypeSelect:
		return "SELECT"
	case TypeAddInstrument:
		return "ADD_INSTRUMENT"
	case TypeIceberg:
		return "ICEBERG"
	case TypeReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Event is anything the sequencer processes. Seq is stamped on publish.
type Event interface {
	GetSeq() uint64
	SetSeq(seq uint64)
	GetType() Type
	GetTs() time.Time
}

// BaseEvent carries the fields shared by every event.
type BaseEvent struct {
	Seq uint64
	Ts  time.Time
}

func (b *BaseEvent) GetSeq() uint64    { return b.Seq }
func (b *BaseEvent) SetSeq(seq uint64) { b.Seq = seq }
func (b *BaseEvent) GetTs() time.Time  { return b.Ts }

// FrameEvent carries one decoded feed frame.
type FrameEvent struct {
	BaseEvent
	Frame *domain.Frame
}

func (e *FrameEvent) GetType() Type { return TypeFrame }

// QuotesEvent carries quote-only last prices keyed by instrument.
type QuotesEvent struct {
	BaseEvent
	Prices map[string]float64
}

func (e *QuotesEvent) GetType() Type { return TypeQuotes }

// StatusEvent carries a transport lifecycle transition.
type StatusEvent struct {
	BaseEvent
	Status domain.ConnectionStatus
}

func (e *StatusEvent) GetType() Type { return TypeStatus }

// SelectEvent switches the current instrument.
type SelectEvent struct {
	BaseEvent
	Key      string
	RefPrice float64
}

func (e *SelectEvent) GetType() Type { return TypeSelect }

// AddInstrumentEvent registers a known instrument name.
type AddInstrumentEvent struct {
	BaseEvent
	Key  string
	Name string
}

func (e *AddInstrumentEvent) GetType() Type { return TypeAddInstrument }

// IcebergEvent injects a manual iceberg marker on the current instrument.
type IcebergEvent struct {
	BaseEvent
	Side domain.Side
}

func (e *IcebergEvent) GetType() Type { return TypeIceberg }

// ResetEvent discards and recreates an instrument's state.
type ResetEvent struct {
	BaseEvent
	Key string
}

func (e *ResetEvent) GetType() Type { return TypeReset }
