package domain

import "time"

// Side is the aggressor (for trades) or resting (for orders) side.
type Side string

const (
	SideBid Side = "BID" // seller-initiated / resting buy
	SideAsk Side = "ASK" // buyer-initiated / resting sell
)

// Sign returns +1 for ask-aggressed volume and -1 for bid-aggressed volume.
func (s Side) Sign() int64 {
	if s == SideAsk {
		return 1
	}
	return -1
}

// SyntheticOrder is a display-only order entry inside a PriceLevel.
// The feed carries no order identities; these are derived from quote rungs.
type SyntheticOrder struct {
	ID       string  `json:"id"`
	Price    float64 `json:"price"`
	Size     int64   `json:"size"`
	Priority int     `json:"priority"` // quote rung index
}

// PriceLevel is one rung of the synthetic order book.
type PriceLevel struct {
	Price        float64          `json:"price"`
	Key          string           `json:"key"`
	Bids         []SyntheticOrder `json:"bids"`
	Asks         []SyntheticOrder `json:"asks"`
	TotalBidSize int64            `json:"total_bid_size"`
	TotalAskSize int64            `json:"total_ask_size"`
}

// TotalSize is the combined resting size at the level.
func (l PriceLevel) TotalSize() int64 {
	return l.TotalBidSize + l.TotalAskSize
}

// Trade is an inferred execution. The aggressor side is a heuristic derived
// from price direction, not a reported value.
type Trade struct {
	ID        string    `json:"id"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// SignedSize is +Size for ask-aggressed trades and -Size otherwise.
func (t Trade) SignedSize() int64 {
	return t.Side.Sign() * t.Size
}

// FootprintLevel holds per-price traded volume within a bar.
type FootprintLevel struct {
	Price          float64 `json:"price"`
	Key            string  `json:"key"`
	BidVol         int64   `json:"bid_vol"` // seller-aggressed
	AskVol         int64   `json:"ask_vol"` // buyer-aggressed
	Delta          int64   `json:"delta"`
	Imbalance      bool    `json:"imbalance"`       // current ask/bid ratio, not sticky
	DepthIntensity float64 `json:"depth_intensity"` // 0..1, sampled at update time
}

// Volume is the total traded volume at the level.
func (l FootprintLevel) Volume() int64 {
	return l.BidVol + l.AskVol
}

// FootprintBar is a volume-bounded aggregation window.
type FootprintBar struct {
	Timestamp     time.Time        `json:"timestamp"`
	Open          float64          `json:"open"`
	High          float64          `json:"high"`
	Low           float64          `json:"low"`
	Close         float64          `json:"close"`
	Volume        int64            `json:"volume"`
	Delta         int64            `json:"delta"`
	CVD           int64            `json:"cvd"`
	Levels        []FootprintLevel `json:"levels"` // descending by price
	DepthSnapshot map[string]int64 `json:"depth_snapshot"`
}

// NewFootprintBar opens an empty bar at price.
func NewFootprintBar(price float64, cvd int64, ts time.Time) FootprintBar {
	return FootprintBar{
		Timestamp:     ts,
		Open:          price,
		High:          price,
		Low:           price,
		Close:         price,
		CVD:           cvd,
		DepthSnapshot: make(map[string]int64),
	}
}

// Clone returns a deep copy of the bar.
func (b FootprintBar) Clone() FootprintBar {
	out := b
	out.Levels = append([]FootprintLevel(nil), b.Levels...)
	out.DepthSnapshot = make(map[string]int64, len(b.DepthSnapshot))
	for k, v := range b.DepthSnapshot {
		out.DepthSnapshot[k] = v
	}
	return out
}

// IcebergStatus is the lifecycle of a detected iceberg marker.
type IcebergStatus string

const (
	IcebergActive   IcebergStatus = "ACTIVE"
	IcebergFinished IcebergStatus = "FINISHED"
)

// Iceberg is a transient marker for a suspected hidden resting order.
type Iceberg struct {
	ID          string        `json:"id"`
	Price       float64       `json:"price"`
	Side        Side          `json:"side"`
	DetectedAt  time.Time     `json:"detected_at"`
	LastUpdate  time.Time     `json:"last_update"`
	ExpiresAt   time.Time     `json:"expires_at"`
	TotalFilled int64         `json:"total_filled"`
	Status      IcebergStatus `json:"status"`
}

// AuctionProfile is the value-area view over a set of bars.
// Empty is set when no volume was available.
type AuctionProfile struct {
	POC         float64 `json:"poc"`
	VAH         float64 `json:"vah"`
	VAL         float64 `json:"val"`
	TotalVolume int64   `json:"total_volume"`
	Empty       bool    `json:"empty"`
}

// InstrumentState is the full derived state of one tracked instrument.
type InstrumentState struct {
	Key          string  `json:"key"`
	DisplayName  string  `json:"display_name"`
	CurrentPrice float64 `json:"current_price"`
	TickSize     float64 `json:"tick_size"`

	Book          []PriceLevel   `json:"book"`
	RecentTrades  []Trade        `json:"recent_trades"`  // newest first
	FootprintBars []FootprintBar `json:"footprint_bars"` // closed bars, oldest first
	CurrentBar    FootprintBar   `json:"current_bar"`
	Profile       AuctionProfile `json:"profile"`

	GlobalCVD int64 `json:"global_cvd"`
	LastVol   int64 `json:"last_vol"`

	OpenInterest       int64 `json:"open_interest"`
	OpenInterestChange int64 `json:"open_interest_change"`
	OpenInterestDelta  int64 `json:"open_interest_delta"`

	SwingHigh    float64 `json:"swing_high"`
	SwingLow     float64 `json:"swing_low"`
	SwingHighCVD int64   `json:"swing_high_cvd"`
	SwingLowCVD  int64   `json:"swing_low_cvd"`

	VWAP         float64 `json:"vwap"`
	VWAPNotional float64 `json:"-"`
	VWAPVolume   int64   `json:"-"`

	ActiveSignals  []TradeSignal `json:"active_signals"`
	SignalHistory  []TradeSignal `json:"signal_history"`
	ActiveIcebergs []Iceberg     `json:"active_icebergs"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultTickSize is used when the catalog does not provide one.
const DefaultTickSize = 0.05

// NewInstrumentState creates a fresh state seeded at price.
func NewInstrumentState(key string, price float64, now time.Time) *InstrumentState {
	return &InstrumentState{
		Key:          key,
		DisplayName:  key,
		CurrentPrice: price,
		TickSize:     DefaultTickSize,
		CurrentBar:   NewFootprintBar(price, 0, now),
		Profile:      AuctionProfile{Empty: true},
		SwingHigh:    price * 1.002,
		SwingLow:     price * 0.998,
		VWAP:         price,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s *InstrumentState) Clone() InstrumentState {
	out := *s

	out.Book = make([]PriceLevel, len(s.Book))
	for i, l := range s.Book {
		l.Bids = append([]SyntheticOrder(nil), l.Bids...)
		l.Asks = append([]SyntheticOrder(nil), l.Asks...)
		out.Book[i] = l
	}

	out.RecentTrades = append([]Trade(nil), s.RecentTrades...)

	out.FootprintBars = make([]FootprintBar, len(s.FootprintBars))
	for i, b := range s.FootprintBars {
		out.FootprintBars[i] = b.Clone()
	}
	out.CurrentBar = s.CurrentBar.Clone()

	out.ActiveSignals = append([]TradeSignal(nil), s.ActiveSignals...)
	out.SignalHistory = append([]TradeSignal(nil), s.SignalHistory...)
	out.ActiveIcebergs = append([]Iceberg(nil), s.ActiveIcebergs...)
	return out
}

// AllBars returns the closed bars followed by the open bar.
func (s *InstrumentState) AllBars() []FootprintBar {
	bars := make([]FootprintBar, 0, len(s.FootprintBars)+1)
	bars = append(bars, s.FootprintBars...)
	return append(bars, s.CurrentBar)
}

// BookLevelAt returns the live book level at price, if any.
func (s *InstrumentState) BookLevelAt(price float64) (PriceLevel, bool) {
	key := PriceKey(price)
	for _, l := range s.Book {
		if l.Key == key {
			return l, true
		}
	}
	return PriceLevel{}, false
}

// MarkIceberg registers or refreshes an active iceberg marker at price/side.
// A refreshed marker accumulates filled volume and extends its lifetime.
func (s *InstrumentState) MarkIceberg(id string, price float64, side Side, filled int64, now time.Time, lifetime time.Duration) Iceberg {
	key := PriceKey(price)
	for i := range s.ActiveIcebergs {
		ic := &s.ActiveIcebergs[i]
		if ic.Side == side && PriceKey(ic.Price) == key && ic.Status == IcebergActive {
			ic.LastUpdate = now
			ic.ExpiresAt = now.Add(lifetime)
			ic.TotalFilled += filled
			return *ic
		}
	}
	ic := Iceberg{
		ID:          id,
		Price:       RoundPrice(price),
		Side:        side,
		DetectedAt:  now,
		LastUpdate:  now,
		ExpiresAt:   now.Add(lifetime),
		TotalFilled: filled,
		Status:      IcebergActive,
	}
	s.ActiveIcebergs = append(s.ActiveIcebergs, ic)
	return ic
}

// PurgeIcebergs drops markers whose lifetime ended at or before now and
// returns how many were removed.
func (s *InstrumentState) PurgeIcebergs(now time.Time) int {
	kept := s.ActiveIcebergs[:0]
	for _, ic := range s.ActiveIcebergs {
		if now.Before(ic.ExpiresAt) {
			kept = append(kept, ic)
		}
	}
	removed := len(s.ActiveIcebergs) - len(kept)
	s.ActiveIcebergs = kept
	return removed
}
