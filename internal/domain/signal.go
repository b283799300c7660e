package domain

import "time"

// SignalKind is the closed set of signal types the engine can emit.
type SignalKind int

const (
	SignalIcebergDefense SignalKind = iota + 1
	SignalAbsorption
	SignalMomentumBreakout
	SignalLiquiditySkew
	SignalVAHRejection
	SignalVALRejection
	SignalCVDDivergence
	SignalStructureBreakBull
	SignalStructureBreakBear
	SignalContextAlignmentLong
	SignalContextAlignmentShort
)

// String returns the wire name of the kind.
func (k SignalKind) String() string {
	switch k {
	case SignalIcebergDefense:
		return "ICEBERG_DEFENSE"
	case SignalAbsorption:
		return "ABSORPTION"
	case SignalMomentumBreakout:
		return "MOMENTUM_BREAKOUT"
	case SignalLiquiditySkew:
		return "LIQUIDITY_SKEW"
	case SignalVAHRejection:
		return "VAH_REJECTION"
	case SignalVALRejection:
		return "VAL_REJECTION"
	case SignalCVDDivergence:
		return "CVD_DIVERGENCE"
	case SignalStructureBreakBull:
		return "STRUCTURE_BREAK_BULL"
	case SignalStructureBreakBear:
		return "STRUCTURE_BREAK_BEAR"
	case SignalContextAlignmentLong:
		return "CONTEXT_ALIGNMENT_LONG"
	case SignalContextAlignmentShort:
		return "CONTEXT_ALIGNMENT_SHORT"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the kind by name.
func (k SignalKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Direction is the bias of a signal.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
)

// Sign returns +1 for bullish and -1 for bearish.
func (d Direction) Sign() float64 {
	if d == Bullish {
		return 1
	}
	return -1
}

// SignalStatus is the lifecycle state: OPEN -> WIN | LOSS | EXPIRED.
type SignalStatus string

const (
	SignalOpen    SignalStatus = "OPEN"
	SignalWin     SignalStatus = "WIN"
	SignalLoss    SignalStatus = "LOSS"
	SignalExpired SignalStatus = "EXPIRED"
)

// TradeSignal is a discretionary trade idea with simulated stop and target.
type TradeSignal struct {
	ID         string       `json:"id"`
	Kind       SignalKind   `json:"kind"`
	Direction  Direction    `json:"direction"`
	Entry      float64      `json:"entry"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	RiskReward float64      `json:"risk_reward"`
	Status     SignalStatus `json:"status"`
	PnLTicks   float64      `json:"pnl_ticks"`
	Message    string       `json:"message"`
	EntryTime  time.Time    `json:"entry_time"`
	ExitTime   time.Time    `json:"exit_time,omitempty"`
	ExitPrice  float64      `json:"exit_price,omitempty"`
}

// IsOpen reports whether the signal is still unresolved.
func (s *TradeSignal) IsOpen() bool {
	return s.Status == SignalOpen
}

// PnL returns the signed tick PnL of the signal at price.
func (s *TradeSignal) PnL(price, tickSize float64) float64 {
	return TicksBetween(s.Entry, price, tickSize) * s.Direction.Sign()
}

// Resolve evaluates the signal against price at now.
// It returns true the first time a terminal condition is met; a resolved
// signal is never re-evaluated. A zero expiry disables time-based expiry.
func (s *TradeSignal) Resolve(price, tickSize float64, now time.Time, expiry time.Duration) bool {
	if !s.IsOpen() {
		return false
	}

	var status SignalStatus
	switch s.Direction {
	case Bullish:
		if ComparePrice(price, s.TakeProfit) >= 0 {
			status = SignalWin
		} else if ComparePrice(price, s.StopLoss) <= 0 {
			status = SignalLoss
		}
	case Bearish:
		if ComparePrice(price, s.TakeProfit) <= 0 {
			status = SignalWin
		} else if ComparePrice(price, s.StopLoss) >= 0 {
			status = SignalLoss
		}
	}
	if status == "" && expiry > 0 && now.Sub(s.EntryTime) >= expiry {
		status = SignalExpired
	}
	if status == "" {
		s.PnLTicks = s.PnL(price, tickSize)
		return false
	}

	s.Status = status
	s.ExitTime = now
	s.ExitPrice = price
	s.PnLTicks = s.PnL(price, tickSize)
	return true
}
