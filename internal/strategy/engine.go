package strategy

import (
	"log/slog"
	"time"

	"orderflow_go/internal/domain"

	"github.com/google/uuid"
)

// Config controls signal sizing and lifecycle.
type Config struct {
	RiskReward      float64
	StopTicks       float64
	Expiry          time.Duration // 0 disables time-based expiry
	HistoryCap      int
	Cooldown        time.Duration // minimum gap between two signals of the same kind and direction
	IcebergLifetime time.Duration
}

// DefaultConfig returns the reference lifecycle settings.
func DefaultConfig() Config {
	return Config{
		RiskReward:      2,
		StopTicks:       20,
		Expiry:          15 * time.Minute,
		HistoryCap:      100,
		IcebergLifetime: 5 * time.Second,
	}
}

// Result reports what changed during one evaluation.
type Result struct {
	Opened   []domain.TradeSignal
	Resolved []domain.TradeSignal
}

type firedKey struct {
	instrument string
	kind       domain.SignalKind
	dir        domain.Direction
}

// Engine resolves open signals and runs detectors against an instrument.
// It is driven by the single writer and is not safe for concurrent use.
type Engine struct {
	cfg       Config
	detectors []Detector
	lastFired map[firedKey]time.Time
	logger    *slog.Logger
}

// NewEngine creates an Engine running detectors in the given order.
func NewEngine(cfg Config, detectors []Detector, logger *slog.Logger) *Engine {
	d := DefaultConfig()
	if cfg.RiskReward <= 0 {
		cfg.RiskReward = d.RiskReward
	}
	if cfg.StopTicks <= 0 {
		cfg.StopTicks = d.StopTicks
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = d.HistoryCap
	}
	if cfg.IcebergLifetime <= 0 {
		cfg.IcebergLifetime = d.IcebergLifetime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		detectors: detectors,
		lastFired: make(map[firedKey]time.Time),
		logger:    logger.With(slog.String("component", "signal_engine")),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Detectors returns the names of the active detectors.
func (e *Engine) Detectors() []string {
	names := make([]string, 0, len(e.detectors))
	for _, d := range e.detectors {
		names = append(names, d.Name())
	}
	return names
}

// Evaluate runs one tick for st: resolve open signals in entry order, run
// every detector, then advance the swing structure.
func (e *Engine) Evaluate(st *domain.InstrumentState, trade *domain.Trade, prevPrice float64, now time.Time) Result {
	var res Result
	st.PurgeIcebergs(now)

	price := st.CurrentPrice
	if price <= 0 {
		return res
	}
	tick := st.TickSize
	if tick <= 0 {
		tick = domain.DefaultTickSize
	}

	res.Resolved = e.resolve(st, price, tick, now)

	ctx := Context{State: st, Trade: trade, PrevPrice: prevPrice, Now: now}
	for _, d := range e.detectors {
		for _, c := range d.Detect(ctx) {
			if c.Iceberg != nil {
				var filled int64
				if trade != nil {
					filled = trade.Size
				}
				st.MarkIceberg(uuid.NewString(), c.Price, *c.Iceberg, filled, now, e.cfg.IcebergLifetime)
			}
			sig, ok := e.open(st, c, price, tick, now)
			if !ok {
				continue
			}
			e.logger.Info("signal opened",
				slog.String("instrument", st.Key),
				slog.String("detector", d.Name()),
				slog.String("kind", sig.Kind.String()),
				slog.String("direction", string(sig.Direction)),
				slog.Float64("entry", sig.Entry))
			res.Opened = append(res.Opened, sig)
		}
	}

	updateStructure(st, price)
	return res
}

// resolve moves every signal that hits a terminal condition to history.
func (e *Engine) resolve(st *domain.InstrumentState, price, tick float64, now time.Time) []domain.TradeSignal {
	if len(st.ActiveSignals) == 0 {
		return nil
	}
	var resolved []domain.TradeSignal
	open := st.ActiveSignals[:0]
	for _, sig := range st.ActiveSignals {
		if sig.Resolve(price, tick, now, e.cfg.Expiry) {
			resolved = append(resolved, sig)
			continue
		}
		open = append(open, sig)
	}
	st.ActiveSignals = open

	for _, sig := range resolved {
		e.logger.Info("signal resolved",
			slog.String("instrument", st.Key),
			slog.String("kind", sig.Kind.String()),
			slog.String("status", string(sig.Status)),
			slog.Float64("pnl_ticks", sig.PnLTicks))
		st.SignalHistory = append([]domain.TradeSignal{sig}, st.SignalHistory...)
	}
	if len(st.SignalHistory) > e.cfg.HistoryCap {
		st.SignalHistory = st.SignalHistory[:e.cfg.HistoryCap]
	}
	return resolved
}

func (e *Engine) open(st *domain.InstrumentState, c Candidate, price, tick float64, now time.Time) (domain.TradeSignal, bool) {
	for _, s := range st.ActiveSignals {
		if s.Kind == c.Kind && s.Direction == c.Direction {
			return domain.TradeSignal{}, false
		}
	}
	key := firedKey{instrument: st.Key, kind: c.Kind, dir: c.Direction}
	if last, ok := e.lastFired[key]; ok && e.cfg.Cooldown > 0 && now.Sub(last) < e.cfg.Cooldown {
		return domain.TradeSignal{}, false
	}

	risk := e.cfg.StopTicks * tick
	sign := c.Direction.Sign()
	sig := domain.TradeSignal{
		ID:         uuid.NewString(),
		Kind:       c.Kind,
		Direction:  c.Direction,
		Entry:      price,
		StopLoss:   domain.RoundPrice(price - sign*risk),
		TakeProfit: domain.RoundPrice(price + sign*risk*e.cfg.RiskReward),
		RiskReward: e.cfg.RiskReward,
		Status:     domain.SignalOpen,
		Message:    c.Message,
		EntryTime:  now,
	}
	st.ActiveSignals = append(st.ActiveSignals, sig)
	e.lastFired[key] = now
	return sig, true
}

// Forget drops cooldown bookkeeping for an instrument whose state was reset.
func (e *Engine) Forget(instrument string) {
	for k := range e.lastFired {
		if k.instrument == instrument {
			delete(e.lastFired, k)
		}
	}
}

// updateStructure moves swing levels to new extremes and records the CVD
// seen there.
func updateStructure(st *domain.InstrumentState, price float64) {
	if domain.ComparePrice(price, st.SwingHigh) > 0 {
		st.SwingHigh = price
		st.SwingHighCVD = st.GlobalCVD
	}
	if domain.ComparePrice(price, st.SwingLow) < 0 {
		st.SwingLow = price
		st.SwingLowCVD = st.GlobalCVD
	}
}
