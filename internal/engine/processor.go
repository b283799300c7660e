package engine

import (
	"log/slog"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/infra"
	"orderflow_go/internal/strategy"
)

// Config holds the per-instrument pipeline settings.
type Config struct {
	Footprint         FootprintParams
	MaxTrades         int     // recent trades retained, newest first
	ValueAreaFraction float64 // share of volume inside the value area
	ProfileLookback   int     // closed bars fed to the profile; 0 uses all retained
}

// DefaultConfig returns the reference pipeline settings.
func DefaultConfig() Config {
	return Config{
		Footprint:         DefaultFootprintParams(),
		MaxTrades:         50,
		ValueAreaFraction: DefaultValueAreaFraction,
	}
}

// Outcome reports what one update did to an instrument.
type Outcome struct {
	Trade    *domain.Trade
	Archived *domain.FootprintBar
	Rebased  bool // cumulative volume went backwards
	Opened   []domain.TradeSignal
	Resolved []domain.TradeSignal
}

// Processor runs the per-instrument pipeline: book, trade inference,
// CVD/OI, footprint, profile, signals. It holds no instrument state itself.
type Processor struct {
	cfg     Config
	fp      *Footprint
	signals *strategy.Engine
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewProcessor creates a processor. A nil signals engine disables signals.
func NewProcessor(cfg Config, signals *strategy.Engine, metrics *infra.Metrics, logger *slog.Logger) *Processor {
	if cfg.MaxTrades <= 0 {
		cfg.MaxTrades = DefaultConfig().MaxTrades
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:     cfg,
		fp:      NewFootprint(cfg.Footprint),
		signals: signals,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "processor")),
	}
}

// Signals returns the signal engine, if any.
func (p *Processor) Signals() *strategy.Engine {
	return p.signals
}

// Apply folds one validated feed update into st.
func (p *Processor) Apply(st *domain.InstrumentState, u domain.FeedUpdate, now time.Time) Outcome {
	var out Outcome
	prevPrice := st.CurrentPrice
	st.CurrentPrice = u.LTP

	if u.HasBook {
		st.Book = BuildBook(u.Quotes)
	}

	if u.HasVolume && u.Volume >= 0 {
		out.Rebased = st.LastVol > 0 && u.Volume < st.LastVol
		if out.Rebased {
			p.metrics.RecordCounterReset()
			p.logger.Debug("cumulative volume rebased",
				slog.String("instrument", st.Key),
				slog.Int64("last_vol", st.LastVol),
				slog.Int64("new_vol", u.Volume))
		}
		out.Trade, st.LastVol = InferTrade(st.LastVol, u.Volume, prevPrice, u.LTP, now)
	}

	if out.Trade != nil {
		tr := *out.Trade
		st.RecentTrades = append([]domain.Trade{tr}, st.RecentTrades...)
		if len(st.RecentTrades) > p.cfg.MaxTrades {
			st.RecentTrades = st.RecentTrades[:p.cfg.MaxTrades]
		}
		ApplyCVD(st, tr)
		out.Archived = p.fp.ApplyTrade(st, tr)
		st.Profile = BuildProfile(p.profileBars(st), p.cfg.ValueAreaFraction)

		p.metrics.RecordTrade(tr.Size)
		if out.Archived != nil {
			p.metrics.RecordRotation()
		}
	} else if u.HasBook {
		p.fp.SnapshotDepth(&st.CurrentBar, st.Book)
	}

	if u.HasOI {
		ApplyOpenInterest(st, u.OpenInterest)
	}

	if p.signals != nil {
		res := p.signals.Evaluate(st, out.Trade, prevPrice, now)
		out.Opened, out.Resolved = res.Opened, res.Resolved
		p.metrics.RecordSignals(len(res.Opened), len(res.Resolved))
	}

	st.UpdatedAt = now
	return out
}

// ApplyPrice sets a quote-only last price. No trade is inferred.
func (p *Processor) ApplyPrice(st *domain.InstrumentState, price float64, now time.Time) {
	st.CurrentPrice = price
	st.UpdatedAt = now
}

func (p *Processor) profileBars(st *domain.InstrumentState) []domain.FootprintBar {
	n := p.cfg.ProfileLookback
	if n <= 0 || len(st.FootprintBars) <= n {
		return st.AllBars()
	}
	closed := st.FootprintBars[len(st.FootprintBars)-n:]
	bars := make([]domain.FootprintBar, 0, len(closed)+1)
	bars = append(bars, closed...)
	return append(bars, st.CurrentBar)
}
