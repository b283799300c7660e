package strategy

import (
	"fmt"

	"orderflow_go/internal/domain"
)

// Built-in detector names.
const (
	NameCVDDivergence      = "cvd_divergence"
	NameIcebergDefense     = "iceberg_defense"
	NameAbsorption         = "absorption"
	NameMomentumBreakout   = "momentum_breakout"
	NameValueAreaRejection = "value_area_rejection"
	NameLiquiditySkew      = "liquidity_skew"
	NameContextAlignment   = "context_alignment"
)

// CVDDivergence fires when price extends past a swing extreme while CVD
// fails to confirm it.
type CVDDivergence struct {
	th Thresholds
}

func (d *CVDDivergence) Name() string { return NameCVDDivergence }

func (d *CVDDivergence) Detect(ctx Context) []Candidate {
	st := ctx.State
	price := ctx.Price()

	if domain.ComparePrice(price, st.SwingHigh) > 0 && st.GlobalCVD < st.SwingHighCVD-d.th.DivergenceMinCVD {
		return []Candidate{{
			Kind:      domain.SignalCVDDivergence,
			Direction: domain.Bearish,
			Message:   fmt.Sprintf("new high %.2f with CVD %d below swing CVD %d", price, st.GlobalCVD, st.SwingHighCVD),
		}}
	}
	if domain.ComparePrice(price, st.SwingLow) < 0 && st.GlobalCVD > st.SwingLowCVD+d.th.DivergenceMinCVD {
		return []Candidate{{
			Kind:      domain.SignalCVDDivergence,
			Direction: domain.Bullish,
			Message:   fmt.Sprintf("new low %.2f with CVD %d above swing CVD %d", price, st.GlobalCVD, st.SwingLowCVD),
		}}
	}
	return nil
}

// IcebergDefense fires when aggressors hit an imbalanced level that still
// shows large resting size on the passive side.
type IcebergDefense struct {
	th Thresholds
}

func (d *IcebergDefense) Name() string { return NameIcebergDefense }

func (d *IcebergDefense) Detect(ctx Context) []Candidate {
	tr := ctx.Trade
	if tr == nil {
		return nil
	}
	lvl, ok := barLevel(ctx.State, tr.Price)
	if !ok || !lvl.Imbalance {
		return nil
	}
	book, ok := ctx.State.BookLevelAt(tr.Price)
	if !ok {
		return nil
	}

	passive, resting, dir := domain.SideBid, book.TotalBidSize, domain.Bullish
	if tr.Side == domain.SideAsk {
		passive, resting, dir = domain.SideAsk, book.TotalAskSize, domain.Bearish
	}
	if resting < d.th.IcebergMinSize {
		return nil
	}
	return []Candidate{{
		Kind:      domain.SignalIcebergDefense,
		Direction: dir,
		Message:   fmt.Sprintf("%s defended at %.2f with %d resting", passive, lvl.Price, resting),
		Iceberg:   &passive,
		Price:     lvl.Price,
	}}
}

// Absorption fires when heavy one-sided aggression at a level fails to move
// price off it. The signal goes against the aggressor.
type Absorption struct {
	th Thresholds
}

func (d *Absorption) Name() string { return NameAbsorption }

func (d *Absorption) Detect(ctx Context) []Candidate {
	tr := ctx.Trade
	if tr == nil || !domain.SamePrice(ctx.PrevPrice, tr.Price) {
		return nil
	}
	lvl, ok := barLevel(ctx.State, tr.Price)
	if !ok || !lvl.Imbalance || !domain.SamePrice(ctx.State.CurrentBar.Close, lvl.Price) {
		return nil
	}

	aggressive, dir := lvl.BidVol, domain.Bullish
	if tr.Side == domain.SideAsk {
		aggressive, dir = lvl.AskVol, domain.Bearish
	}
	if aggressive < d.th.AbsorptionMinVolume {
		return nil
	}
	return []Candidate{{
		Kind:      domain.SignalAbsorption,
		Direction: dir,
		Message:   fmt.Sprintf("%d %s-aggressed absorbed at %.2f", aggressive, tr.Side, lvl.Price),
	}}
}

// MomentumBreakout fires when price breaks a swing level with bar delta
// confirming the direction.
type MomentumBreakout struct {
	th Thresholds
}

func (d *MomentumBreakout) Name() string { return NameMomentumBreakout }

func (d *MomentumBreakout) Detect(ctx Context) []Candidate {
	if ctx.Trade == nil {
		return nil
	}
	st := ctx.State
	price := ctx.Price()
	delta := st.CurrentBar.Delta

	switch {
	case domain.ComparePrice(price, st.SwingHigh) > 0 && delta >= d.th.MomentumMinDelta:
		msg := fmt.Sprintf("broke swing high %.2f, bar delta %d", st.SwingHigh, delta)
		return []Candidate{
			{Kind: domain.SignalStructureBreakBull, Direction: domain.Bullish, Message: msg},
			{Kind: domain.SignalMomentumBreakout, Direction: domain.Bullish, Message: msg},
		}
	case domain.ComparePrice(price, st.SwingLow) < 0 && delta <= -d.th.MomentumMinDelta:
		msg := fmt.Sprintf("broke swing low %.2f, bar delta %d", st.SwingLow, delta)
		return []Candidate{
			{Kind: domain.SignalStructureBreakBear, Direction: domain.Bearish, Message: msg},
			{Kind: domain.SignalMomentumBreakout, Direction: domain.Bearish, Message: msg},
		}
	}
	return nil
}

// ValueAreaRejection fires when price tags an edge of the value area and the
// bar delta opposes the move into it.
type ValueAreaRejection struct {
	th Thresholds
}

func (d *ValueAreaRejection) Name() string { return NameValueAreaRejection }

func (d *ValueAreaRejection) Detect(ctx Context) []Candidate {
	st := ctx.State
	p := st.Profile
	if p.Empty || p.TotalVolume < d.th.ValueAreaMinVolume {
		return nil
	}
	price := ctx.Price()
	delta := st.CurrentBar.Delta

	if domain.SamePrice(price, p.VAH) && domain.ComparePrice(price, ctx.PrevPrice) >= 0 && delta < 0 {
		return []Candidate{{
			Kind:      domain.SignalVAHRejection,
			Direction: domain.Bearish,
			Message:   fmt.Sprintf("VAH %.2f tested on negative delta %d", p.VAH, delta),
		}}
	}
	if domain.SamePrice(price, p.VAL) && domain.ComparePrice(price, ctx.PrevPrice) <= 0 && delta > 0 {
		return []Candidate{{
			Kind:      domain.SignalVALRejection,
			Direction: domain.Bullish,
			Message:   fmt.Sprintf("VAL %.2f tested on positive delta %d", p.VAL, delta),
		}}
	}
	return nil
}

// LiquiditySkew fires when resting size on one side of the book dominates.
type LiquiditySkew struct {
	th Thresholds
}

func (d *LiquiditySkew) Name() string { return NameLiquiditySkew }

func (d *LiquiditySkew) Detect(ctx Context) []Candidate {
	var bids, asks int64
	for _, l := range ctx.State.Book {
		bids += l.TotalBidSize
		asks += l.TotalAskSize
	}
	r := d.th.SkewRatio

	if bids >= d.th.SkewMinSize && float64(bids) >= float64(asks)*r {
		return []Candidate{{
			Kind:      domain.SignalLiquiditySkew,
			Direction: domain.Bullish,
			Message:   fmt.Sprintf("bid liquidity %d vs ask %d", bids, asks),
		}}
	}
	if asks >= d.th.SkewMinSize && float64(asks) >= float64(bids)*r {
		return []Candidate{{
			Kind:      domain.SignalLiquiditySkew,
			Direction: domain.Bearish,
			Message:   fmt.Sprintf("ask liquidity %d vs bid %d", asks, bids),
		}}
	}
	return nil
}

// ContextAlignment fires when CVD slope, bar delta and price relative to
// VWAP all agree.
type ContextAlignment struct {
	th Thresholds
}

func (d *ContextAlignment) Name() string { return NameContextAlignment }

func (d *ContextAlignment) Detect(ctx Context) []Candidate {
	st := ctx.State
	if ctx.Trade == nil || st.VWAPVolume == 0 {
		return nil
	}

	// slope over the open bar, measured from the last closed bar's CVD
	slope := st.CurrentBar.Delta
	if n := len(st.FootprintBars); n > 0 {
		slope = st.GlobalCVD - st.FootprintBars[n-1].CVD
	}
	delta := st.CurrentBar.Delta
	price := ctx.Price()

	if slope > 0 && delta >= d.th.AlignmentMinDelta && domain.ComparePrice(price, st.VWAP) > 0 {
		return []Candidate{{
			Kind:      domain.SignalContextAlignmentLong,
			Direction: domain.Bullish,
			Message:   fmt.Sprintf("above VWAP %.2f, delta %d, CVD slope %d", st.VWAP, delta, slope),
		}}
	}
	if slope < 0 && delta <= -d.th.AlignmentMinDelta && domain.ComparePrice(price, st.VWAP) < 0 {
		return []Candidate{{
			Kind:      domain.SignalContextAlignmentShort,
			Direction: domain.Bearish,
			Message:   fmt.Sprintf("below VWAP %.2f, delta %d, CVD slope %d", st.VWAP, delta, slope),
		}}
	}
	return nil
}

func barLevel(st *domain.InstrumentState, price float64) (domain.FootprintLevel, bool) {
	key := domain.PriceKey(price)
	for _, l := range st.CurrentBar.Levels {
		if l.Key == key {
			return l, true
		}
	}
	return domain.FootprintLevel{}, false
}
