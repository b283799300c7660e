package engine

import (
	"math"
	"sort"

	"orderflow_go/internal/domain"
)

// FootprintParams are the bar aggregation constants.
type FootprintParams struct {
	RotationVolume  int64   // a bar whose volume exceeds this is archived on the next trade
	DepthNormalizer float64 // resting size that maps to depth intensity 1.0
	ImbalanceRatio  float64
	MaxBars         int // archived bars retained
}

// DefaultFootprintParams returns the reference constants.
func DefaultFootprintParams() FootprintParams {
	return FootprintParams{
		RotationVolume:  5000,
		DepthNormalizer: 2000,
		ImbalanceRatio:  3,
		MaxBars:         30,
	}
}

// Footprint aggregates inferred trades into volume-bounded footprint bars.
type Footprint struct {
	p FootprintParams
}

// NewFootprint creates an aggregator; zero fields fall back to defaults.
func NewFootprint(p FootprintParams) *Footprint {
	d := DefaultFootprintParams()
	if p.RotationVolume <= 0 {
		p.RotationVolume = d.RotationVolume
	}
	if p.DepthNormalizer <= 0 {
		p.DepthNormalizer = d.DepthNormalizer
	}
	if p.ImbalanceRatio <= 0 {
		p.ImbalanceRatio = d.ImbalanceRatio
	}
	if p.MaxBars <= 0 {
		p.MaxBars = d.MaxBars
	}
	return &Footprint{p: p}
}

// Params returns the effective parameters.
func (f *Footprint) Params() FootprintParams {
	return f.p
}

// ApplyTrade folds tr into the current bar of st, rotating first when the
// current bar is over the volume threshold. st.GlobalCVD must already include
// tr. It returns the archived bar when a rotation happened.
func (f *Footprint) ApplyTrade(st *domain.InstrumentState, tr domain.Trade) *domain.FootprintBar {
	f.SnapshotDepth(&st.CurrentBar, st.Book)

	var archived *domain.FootprintBar
	if st.CurrentBar.Volume > f.p.RotationVolume {
		closed := st.CurrentBar
		archived = &closed
		st.FootprintBars = append(st.FootprintBars, closed)
		if n := len(st.FootprintBars); n > f.p.MaxBars {
			st.FootprintBars = append([]domain.FootprintBar(nil), st.FootprintBars[n-f.p.MaxBars:]...)
		}
		st.CurrentBar = domain.NewFootprintBar(tr.Price, st.GlobalCVD, tr.Timestamp)
		f.SnapshotDepth(&st.CurrentBar, st.Book)
	}

	bar := &st.CurrentBar
	lvl := f.level(bar, tr.Price)
	if tr.Side == domain.SideAsk {
		lvl.AskVol += tr.Size
	} else {
		lvl.BidVol += tr.Size
	}
	lvl.Delta = lvl.AskVol - lvl.BidVol
	lvl.Imbalance = f.imbalanced(lvl.AskVol, lvl.BidVol)

	lvl.DepthIntensity = 0
	if bl, ok := st.BookLevelAt(tr.Price); ok {
		lvl.DepthIntensity = math.Min(float64(bl.TotalSize())/f.p.DepthNormalizer, 1)
	}

	// first trade of an empty bar: OHLC reflect traded prices only
	if bar.Volume == 0 && len(bar.Levels) == 1 {
		bar.Open, bar.High, bar.Low = tr.Price, tr.Price, tr.Price
	}
	bar.High = math.Max(bar.High, tr.Price)
	bar.Low = math.Min(bar.Low, tr.Price)
	bar.Close = tr.Price
	bar.Volume += tr.Size
	bar.Delta += tr.SignedSize()
	bar.CVD = st.GlobalCVD
	return archived
}

// SnapshotDepth records the resting size of every non-empty book level into
// the bar's depth map, overwriting previous samples at the same price.
func (f *Footprint) SnapshotDepth(bar *domain.FootprintBar, book []domain.PriceLevel) {
	if bar.DepthSnapshot == nil {
		bar.DepthSnapshot = make(map[string]int64, len(book))
	}
	for _, l := range book {
		if total := l.TotalSize(); total > 0 {
			bar.DepthSnapshot[l.Key] = total
		}
	}
}

func (f *Footprint) imbalanced(ask, bid int64) bool {
	r := f.p.ImbalanceRatio
	return float64(ask) > float64(bid)*r || float64(bid) > float64(ask)*r
}

// level finds or inserts the footprint level at price, keeping Levels
// sorted descending.
func (f *Footprint) level(bar *domain.FootprintBar, price float64) *domain.FootprintLevel {
	key := domain.PriceKey(price)
	i := sort.Search(len(bar.Levels), func(i int) bool {
		return domain.ComparePrice(bar.Levels[i].Price, price) <= 0
	})
	if i < len(bar.Levels) && bar.Levels[i].Key == key {
		return &bar.Levels[i]
	}
	bar.Levels = append(bar.Levels, domain.FootprintLevel{})
	copy(bar.Levels[i+1:], bar.Levels[i:])
	bar.Levels[i] = domain.FootprintLevel{Price: domain.RoundPrice(price), Key: key}
	return &bar.Levels[i]
}
