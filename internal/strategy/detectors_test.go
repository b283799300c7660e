package strategy_test

import (
	"testing"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func baseState() *domain.InstrumentState {
	// swing high 100.20, swing low 99.80
	return domain.NewInstrumentState("NSE_FO|1", 100, t0)
}

func build(t *testing.T, name string) strategy.Detector {
	t.Helper()
	ds, err := strategy.DefaultRegistry().Build([]string{name}, strategy.DefaultThresholds())
	require.NoError(t, err)
	require.Len(t, ds, 1)
	return ds[0]
}

func TestCVDDivergence(t *testing.T) {
	d := build(t, strategy.NameCVDDivergence)

	tests := []struct {
		name  string
		price float64
		cvd   int64
		want  []domain.Direction
	}{
		{"new high on weaker cvd", 100.5, -50, []domain.Direction{domain.Bearish}},
		{"new high confirmed", 100.5, 50, nil},
		{"new low on stronger cvd", 99.5, 50, []domain.Direction{domain.Bullish}},
		{"inside range", 100, -500, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := baseState()
			st.CurrentPrice = tt.price
			st.GlobalCVD = tt.cvd
			got := d.Detect(strategy.Context{State: st, Now: t0})
			assert.Equal(t, tt.want, directions(got))
			for _, c := range got {
				assert.Equal(t, domain.SignalCVDDivergence, c.Kind)
			}
		})
	}
}

func TestIcebergDefense(t *testing.T) {
	d := build(t, strategy.NameIcebergDefense)

	setup := func(resting int64, side domain.Side) (*domain.InstrumentState, *domain.Trade) {
		st := baseState()
		lvl := domain.FootprintLevel{Price: 100, Key: "100.00", Imbalance: true}
		book := domain.PriceLevel{Price: 100, Key: "100.00"}
		if side == domain.SideBid {
			lvl.BidVol = 400
			book.TotalBidSize = resting
		} else {
			lvl.AskVol = 400
			book.TotalAskSize = resting
		}
		st.CurrentBar.Levels = []domain.FootprintLevel{lvl}
		st.Book = []domain.PriceLevel{book}
		return st, &domain.Trade{Price: 100, Size: 400, Side: side}
	}

	t.Run("bids defended", func(t *testing.T) {
		st, tr := setup(1500, domain.SideBid)
		got := d.Detect(strategy.Context{State: st, Trade: tr, PrevPrice: 100})
		require.Len(t, got, 1)
		assert.Equal(t, domain.Bullish, got[0].Direction)
		require.NotNil(t, got[0].Iceberg)
		assert.Equal(t, domain.SideBid, *got[0].Iceberg)
	})

	t.Run("offers defended", func(t *testing.T) {
		st, tr := setup(1500, domain.SideAsk)
		got := d.Detect(strategy.Context{State: st, Trade: tr, PrevPrice: 100})
		require.Len(t, got, 1)
		assert.Equal(t, domain.Bearish, got[0].Direction)
	})

	t.Run("thin book", func(t *testing.T) {
		st, tr := setup(200, domain.SideBid)
		assert.Empty(t, d.Detect(strategy.Context{State: st, Trade: tr}))
	})

	t.Run("no trade", func(t *testing.T) {
		st, _ := setup(1500, domain.SideBid)
		assert.Empty(t, d.Detect(strategy.Context{State: st}))
	})
}

func TestAbsorption(t *testing.T) {
	d := build(t, strategy.NameAbsorption)

	st := baseState()
	st.CurrentBar.Close = 100
	st.CurrentBar.Levels = []domain.FootprintLevel{{Price: 100, Key: "100.00", AskVol: 600, BidVol: 100, Delta: 500, Imbalance: true}}
	tr := &domain.Trade{Price: 100, Size: 600, Side: domain.SideAsk}

	got := d.Detect(strategy.Context{State: st, Trade: tr, PrevPrice: 100})
	require.Len(t, got, 1)
	assert.Equal(t, domain.SignalAbsorption, got[0].Kind)
	assert.Equal(t, domain.Bearish, got[0].Direction)

	// price moved on the trade: not absorbed
	assert.Empty(t, d.Detect(strategy.Context{State: st, Trade: tr, PrevPrice: 99.95}))
}

func TestMomentumBreakout(t *testing.T) {
	d := build(t, strategy.NameMomentumBreakout)
	tr := &domain.Trade{Price: 100.5, Size: 10, Side: domain.SideAsk}

	st := baseState()
	st.CurrentPrice = 100.5
	st.CurrentBar.Delta = 400
	got := d.Detect(strategy.Context{State: st, Trade: tr})
	require.Len(t, got, 2)
	assert.Equal(t, domain.SignalStructureBreakBull, got[0].Kind)
	assert.Equal(t, domain.SignalMomentumBreakout, got[1].Kind)
	assert.Equal(t, domain.Bullish, got[1].Direction)

	st.CurrentBar.Delta = 100
	assert.Empty(t, d.Detect(strategy.Context{State: st, Trade: tr}))

	st.CurrentPrice = 99.5
	st.CurrentBar.Delta = -400
	got = d.Detect(strategy.Context{State: st, Trade: tr})
	require.Len(t, got, 2)
	assert.Equal(t, domain.SignalStructureBreakBear, got[0].Kind)
	assert.Equal(t, domain.Bearish, got[1].Direction)
}

func TestValueAreaRejection(t *testing.T) {
	d := build(t, strategy.NameValueAreaRejection)
	st := baseState()
	st.Profile = domain.AuctionProfile{POC: 100, VAH: 101, VAL: 99, TotalVolume: 5000}

	st.CurrentPrice = 101
	st.CurrentBar.Delta = -50
	got := d.Detect(strategy.Context{State: st, PrevPrice: 100.95})
	require.Len(t, got, 1)
	assert.Equal(t, domain.SignalVAHRejection, got[0].Kind)
	assert.Equal(t, domain.Bearish, got[0].Direction)

	st.CurrentPrice = 99
	st.CurrentBar.Delta = 50
	got = d.Detect(strategy.Context{State: st, PrevPrice: 99.05})
	require.Len(t, got, 1)
	assert.Equal(t, domain.SignalVALRejection, got[0].Kind)

	st.Profile.Empty = true
	assert.Empty(t, d.Detect(strategy.Context{State: st, PrevPrice: 99.05}))
}

func TestLiquiditySkew(t *testing.T) {
	d := build(t, strategy.NameLiquiditySkew)

	tests := []struct {
		name       string
		bids, asks int64
		want       []domain.Direction
	}{
		{"bid heavy", 3000, 500, []domain.Direction{domain.Bullish}},
		{"ask heavy", 400, 4000, []domain.Direction{domain.Bearish}},
		{"balanced", 2000, 1500, nil},
		{"too small", 900, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := baseState()
			st.Book = []domain.PriceLevel{
				{Price: 100.05, Key: "100.05", TotalAskSize: tt.asks},
				{Price: 100, Key: "100.00", TotalBidSize: tt.bids},
			}
			assert.Equal(t, tt.want, directions(d.Detect(strategy.Context{State: st})))
		})
	}
}

func TestContextAlignment(t *testing.T) {
	d := build(t, strategy.NameContextAlignment)
	tr := &domain.Trade{Price: 100, Size: 300, Side: domain.SideAsk}

	st := baseState()
	st.VWAP, st.VWAPVolume = 99.5, 1000
	st.CurrentBar.Delta = 300
	got := d.Detect(strategy.Context{State: st, Trade: tr})
	require.Len(t, got, 1)
	assert.Equal(t, domain.SignalContextAlignmentLong, got[0].Kind)

	// price below VWAP breaks the alignment
	st.VWAP = 100.5
	assert.Empty(t, d.Detect(strategy.Context{State: st, Trade: tr}))

	st.CurrentBar.Delta = -300
	st.FootprintBars = []domain.FootprintBar{{CVD: 500}}
	st.GlobalCVD = 100
	got = d.Detect(strategy.Context{State: st, Trade: tr})
	require.Len(t, got, 1)
	assert.Equal(t, domain.SignalContextAlignmentShort, got[0].Kind)
}

func TestRegistry(t *testing.T) {
	r := strategy.DefaultRegistry()
	assert.Len(t, r.List(), 7)

	all, err := r.Build(nil, strategy.DefaultThresholds())
	require.NoError(t, err)
	assert.Len(t, all, 7)

	_, err = r.Build([]string{"tape_reading"}, strategy.DefaultThresholds())
	assert.Error(t, err)

	r.Register("stub", func(strategy.Thresholds) strategy.Detector { return bullishStub() })
	ds, err := r.Build([]string{"stub", "stub", strategy.NameAbsorption}, strategy.DefaultThresholds())
	require.NoError(t, err)
	assert.Len(t, ds, 2)
}

func directions(cs []strategy.Candidate) []domain.Direction {
	if len(cs) == 0 {
		return nil
	}
	out := make([]domain.Direction, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Direction)
	}
	return out
}
