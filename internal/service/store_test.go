package service

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/engine"
	"orderflow_go/internal/event"
	"orderflow_go/internal/infra"
	"orderflow_go/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

type fakeCatalog struct {
	names map[string]string
	ticks map[string]float64
	order []string
}

func (c *fakeCatalog) ResolveDisplayName(key string) (string, bool) {
	n, ok := c.names[key]
	return n, ok
}

func (c *fakeCatalog) ListKnownInstruments() []string { return c.order }

func (c *fakeCatalog) TickSize(key string) (float64, bool) {
	t, ok := c.ticks[key]
	return t, ok
}

type fakePrefs struct {
	mu   sync.Mutex
	vals map[string]string
	err  error
}

func (p *fakePrefs) SavePreference(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.vals == nil {
		p.vals = map[string]string{}
	}
	p.vals[key] = value
	return nil
}

type panicDetector struct{ key string }

func (panicDetector) Name() string { return "panic" }

func (d panicDetector) Detect(ctx strategy.Context) []strategy.Candidate {
	if ctx.State.Key == d.key && ctx.Trade != nil {
		panic("detector fault")
	}
	return nil
}

func newTestStore(t *testing.T, opts Options, detectors ...strategy.Detector) (*Store, *infra.Metrics) {
	t.Helper()
	m := &infra.Metrics{}
	signals := strategy.NewEngine(strategy.DefaultConfig(), detectors, nil)
	proc := engine.NewProcessor(engine.DefaultConfig(), signals, m, nil)
	opts.Metrics = m
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0 }
	}
	return NewStore(proc, opts), m
}

func frame(t *testing.T, raw string) *domain.Frame {
	t.Helper()
	var f domain.Frame
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	return &f
}

func feedFrame(t *testing.T, key string, ltp float64, vtt int64) *domain.Frame {
	t.Helper()
	f := &domain.Frame{Type: domain.MsgLiveFeed, Feeds: map[string]domain.InstrumentFeed{}}
	var feed domain.InstrumentFeed
	raw := `{"fullFeed":{"marketFF":{"ltpc":{"ltp":` + jsonNum(ltp) + `},"vtt":"` + jsonNum(float64(vtt)) + `"}}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &feed))
	f.Feeds[key] = feed
	return f
}

func jsonNum(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestStore_ApplyFrame(t *testing.T) {
	s, m := newTestStore(t, Options{})

	var got []domain.MarketSnapshot
	unsub := s.Subscribe(func(snap domain.MarketSnapshot) { got = append(got, snap) })
	defer unsub()
	require.Len(t, got, 1, "current snapshot delivered on subscribe")
	assert.Nil(t, got[0].State)

	s.ApplyFrame(frame(t, `{
		"type": "live_feed",
		"feeds": {
			"A|1": {"fullFeed": {"marketFF": {"ltpc": {"ltp": 100}, "vtt": "1000",
				"marketLevel": {"bidAskQuote": [{"bidQ": "500", "bidP": 100, "askQ": "800", "askP": 100.05}]}}}},
			"B|2": {"fullFeed": {"marketFF": {"ltpc": {"ltp": 250}}}},
			"BAD|3": {"fullFeed": {}}
		}
	}`))

	require.Len(t, got, 2, "one broadcast per frame")
	snap := got[1]
	require.NotNil(t, snap.State)
	assert.Equal(t, "A|1", snap.Selected, "first known instrument is the fallback selection")
	assert.Len(t, snap.State.Book, 2)
	assert.Equal(t, []domain.InstrumentRef{{Key: "A|1", Name: "A|1"}, {Key: "B|2", Name: "B|2"}}, snap.Instruments)

	st, ok := s.State("B|2")
	require.True(t, ok)
	assert.Equal(t, 250.0, st.CurrentPrice)

	_, ok = s.State("BAD|3")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), m.Snapshot().MalformedFeeds)

	s.ApplyFrame(feedFrame(t, "A|1", 100.05, 1050))
	st, _ = s.State("A|1")
	assert.Equal(t, int64(50), st.GlobalCVD)
	require.Len(t, st.RecentTrades, 1)
	assert.Equal(t, domain.SideAsk, st.RecentTrades[0].Side)
}

func TestStore_ApplyFrame_IgnoresOtherTypes(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	f := feedFrame(t, "A|1", 100, 10)
	f.Type = domain.MsgQuoteResponse
	s.ApplyFrame(f)
	assert.Empty(t, s.Instruments())
}

func TestStore_FaultIsolatedPerInstrument(t *testing.T) {
	s, m := newTestStore(t, Options{}, panicDetector{key: "BAD|1"})

	s.ApplyFrame(feedFrame(t, "BAD|1", 100, 1000))
	s.ApplyFrame(feedFrame(t, "OK|1", 50, 1000))

	f := feedFrame(t, "BAD|1", 100.05, 1100)
	ok := feedFrame(t, "OK|1", 50.05, 1100)
	f.Feeds["OK|1"] = ok.Feeds["OK|1"]

	assert.NotPanics(t, func() { s.ApplyFrame(f) })

	bad, found := s.State("BAD|1")
	require.True(t, found)
	assert.Zero(t, bad.GlobalCVD, "faulting instrument recreated")
	assert.Equal(t, 100.05, bad.CurrentPrice)

	good, _ := s.State("OK|1")
	assert.Equal(t, int64(100), good.GlobalCVD, "other instruments unaffected")
	assert.Equal(t, uint64(1), m.Snapshot().StateResets)
}

func TestStore_ApplyQuotes(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.ApplyFrame(feedFrame(t, "A|1", 100, 1000))

	s.ApplyQuotes(map[string]float64{"A|1": 101, "C|9": 42, "Z|0": 0})

	a, _ := s.State("A|1")
	assert.Equal(t, 101.0, a.CurrentPrice)
	assert.Equal(t, int64(1000), a.LastVol, "quotes never touch the volume counter")

	c, ok := s.State("C|9")
	require.True(t, ok)
	assert.Equal(t, 42.0, c.CurrentPrice)

	_, ok = s.State("Z|0")
	assert.False(t, ok)
}

func TestStore_Select(t *testing.T) {
	prefs := &fakePrefs{}
	cat := &fakeCatalog{
		names: map[string]string{"NSE|1": "NIFTY FUT"},
		ticks: map[string]float64{"NSE|1": 0.1},
		order: []string{"NSE|1"},
	}
	s, _ := newTestStore(t, Options{Catalog: cat, Preferences: prefs})

	t.Run("seed from ref price", func(t *testing.T) {
		require.NoError(t, s.Select("NSE|1", 24000))
		snap := s.Snapshot()
		assert.Equal(t, "NSE|1", snap.Selected)
		require.NotNil(t, snap.State)
		assert.Equal(t, 24000.0, snap.State.CurrentPrice)
		assert.Equal(t, "NIFTY FUT", snap.State.DisplayName)
		assert.Equal(t, 0.1, snap.State.TickSize)
		assert.Equal(t, "NSE|1", prefs.vals[domain.PrefSelectedInstrument])
	})

	t.Run("seed from first known price", func(t *testing.T) {
		require.NoError(t, s.Select("NEW|2", 0))
		st, _ := s.State("NEW|2")
		assert.Equal(t, 24000.0, st.CurrentPrice)
	})

	t.Run("empty key rejected", func(t *testing.T) {
		assert.ErrorIs(t, s.Select("", 1), domain.ErrUnknownInstrument)
	})

	t.Run("fallback price", func(t *testing.T) {
		fresh, _ := newTestStore(t, Options{})
		require.NoError(t, fresh.Select("X|1", 0))
		st, _ := fresh.State("X|1")
		assert.Equal(t, FallbackPrice, st.CurrentPrice)
	})

	t.Run("preference failure is not fatal", func(t *testing.T) {
		prefs.err = errors.New("disk full")
		assert.NoError(t, s.Select("NSE|1", 0))
		assert.Equal(t, "NSE|1", s.Snapshot().Selected)
	})
}

func TestStore_AddInstrument(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.AddInstrument("A|1", "")
	s.AddInstrument("A|1", "Alpha")
	s.AddInstrument("", "ignored")

	assert.Equal(t, []domain.InstrumentRef{{Key: "A|1", Name: "Alpha"}}, s.Instruments())
	_, ok := s.State("A|1")
	assert.False(t, ok, "registration does not create state")

	require.NoError(t, s.Select("A|1", 10))
	st, _ := s.State("A|1")
	assert.Equal(t, "Alpha", st.DisplayName)
}

func TestStore_InjectIceberg(t *testing.T) {
	now := t0
	s, _ := newTestStore(t, Options{
		IcebergLifetime: 5 * time.Second,
		Now:             func() time.Time { return now },
	})

	s.InjectIceberg(domain.SideBid) // nothing selected: no-op
	assert.Nil(t, s.Snapshot().State)

	require.NoError(t, s.Select("A|1", 100))
	s.InjectIceberg(domain.SideBid)
	s.InjectIceberg(domain.SideBid)

	st, _ := s.State("A|1")
	require.Len(t, st.ActiveIcebergs, 1, "same price and side refreshes the marker")
	assert.Equal(t, 100.0, st.ActiveIcebergs[0].Price)
	assert.Equal(t, now.Add(5*time.Second), st.ActiveIcebergs[0].ExpiresAt)

	now = now.Add(6 * time.Second)
	s.InjectIceberg(domain.SideAsk)
	st, _ = s.State("A|1")
	require.Len(t, st.ActiveIcebergs, 1, "expired marker purged")
	assert.Equal(t, domain.SideAsk, st.ActiveIcebergs[0].Side)
}

func TestStore_Reset(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.ApplyFrame(feedFrame(t, "A|1", 100, 1000))
	s.ApplyFrame(feedFrame(t, "A|1", 100.05, 1200))

	before, _ := s.State("A|1")
	require.Equal(t, int64(200), before.GlobalCVD)

	s.Reset("A|1")
	s.Reset("missing")

	after, _ := s.State("A|1")
	assert.Zero(t, after.GlobalCVD)
	assert.Zero(t, after.LastVol)
	assert.Equal(t, 100.05, after.CurrentPrice)
	assert.Empty(t, after.RecentTrades)
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.ApplyFrame(feedFrame(t, "A|1", 100, 1000))
	s.ApplyFrame(feedFrame(t, "A|1", 100.05, 1100))

	var a, b domain.MarketSnapshot
	s.Subscribe(func(snap domain.MarketSnapshot) { a = snap })
	s.Subscribe(func(snap domain.MarketSnapshot) { b = snap })

	s.ApplyFrame(feedFrame(t, "A|1", 100.10, 1200))
	require.NotNil(t, a.State)
	require.NotNil(t, b.State)
	require.NotEmpty(t, a.State.RecentTrades)

	a.State.RecentTrades[0].Size = -1
	a.Instruments[0].Name = "mutated"
	assert.NotEqual(t, int64(-1), b.State.RecentTrades[0].Size)

	st, _ := s.State("A|1")
	assert.Equal(t, int64(100), st.RecentTrades[0].Size)
	assert.Equal(t, "A|1", s.Instruments()[0].Name)
	assert.Greater(t, b.Seq, uint64(0))
}

func TestStore_Unsubscribe(t *testing.T) {
	s, m := newTestStore(t, Options{})
	calls := 0
	unsub := s.Subscribe(func(domain.MarketSnapshot) { calls++ })
	assert.Equal(t, 1, calls)
	assert.Equal(t, int32(1), m.Snapshot().Subscribers)

	unsub()
	unsub()
	s.SetConnectionStatus(domain.StatusConnected)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int32(0), m.Snapshot().Subscribers)
	assert.Equal(t, domain.StatusConnected, s.Status())
}

func TestStore_Handle(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	s.Handle(&event.AddInstrumentEvent{Key: "A|1", Name: "Alpha"})
	s.Handle(&event.SelectEvent{Key: "A|1", RefPrice: 100})
	s.Handle(&event.StatusEvent{Status: domain.StatusConnecting})
	s.Handle(&event.QuotesEvent{Prices: map[string]float64{"A|1": 101}})
	s.Handle(&event.IcebergEvent{Side: domain.SideAsk})
	s.Handle(&event.FrameEvent{Frame: feedFrame(t, "A|1", 101, 500)})
	s.Handle(&event.ResetEvent{Key: "A|1"})

	snap := s.Snapshot()
	assert.Equal(t, "A|1", snap.Selected)
	assert.Equal(t, domain.StatusConnecting, snap.Status)
	require.NotNil(t, snap.State)
	assert.Equal(t, "Alpha", snap.State.DisplayName)
	assert.Empty(t, snap.State.ActiveIcebergs, "reset clears markers")
	assert.Zero(t, snap.State.LastVol)

	b, err := json.Marshal(s.DumpState())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"selected":"A|1"`)
	assert.Contains(t, string(b), `"status":"CONNECTING"`)
}

func TestStore_RestoreSelection(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.RestoreSelection("B|2")

	s.ApplyFrame(feedFrame(t, "A|1", 100, 1000))
	assert.Equal(t, "A|1", s.Snapshot().Selected, "falls back until the saved instrument has state")

	s.ApplyFrame(feedFrame(t, "B|2", 250, 1000))
	snap := s.Snapshot()
	assert.Equal(t, "B|2", snap.Selected)
	assert.Equal(t, 250.0, snap.State.CurrentPrice)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.ApplyFrame(feedFrame(t, "A|1", 100, 1000))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				snap := s.Snapshot()
				if snap.State == nil {
					t.Error("snapshot lost its state")
					return
				}
				s.State("A|1")
			}
		}()
	}
	for i := 1; i <= 200; i++ {
		s.ApplyFrame(feedFrame(t, "A|1", 100+float64(i%5)*0.05, 1000+int64(i)))
	}
	wg.Wait()

	// reads never advance the broadcast sequence
	before := s.Snapshot().Seq
	s.Snapshot()
	assert.Equal(t, before, s.Snapshot().Seq)
	assert.Equal(t, uint64(201), before)
}
