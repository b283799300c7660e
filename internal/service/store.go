package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/engine"
	"orderflow_go/internal/event"
	"orderflow_go/internal/infra"

	"github.com/google/uuid"
)

// FallbackPrice seeds a lazily selected instrument when no price is known.
const FallbackPrice = 1000.0

// PreferenceStore persists user settings such as the selected instrument.
type PreferenceStore interface {
	SavePreference(key, value string) error
}

// TickSizeResolver is optionally implemented by catalogs that know tick sizes.
type TickSizeResolver interface {
	TickSize(key string) (float64, bool)
}

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	Catalog         domain.InstrumentCatalog
	Preferences     PreferenceStore
	IcebergLifetime time.Duration
	Metrics         *infra.Metrics
	Logger          *slog.Logger
	Now             func() time.Time
}

// Store owns every InstrumentState and fans consolidated snapshots out to
// subscribers. Mutations come from the single writer; the mutex lets
// readers query concurrently.
type Store struct {
	mu       sync.RWMutex
	states   map[string]*domain.InstrumentState
	known    []domain.InstrumentRef
	selected string
	status   domain.ConnectionStatus
	seq      uint64

	subMu     sync.Mutex
	subs      map[uint64]func(domain.MarketSnapshot)
	nextSubID uint64

	proc    *engine.Processor
	opts    Options
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewStore creates a store that runs updates through proc.
func NewStore(proc *engine.Processor, opts Options) *Store {
	if opts.IcebergLifetime <= 0 {
		opts.IcebergLifetime = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = infra.GlobalMetrics
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		states:  make(map[string]*domain.InstrumentState),
		subs:    make(map[uint64]func(domain.MarketSnapshot)),
		proc:    proc,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  opts.Logger.With(slog.String("component", "store")),
	}
	if opts.Catalog != nil {
		for _, key := range opts.Catalog.ListKnownInstruments() {
			s.addKnownLocked(key, "")
		}
	}
	return s
}

// Handle dispatches a sequenced event. It satisfies engine.Handler.
func (s *Store) Handle(ev event.Event) {
	switch e := ev.(type) {
	case *event.FrameEvent:
		s.ApplyFrame(e.Frame)
	case *event.QuotesEvent:
		s.ApplyQuotes(e.Prices)
	case *event.StatusEvent:
		s.SetConnectionStatus(e.Status)
	case *event.SelectEvent:
		if err := s.Select(e.Key, e.RefPrice); err != nil {
			s.logger.Warn("select rejected", slog.String("key", e.Key), slog.Any("error", err))
		}
	case *event.AddInstrumentEvent:
		s.AddInstrument(e.Key, e.Name)
	case *event.IcebergEvent:
		s.InjectIceberg(e.Side)
	case *event.ResetEvent:
		s.Reset(e.Key)
	default:
		s.logger.Warn("unknown event type", slog.String("type", ev.GetType().String()))
	}
}

// ApplyFrame processes every instrument of f, then broadcasts once.
// Malformed entries are skipped; a fault in one instrument resets only
// that instrument.
func (s *Store) ApplyFrame(f *domain.Frame) {
	if f == nil {
		return
	}
	switch f.Type {
	case "", domain.MsgLiveFeed, domain.MsgInitialFeed:
	default:
		s.logger.Debug("ignoring frame", slog.String("type", f.Type))
		return
	}

	start := time.Now()
	now := s.opts.Now()

	s.mu.Lock()
	for _, key := range f.Keys() {
		u, err := f.Feeds[key].Parse(key)
		if err != nil {
			s.metrics.RecordMalformed()
			s.logger.Warn("skipping instrument", slog.String("key", key), slog.Any("error", err))
			continue
		}
		st := s.ensureLocked(key, u.LTP, now)
		s.applyLocked(st, u, now)
	}
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	s.metrics.RecordFrame(time.Since(start).Nanoseconds())
	s.deliver(snap)
}

func (s *Store) applyLocked(st *domain.InstrumentState, u domain.FeedUpdate, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordStateReset()
			s.logger.Error("instrument processing panicked, state discarded",
				slog.String("key", st.Key),
				slog.Any("panic", r))
			s.resetLocked(st.Key, u.LTP, now)
		}
	}()

	out := s.proc.Apply(st, u, now)
	if out.Archived != nil {
		s.logger.Debug("footprint bar rotated",
			slog.String("key", st.Key),
			slog.Int64("volume", out.Archived.Volume),
			slog.Int64("delta", out.Archived.Delta))
	}
}

// ApplyQuotes sets quote-only last prices; unknown keys are materialised.
func (s *Store) ApplyQuotes(prices map[string]float64) {
	if len(prices) == 0 {
		return
	}
	now := s.opts.Now()

	s.mu.Lock()
	keys := make([]string, 0, len(prices))
	for k := range prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		price := prices[k]
		if price <= 0 {
			continue
		}
		if st, ok := s.states[k]; ok {
			s.proc.ApplyPrice(st, price, now)
		} else {
			s.ensureLocked(k, price, now)
		}
	}
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	s.metrics.RecordQuotes()
	s.deliver(snap)
}

// Select switches the current instrument, creating its state if needed.
// refPrice seeds a new state; without one the first known positive price,
// then FallbackPrice, is used.
func (s *Store) Select(key string, refPrice float64) error {
	if key == "" {
		return fmt.Errorf("select: %w", domain.ErrUnknownInstrument)
	}
	now := s.opts.Now()

	s.mu.Lock()
	if _, ok := s.states[key]; !ok {
		seed := refPrice
		if seed <= 0 {
			seed = s.firstKnownPriceLocked()
		}
		s.ensureLocked(key, seed, now)
	}
	s.selected = key
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	if s.opts.Preferences != nil {
		if err := s.opts.Preferences.SavePreference(domain.PrefSelectedInstrument, key); err != nil {
			s.metrics.RecordError()
			s.logger.Warn("failed to persist selection", slog.String("key", key), slog.Any("error", err))
		}
	}
	s.deliver(snap)
	return nil
}

// RestoreSelection marks key as selected without creating its state; the
// instrument becomes current once its first update arrives.
func (s *Store) RestoreSelection(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = key
}

// SetConnectionStatus records a transport transition and broadcasts.
func (s *Store) SetConnectionStatus(st domain.ConnectionStatus) {
	s.mu.Lock()
	prev := s.status
	s.status = st
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	if prev != st {
		s.logger.Info("connection status changed",
			slog.String("from", prev.String()),
			slog.String("to", st.String()))
	}
	s.deliver(snap)
}

// AddInstrument registers or renames a known instrument without creating state.
func (s *Store) AddInstrument(key, name string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	s.addKnownLocked(key, name)
	if st, ok := s.states[key]; ok && name != "" {
		st.DisplayName = name
	}
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	s.deliver(snap)
}

// InjectIceberg places a manual iceberg marker at the current price of the
// selected instrument.
func (s *Store) InjectIceberg(side domain.Side) {
	now := s.opts.Now()

	s.mu.Lock()
	st := s.currentLocked()
	if st == nil || st.CurrentPrice <= 0 {
		s.mu.Unlock()
		return
	}
	st.PurgeIcebergs(now)
	ic := st.MarkIceberg(uuid.NewString(), st.CurrentPrice, side, 0, now, s.opts.IcebergLifetime)
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	s.logger.Info("iceberg injected",
		slog.String("key", st.Key),
		slog.String("side", string(side)),
		slog.Float64("price", ic.Price))
	s.deliver(snap)
}

// Reset discards an instrument's state and recreates it at its last price.
func (s *Store) Reset(key string) {
	now := s.opts.Now()

	s.mu.Lock()
	st, ok := s.states[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.resetLocked(key, st.CurrentPrice, now)
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	s.deliver(snap)
}

// Snapshot returns the current consolidated view stamped with the last
// broadcast sequence. Safe to call from any goroutine.
func (s *Store) Snapshot() domain.MarketSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// State returns a deep copy of one instrument's state.
func (s *Store) State(key string) (domain.InstrumentState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key]
	if !ok {
		return domain.InstrumentState{}, false
	}
	return st.Clone(), true
}

// Instruments returns the known instruments in registration order.
func (s *Store) Instruments() []domain.InstrumentRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.InstrumentRef(nil), s.known...)
}

// Status returns the last reported connection status.
func (s *Store) Status() domain.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Subscribe registers fn for every broadcast and delivers the current
// snapshot immediately. The returned func unsubscribes.
// fn runs on the writer goroutine and must not block or mutate the snapshot's
// source; snapshots it receives are private copies.
func (s *Store) Subscribe(fn func(domain.MarketSnapshot)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.metrics.SetSubscribers(len(s.subs))
	s.subMu.Unlock()

	fn(s.Snapshot())

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.metrics.SetSubscribers(len(s.subs))
			s.subMu.Unlock()
		})
	}
}

// DumpState returns every instrument state for post-mortem dumps.
func (s *Store) DumpState() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := struct {
		Selected    string                            `json:"selected"`
		Status      domain.ConnectionStatus           `json:"status"`
		Instruments []domain.InstrumentRef            `json:"instruments"`
		States      map[string]domain.InstrumentState `json:"states"`
	}{
		Selected:    s.selected,
		Status:      s.status,
		Instruments: append([]domain.InstrumentRef(nil), s.known...),
		States:      make(map[string]domain.InstrumentState, len(s.states)),
	}
	for k, st := range s.states {
		out.States[k] = st.Clone()
	}
	return out
}

// deliver fans snap out to every subscriber, each with its own copy.
func (s *Store) deliver(snap domain.MarketSnapshot) {
	s.subMu.Lock()
	fns := make([]func(domain.MarketSnapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for i, fn := range fns {
		if i > 0 {
			snap = cloneSnapshot(snap)
		}
		fn(snap)
	}
	s.metrics.RecordBroadcast()
}

func cloneSnapshot(snap domain.MarketSnapshot) domain.MarketSnapshot {
	out := snap
	out.Instruments = append([]domain.InstrumentRef(nil), snap.Instruments...)
	if snap.State != nil {
		st := snap.State.Clone()
		out.State = &st
	}
	return out
}

// nextSnapshotLocked advances the broadcast sequence and builds its snapshot.
// Caller holds mu for writing.
func (s *Store) nextSnapshotLocked() domain.MarketSnapshot {
	s.seq++
	return s.snapshotLocked()
}

// snapshotLocked builds a deep-copied snapshot carrying the last broadcast
// sequence. Caller holds mu, read access is enough.
func (s *Store) snapshotLocked() domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		Seq:         s.seq,
		Instruments: append([]domain.InstrumentRef(nil), s.known...),
		Status:      s.status,
	}
	if st := s.currentLocked(); st != nil {
		c := st.Clone()
		snap.State = &c
		snap.Selected = st.Key
	}
	return snap
}

// currentLocked returns the selected state, falling back to the first known
// instrument that has state.
func (s *Store) currentLocked() *domain.InstrumentState {
	if st, ok := s.states[s.selected]; ok {
		return st
	}
	for _, ref := range s.known {
		if st, ok := s.states[ref.Key]; ok {
			return st
		}
	}
	return nil
}

func (s *Store) firstKnownPriceLocked() float64 {
	for _, ref := range s.known {
		if st, ok := s.states[ref.Key]; ok && st.CurrentPrice > 0 {
			return st.CurrentPrice
		}
	}
	return FallbackPrice
}

// ensureLocked returns the state for key, creating it seeded at price.
func (s *Store) ensureLocked(key string, price float64, now time.Time) *domain.InstrumentState {
	if st, ok := s.states[key]; ok {
		return st
	}
	st := s.newStateLocked(key, price, now)
	s.states[key] = st
	s.addKnownLocked(key, "")
	s.metrics.SetInstruments(len(s.states))
	s.logger.Info("instrument materialised", slog.String("key", key), slog.Float64("seed_price", price))
	return st
}

func (s *Store) resetLocked(key string, price float64, now time.Time) {
	if price <= 0 {
		price = FallbackPrice
	}
	s.states[key] = s.newStateLocked(key, price, now)
	if sig := s.proc.Signals(); sig != nil {
		sig.Forget(key)
	}
	s.logger.Warn("instrument state reset", slog.String("key", key))
}

func (s *Store) newStateLocked(key string, price float64, now time.Time) *domain.InstrumentState {
	st := domain.NewInstrumentState(key, price, now)
	st.DisplayName = s.nameLocked(key)
	if ts, ok := s.opts.Catalog.(TickSizeResolver); ok {
		if tick, ok := ts.TickSize(key); ok && tick > 0 {
			st.TickSize = tick
		}
	}
	return st
}

func (s *Store) nameLocked(key string) string {
	for _, ref := range s.known {
		if ref.Key == key && ref.Name != "" {
			return ref.Name
		}
	}
	if s.opts.Catalog != nil {
		if name, ok := s.opts.Catalog.ResolveDisplayName(key); ok {
			return name
		}
	}
	return key
}

func (s *Store) addKnownLocked(key, name string) {
	for i := range s.known {
		if s.known[i].Key == key {
			if name != "" {
				s.known[i].Name = name
			}
			return
		}
	}
	if name == "" {
		name = s.nameLocked(key)
	}
	s.known = append(s.known, domain.InstrumentRef{Key: key, Name: name})
}
