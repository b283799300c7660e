package infra

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides lightweight pipeline counters.
// Uses atomic operations for thread-safety; Prometheus reads them through
// function collectors so the hot path never touches the client library.
type Metrics struct {
	// Counters
	framesProcessed atomic.Uint64
	quotesApplied   atomic.Uint64
	tradesInferred  atomic.Uint64
	volumeInferred  atomic.Uint64
	barRotations    atomic.Uint64
	counterResets   atomic.Uint64
	signalsOpened   atomic.Uint64
	signalsResolved atomic.Uint64
	malformedFeeds  atomic.Uint64
	stateResets     atomic.Uint64
	seqGaps         atomic.Uint64
	broadcasts      atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	instruments       atomic.Int32
	subscribers       atomic.Int32
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordFrame records a processed frame with its latency.
func (m *Metrics) RecordFrame(latencyNs int64) {
	m.framesProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordQuotes records a quote-only price update.
func (m *Metrics) RecordQuotes() {
	m.quotesApplied.Add(1)
}

// RecordTrade records an inferred trade.
func (m *Metrics) RecordTrade(size int64) {
	m.tradesInferred.Add(1)
	if size > 0 {
		m.volumeInferred.Add(uint64(size))
	}
}

// RecordRotation records a footprint bar rotation.
func (m *Metrics) RecordRotation() {
	m.barRotations.Add(1)
}

// RecordCounterReset records a cumulative volume regression.
func (m *Metrics) RecordCounterReset() {
	m.counterResets.Add(1)
}

// RecordSignals records opened and resolved signal counts.
func (m *Metrics) RecordSignals(opened, resolved int) {
	m.signalsOpened.Add(uint64(opened))
	m.signalsResolved.Add(uint64(resolved))
}

// RecordMalformed records a skipped instrument entry.
func (m *Metrics) RecordMalformed() {
	m.malformedFeeds.Add(1)
}

// RecordStateReset records an instrument state discarded after a fault.
func (m *Metrics) RecordStateReset() {
	m.stateResets.Add(1)
}

// RecordSeqGap records a sequence gap in the event stream.
func (m *Metrics) RecordSeqGap() {
	m.seqGaps.Add(1)
}

// RecordBroadcast records a snapshot fan-out.
func (m *Metrics) RecordBroadcast() {
	m.broadcasts.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetInstruments sets the number of tracked instruments.
func (m *Metrics) SetInstruments(n int) {
	m.instruments.Store(int32(n))
}

// SetSubscribers sets the number of snapshot subscribers.
func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Store(int32(n))
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FramesProcessed   uint64
	QuotesApplied     uint64
	TradesInferred    uint64
	VolumeInferred    uint64
	BarRotations      uint64
	CounterResets     uint64
	SignalsOpened     uint64
	SignalsResolved   uint64
	MalformedFeeds    uint64
	StateResets       uint64
	SeqGaps           uint64
	Broadcasts        uint64
	ErrorsTotal       uint64
	AvgLatencyNs      int64
	Instruments       int32
	Subscribers       int32
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		FramesProcessed:   m.framesProcessed.Load(),
		QuotesApplied:     m.quotesApplied.Load(),
		TradesInferred:    m.tradesInferred.Load(),
		VolumeInferred:    m.volumeInferred.Load(),
		BarRotations:      m.barRotations.Load(),
		CounterResets:     m.counterResets.Load(),
		SignalsOpened:     m.signalsOpened.Load(),
		SignalsResolved:   m.signalsResolved.Load(),
		MalformedFeeds:    m.malformedFeeds.Load(),
		StateResets:       m.stateResets.Load(),
		SeqGaps:           m.seqGaps.Load(),
		Broadcasts:        m.broadcasts.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLatencyNs:      m.avgLatency(),
		Instruments:       m.instruments.Load(),
		Subscribers:       m.subscribers.Load(),
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

func (m *Metrics) avgLatency() int64 {
	count := m.latencyCount.Load()
	if count == 0 {
		return 0
	}
	return m.latencySumNs.Load() / int64(count)
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.framesProcessed, &m.quotesApplied, &m.tradesInferred, &m.volumeInferred,
		&m.barRotations, &m.counterResets, &m.signalsOpened, &m.signalsResolved,
		&m.malformedFeeds, &m.stateResets, &m.seqGaps, &m.broadcasts, &m.errorsTotal,
		&m.latencyCount,
	} {
		c.Store(0)
	}
	m.latencySumNs.Store(0)
	m.instruments.Store(0)
	m.subscribers.Store(0)
	m.activeConnections.Store(0)
}

// Collectors exposes the counters as Prometheus function collectors.
func (m *Metrics) Collectors(namespace string) []prometheus.Collector {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, fn)
	}

	return []prometheus.Collector{
		counter("frames_processed_total", "Feed frames applied to the store.", &m.framesProcessed),
		counter("quotes_applied_total", "Quote-only price updates applied.", &m.quotesApplied),
		counter("trades_inferred_total", "Trades inferred from cumulative volume.", &m.tradesInferred),
		counter("volume_inferred_total", "Volume carried by inferred trades.", &m.volumeInferred),
		counter("bar_rotations_total", "Footprint bars archived.", &m.barRotations),
		counter("volume_counter_resets_total", "Cumulative volume regressions rebased.", &m.counterResets),
		counter("signals_opened_total", "Trade signals opened.", &m.signalsOpened),
		counter("signals_resolved_total", "Trade signals resolved.", &m.signalsResolved),
		counter("malformed_feeds_total", "Instrument entries skipped as malformed.", &m.malformedFeeds),
		counter("state_resets_total", "Instrument states discarded after a fault.", &m.stateResets),
		counter("sequence_gaps_total", "Gaps detected in the event sequence.", &m.seqGaps),
		counter("broadcasts_total", "Snapshots delivered to subscribers.", &m.broadcasts),
		counter("errors_total", "Errors recorded by any component.", &m.errorsTotal),
		gauge("frame_latency_avg_seconds", "Average frame processing latency.", func() float64 {
			return float64(m.avgLatency()) / float64(time.Second)
		}),
		gauge("instruments", "Tracked instruments.", func() float64 { return float64(m.instruments.Load()) }),
		gauge("subscribers", "Snapshot subscribers.", func() float64 { return float64(m.subscribers.Load()) }),
		gauge("active_connections", "Live feed and client connections.", func() float64 {
			return float64(m.activeConnections.Load())
		}),
	}
}

// NewRegistry returns a Prometheus registry holding m's collectors plus the
// standard Go and process collectors.
func NewRegistry(m *Metrics, namespace string) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	cs := append(m.Collectors(namespace),
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
