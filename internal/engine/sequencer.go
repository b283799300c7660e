package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/event"
	"orderflow_go/internal/infra"
)

// Handler applies sequenced events. It is only ever called from the
// sequencer goroutine.
type Handler interface {
	Handle(ev event.Event)
	// DumpState returns a JSON-encodable view of all state for post-mortem.
	DumpState() any
}

// ErrSequencerStopped is returned by Publish once Run has returned.
var ErrSequencerStopped = errors.New("sequencer stopped")

// Sequencer is the single-writer event loop. Producers publish through it;
// Run drains the inbox one event at a time, run-to-completion.
type Sequencer struct {
	inbox   chan event.Event
	nextSeq uint64
	handler Handler

	pubMu  sync.Mutex
	pubSeq uint64

	done     chan struct{}
	stopOnce sync.Once

	dumpPath string
	metrics  *infra.Metrics
	logger   *slog.Logger
}

// NewSequencer creates a new sequencer instance. An empty dumpPath disables
// state dumps on panic.
func NewSequencer(inboxSize int, handler Handler, dumpPath string, metrics *infra.Metrics, logger *slog.Logger) *Sequencer {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		inbox:    make(chan event.Event, inboxSize),
		nextSeq:  1,
		done:     make(chan struct{}),
		handler:  handler,
		dumpPath: dumpPath,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "sequencer")),
	}
}

// Publish stamps ev with the next sequence number and enqueues it. It blocks
// while the inbox is full, until ctx ends or Run has returned.
func (s *Sequencer) Publish(ctx context.Context, ev event.Event) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.pubSeq++
	ev.SetSeq(s.pubSeq)
	select {
	case s.inbox <- ev:
		return nil
	case <-ctx.Done():
		// the number is burnt; the loop logs the gap
		return ctx.Err()
	case <-s.done:
		return ErrSequencerStopped
	}
}

// SubmitFrame publishes a feed frame. It satisfies domain.FrameSink.
func (s *Sequencer) SubmitFrame(f *domain.Frame) {
	ev := event.AcquireFrameEvent()
	ev.Ts = time.Now()
	ev.Frame = f
	s.submit(ev)
}

// SubmitQuotes publishes quote-only prices.
func (s *Sequencer) SubmitQuotes(prices map[string]float64) {
	s.submit(&event.QuotesEvent{BaseEvent: event.BaseEvent{Ts: time.Now()}, Prices: prices})
}

// SubmitStatus publishes a connection status transition.
func (s *Sequencer) SubmitStatus(st domain.ConnectionStatus) {
	s.submit(&event.StatusEvent{BaseEvent: event.BaseEvent{Ts: time.Now()}, Status: st})
}

func (s *Sequencer) submit(ev event.Event) {
	if err := s.Publish(context.Background(), ev); err != nil {
		event.Release(ev)
		if errors.Is(err, ErrSequencerStopped) {
			s.logger.Debug("event dropped after shutdown", slog.String("type", ev.GetType().String()))
			return
		}
		s.logger.Warn("publish failed", slog.String("type", ev.GetType().String()), slog.Any("error", err))
	}
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.logger.Info("sequencer started")
	defer s.stopOnce.Do(func() { close(s.done) })

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sequencer stopping", slog.Uint64("next_seq", s.nextSeq))
			return
		case ev := <-s.inbox:
			s.processEvent(ev)
		}
	}
}

func (s *Sequencer) processEvent(ev event.Event) {
	defer event.Release(ev)
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordError()
			s.logger.Error("handler panic recovered",
				slog.Any("panic", r),
				slog.Uint64("seq", ev.GetSeq()),
				slog.String("type", ev.GetType().String()))
			s.DumpState()
		}
	}()

	// Gaps are tolerated: log, count, resynchronize.
	if seq := ev.GetSeq(); seq != 0 {
		if seq != s.nextSeq {
			s.metrics.RecordSeqGap()
			s.logger.Warn("sequence gap detected",
				slog.Uint64("expected", s.nextSeq),
				slog.Uint64("got", seq))
		}
		s.nextSeq = seq + 1
	}

	if s.handler != nil {
		s.handler.Handle(ev)
	}
}

// DumpState writes the handler's state to the dump file (for post-mortem).
func (s *Sequencer) DumpState() {
	if s.dumpPath == "" || s.handler == nil {
		return
	}
	s.logger.Info("dumping internal state", slog.String("file", s.dumpPath))

	data := struct {
		NextSeq  uint64    `json:"next_seq"`
		DumpedAt time.Time `json:"dumped_at"`
		State    any       `json:"state"`
	}{
		NextSeq:  s.nextSeq,
		DumpedAt: time.Now(),
		State:    s.handler.DumpState(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(s.dumpPath, b, 0644); err != nil {
		s.logger.Error("failed to write state dump", slog.Any("error", fmt.Errorf("dump %s: %w", s.dumpPath, err)))
	}
}
