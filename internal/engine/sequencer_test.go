package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/event"
	"orderflow_go/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	seqs    []uint64
	types   []event.Type
	panicOn event.Type
}

func (h *recordingHandler) Handle(ev event.Event) {
	h.mu.Lock()
	h.seqs = append(h.seqs, ev.GetSeq())
	h.types = append(h.types, ev.GetType())
	h.mu.Unlock()
	if ev.GetType() == h.panicOn {
		panic("boom")
	}
}

func (h *recordingHandler) DumpState() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]int{"handled": len(h.seqs)}
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seqs)
}

func TestSequencer_PublishAndRun(t *testing.T) {
	h := &recordingHandler{}
	seq := NewSequencer(10, h, "", &infra.Metrics{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go seq.Run(ctx)

	seq.SubmitStatus(domain.StatusConnecting)
	seq.SubmitFrame(&domain.Frame{Type: domain.MsgLiveFeed})
	seq.SubmitQuotes(map[string]float64{"k": 100})

	require.Eventually(t, func() bool { return h.count() == 3 }, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3}, h.seqs)
	assert.Equal(t, []event.Type{event.TypeStatus, event.TypeFrame, event.TypeQuotes}, h.types)
}

func TestSequencer_GapIsNotFatal(t *testing.T) {
	h := &recordingHandler{}
	m := &infra.Metrics{}
	seq := NewSequencer(10, h, "", m, nil)

	// Start with 2 instead of 1
	seq.processEvent(&event.StatusEvent{BaseEvent: event.BaseEvent{Seq: 2}})
	seq.processEvent(&event.StatusEvent{BaseEvent: event.BaseEvent{Seq: 3}})

	assert.Equal(t, 2, h.count(), "events after a gap are still handled")
	assert.Equal(t, uint64(1), m.Snapshot().SeqGaps)
	assert.Equal(t, uint64(4), seq.nextSeq)
}

func TestSequencer_PanicRecoveredAndDumped(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "panic_dump.json")
	h := &recordingHandler{panicOn: event.TypeReset}
	m := &infra.Metrics{}
	seq := NewSequencer(10, h, dump, m, nil)

	assert.NotPanics(t, func() {
		seq.processEvent(&event.ResetEvent{BaseEvent: event.BaseEvent{Seq: 1}, Key: "k"})
	})
	seq.processEvent(&event.StatusEvent{BaseEvent: event.BaseEvent{Seq: 2}})

	assert.Equal(t, 2, h.count())
	assert.Equal(t, uint64(1), m.Snapshot().ErrorsTotal)

	b, err := os.ReadFile(dump)
	require.NoError(t, err)
	var got struct {
		NextSeq uint64         `json:"next_seq"`
		State   map[string]int `json:"state"`
	}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, uint64(2), got.NextSeq)
	assert.Equal(t, 1, got.State["handled"])
}

func TestSequencer_PublishHonoursContext(t *testing.T) {
	seq := NewSequencer(1, nil, "", &infra.Metrics{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, seq.Publish(ctx, &event.StatusEvent{}))
	// inbox full and nobody draining
	assert.ErrorIs(t, seq.Publish(ctx, &event.StatusEvent{}), context.DeadlineExceeded)
}

func TestSequencer_ProducersUnblockAfterRun(t *testing.T) {
	seq := NewSequencer(1, &recordingHandler{}, "", &infra.Metrics{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		seq.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped
	seq.inbox <- &event.StatusEvent{} // full, nobody draining

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			seq.SubmitFrame(&domain.Frame{Type: domain.MsgLiveFeed})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked after the sequencer stopped")
	}

	assert.ErrorIs(t, seq.Publish(context.Background(), &event.StatusEvent{}), ErrSequencerStopped)
}

// BenchmarkProcessor_Apply measures the per-instrument hot path.
func BenchmarkProcessor_Apply(b *testing.B) {
	now := time.Unix(1_700_000_000, 0)
	p := NewProcessor(DefaultConfig(), nil, &infra.Metrics{}, nil)
	st := domain.NewInstrumentState("k", 24000, now)
	quotes := []domain.Quote{
		{BidQty: "150", BidPrice: 24000, AskQty: "300", AskPrice: 24000.05},
		{BidQty: "90", BidPrice: 23999.95, AskQty: "10", AskPrice: 24000.10},
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		u := domain.FeedUpdate{
			Key:       "k",
			LTP:       24000 + float64(i%7)*0.05,
			Quotes:    quotes,
			HasBook:   true,
			Volume:    int64(1000 + i*3),
			HasVolume: true,
		}
		p.Apply(st, u, now)
	}
}
