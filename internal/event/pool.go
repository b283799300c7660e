package event

import (
	"sync"
	"time"
)

// framePool recycles FrameEvents, the only high-frequency event.
//
// Usage:
//
//	ev := AcquireFrameEvent()
//	ev.Frame = frame
//	// ... publish; the sequencer calls Release after processing ...
var framePool = sync.Pool{
	New: func() interface{} {
		return &FrameEvent{}
	},
}

// AcquireFrameEvent gets a FrameEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireFrameEvent() *FrameEvent {
	return framePool.Get().(*FrameEvent)
}

// ReleaseFrameEvent returns a FrameEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleaseFrameEvent(ev *FrameEvent) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = time.Time{}
	ev.Frame = nil

	framePool.Put(ev)
}

// Release returns pooled event types to their pool and ignores the rest.
func Release(ev Event) {
	if fe, ok := ev.(*FrameEvent); ok {
		ReleaseFrameEvent(fe)
	}
}

// Warmup pre-allocates frame events to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	evs := make([]*FrameEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquireFrameEvent())
	}
	for _, ev := range evs {
		ReleaseFrameEvent(ev)
	}
}
