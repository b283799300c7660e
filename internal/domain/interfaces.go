package domain

import "context"

// FeedSource delivers frames and reports its connection lifecycle.
// Implementations keep at most one connection attempt in flight and report a
// single terminal status per lifecycle event.
type FeedSource interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// InstrumentCatalog resolves display names and the list of tracked instruments.
type InstrumentCatalog interface {
	ResolveDisplayName(key string) (string, bool)
	ListKnownInstruments() []string
}

// FrameSink is implemented by the pipeline entry point that feed sources push into.
type FrameSink interface {
	SubmitFrame(f *Frame)
	SubmitQuotes(prices map[string]float64)
	SubmitStatus(s ConnectionStatus)
}
