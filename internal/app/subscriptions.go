package app

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"orderflow_go/internal/domain"
)

type subscriber interface {
	Subscribe(keys []string) error
}

// subscriptionSync asks the relay for instruments that appear in snapshots
// (UI additions, quote-only keys) but were never requested.
type subscriptionSync struct {
	target  subscriber
	logger  *slog.Logger
	pending chan []string

	mu   sync.Mutex
	sent map[string]bool
}

func newSubscriptionSync(target subscriber, initial []string, logger *slog.Logger) *subscriptionSync {
	s := &subscriptionSync{
		target:  target,
		logger:  logger,
		pending: make(chan []string, 8),
		sent:    make(map[string]bool, len(initial)),
	}
	for _, k := range initial {
		s.sent[k] = true
	}
	return s
}

// Observe runs on the writer goroutine and must not block.
func (s *subscriptionSync) Observe(snap domain.MarketSnapshot) {
	s.mu.Lock()
	var fresh []string
	for _, ref := range snap.Instruments {
		if !s.sent[ref.Key] {
			s.sent[ref.Key] = true
			fresh = append(fresh, ref.Key)
		}
	}
	s.mu.Unlock()
	if len(fresh) == 0 {
		return
	}

	sort.Strings(fresh)
	select {
	case s.pending <- fresh:
	default:
		// dropped keys are retried on a later snapshot
		s.forget(fresh)
	}
}

func (s *subscriptionSync) forget(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.sent, k)
	}
}

// Run forwards pending keys to the relay until ctx is cancelled.
func (s *subscriptionSync) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case keys := <-s.pending:
			if err := s.target.Subscribe(keys); err != nil {
				// the relay keeps the keys for its next init
				s.logger.Warn("subscribe failed", slog.Int("keys", len(keys)), slog.Any("error", err))
				continue
			}
			s.logger.Info("subscribed instruments", slog.Any("keys", keys))
		}
	}
}
