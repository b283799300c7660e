package engine

import (
	"time"

	"orderflow_go/internal/domain"

	"github.com/google/uuid"
)

// InferTrade turns two cumulative-volume readings into at most one trade.
//
// The feed has no trade tape, so every execution between two ticks collapses
// into a single trade of the net size. The aggressor side is a heuristic: an
// unchanged or higher price counts as buyer-initiated.
//
// The returned baseline is the counter value the caller must store as lastVol.
func InferTrade(lastVol, newVol int64, prevPrice, newPrice float64, now time.Time) (*domain.Trade, int64) {
	switch {
	case newVol < 0:
		// never a valid cumulative counter; keep the baseline
		return nil, lastVol
	case lastVol <= 0:
		return nil, newVol
	case newVol > lastVol:
		side := domain.SideBid
		if domain.ComparePrice(newPrice, prevPrice) >= 0 {
			side = domain.SideAsk
		}
		return &domain.Trade{
			ID:        uuid.NewString(),
			Price:     newPrice,
			Size:      newVol - lastVol,
			Side:      side,
			Timestamp: now,
		}, newVol
	case newVol < lastVol:
		// counter reset upstream: rebase, never a negative trade
		return nil, newVol
	default:
		return nil, lastVol
	}
}
