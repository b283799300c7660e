package engine

import (
	"sort"
	"strconv"

	"orderflow_go/internal/domain"
)

// maxOrdersPerSide bounds the synthetic display orders kept per side of a level.
const maxOrdersPerSide = 3

// BuildBook converts a depth snapshot into a price ladder sorted strictly
// descending by price. Rungs with a non-positive price or a missing,
// unparsable or non-positive quantity are skipped. Prices contributed by
// different rungs aggregate at the same canonical key.
func BuildBook(quotes []domain.Quote) []domain.PriceLevel {
	levels := make(map[string]*domain.PriceLevel, len(quotes)*2)

	level := func(price float64) *domain.PriceLevel {
		key := domain.PriceKey(price)
		l, ok := levels[key]
		if !ok {
			l = &domain.PriceLevel{Price: domain.RoundPrice(price), Key: key}
			levels[key] = l
		}
		return l
	}

	for i, q := range quotes {
		if size, ok := q.BidQty.Int(); ok && size > 0 && q.BidPrice > 0 {
			l := level(q.BidPrice)
			l.TotalBidSize += size
			if len(l.Bids) < maxOrdersPerSide {
				l.Bids = append(l.Bids, domain.SyntheticOrder{
					ID:       "b-" + strconv.Itoa(i),
					Price:    l.Price,
					Size:     size,
					Priority: i,
				})
			}
		}
		if size, ok := q.AskQty.Int(); ok && size > 0 && q.AskPrice > 0 {
			l := level(q.AskPrice)
			l.TotalAskSize += size
			if len(l.Asks) < maxOrdersPerSide {
				l.Asks = append(l.Asks, domain.SyntheticOrder{
					ID:       "a-" + strconv.Itoa(i),
					Price:    l.Price,
					Size:     size,
					Priority: i,
				})
			}
		}
	}

	book := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		book = append(book, *l)
	}
	sort.Slice(book, func(i, j int) bool {
		return domain.ComparePrice(book[i].Price, book[j].Price) > 0
	})
	return book
}
