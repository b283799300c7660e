package engine

import (
	"testing"

	"orderflow_go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func depth() []domain.Quote {
	return []domain.Quote{
		{BidQty: "150", BidPrice: 24100.00, AskQty: "300", AskPrice: 24100.50},
		{BidQty: "90", BidPrice: 24099.95, AskQty: "10", AskPrice: 24101.00},
		{BidQty: "40", BidPrice: 24099.90, AskQty: "25", AskPrice: 24101.05},
		// bid collides with rung 0's ask
		{BidQty: "5", BidPrice: 24100.50, AskQty: "", AskPrice: 24101.10},
		{BidQty: "7", BidPrice: 0, AskQty: "-3", AskPrice: 24101.15},
	}
}

func TestBuildBook(t *testing.T) {
	book := BuildBook(depth())

	keys := make([]string, 0, len(book))
	for _, l := range book {
		keys = append(keys, l.Key)
	}
	assert.Equal(t, []string{"24101.05", "24101.00", "24100.50", "24100.00", "24099.95", "24099.90"}, keys)

	shared := book[2]
	assert.Equal(t, int64(5), shared.TotalBidSize)
	assert.Equal(t, int64(300), shared.TotalAskSize)
	require.Len(t, shared.Asks, 1)
	assert.Equal(t, "a-0", shared.Asks[0].ID)
	require.Len(t, shared.Bids, 1)
	assert.Equal(t, "b-3", shared.Bids[0].ID)
	assert.Equal(t, 3, shared.Bids[0].Priority)
}

func TestBuildBook_AggregatesAndCapsOrders(t *testing.T) {
	quotes := []domain.Quote{
		{BidQty: "10", BidPrice: 100},
		{BidQty: "20", BidPrice: 100.001},
		{BidQty: "30", BidPrice: 99.999},
		{BidQty: "40", BidPrice: 100},
	}
	book := BuildBook(quotes)
	require.Len(t, book, 1)
	assert.Equal(t, "100.00", book[0].Key)
	assert.Equal(t, int64(100), book[0].TotalBidSize)
	assert.Len(t, book[0].Bids, maxOrdersPerSide)
}

func TestBuildBook_Idempotent(t *testing.T) {
	quotes := depth()
	first := BuildBook(quotes)
	second := BuildBook(quotes)
	assert.Equal(t, first, second)

	// mutating one result must not leak into a rebuild
	first[0].TotalAskSize = 1
	first[0].Asks[0].Size = 1
	assert.Equal(t, second, BuildBook(quotes))
}

func TestBuildBook_Degenerate(t *testing.T) {
	assert.Empty(t, BuildBook(nil))
	assert.Empty(t, BuildBook([]domain.Quote{{BidQty: "10"}, {AskQty: "10"}}))
}
