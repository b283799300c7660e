package engine

import (
	"math"
	"sort"

	"orderflow_go/internal/domain"
)

// DefaultValueAreaFraction is the share of volume the value area must hold.
const DefaultValueAreaFraction = 0.70

type bucket struct {
	price  float64
	volume int64
}

// BuildProfile derives POC, VAH and VAL from the traded volume of bars.
// With no traded volume it returns the Empty sentinel.
func BuildProfile(bars []domain.FootprintBar, fraction float64) domain.AuctionProfile {
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultValueAreaFraction
	}

	hist := make(map[string]*bucket)
	var total int64
	for _, b := range bars {
		for _, l := range b.Levels {
			v := l.Volume()
			if v <= 0 {
				continue
			}
			bk, ok := hist[l.Key]
			if !ok {
				bk = &bucket{price: l.Price}
				hist[l.Key] = bk
			}
			bk.volume += v
			total += v
		}
	}
	if total == 0 {
		return domain.AuctionProfile{Empty: true}
	}

	buckets := make([]bucket, 0, len(hist))
	for _, bk := range hist {
		buckets = append(buckets, *bk)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return domain.ComparePrice(buckets[i].price, buckets[j].price) < 0
	})

	poc := 0
	for i, bk := range buckets {
		// ascending order, so >= hands ties to the higher price
		if bk.volume >= buckets[poc].volume {
			poc = i
		}
	}

	target := int64(math.Ceil(fraction*float64(total) - 1e-9))
	lo, hi := poc, poc
	acc := buckets[poc].volume
	for acc < target && (lo > 0 || hi < len(buckets)-1) {
		above, below := int64(-1), int64(-1)
		if hi+1 < len(buckets) {
			above = buckets[hi+1].volume
		}
		if lo > 0 {
			below = buckets[lo-1].volume
		}
		if above >= below {
			hi++
			acc += above
		} else {
			lo--
			acc += below
		}
	}

	return domain.AuctionProfile{
		POC:         buckets[poc].price,
		VAH:         buckets[hi].price,
		VAL:         buckets[lo].price,
		TotalVolume: total,
	}
}
