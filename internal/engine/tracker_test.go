package engine

import (
	"testing"
	"time"

	"orderflow_go/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestApplyOpenInterest(t *testing.T) {
	st := domain.NewInstrumentState("k", 100, time.Unix(0, 0))

	ApplyOpenInterest(st, 5000)
	assert.Equal(t, int64(5000), st.OpenInterest)
	assert.Zero(t, st.OpenInterestDelta)
	assert.Zero(t, st.OpenInterestChange)

	ApplyOpenInterest(st, 5300)
	ApplyOpenInterest(st, 5100)
	assert.Equal(t, int64(5100), st.OpenInterest)
	assert.Equal(t, int64(-200), st.OpenInterestDelta)
	assert.Equal(t, int64(100), st.OpenInterestChange)
}

func TestApplyCVD_VWAP(t *testing.T) {
	st := domain.NewInstrumentState("k", 100, time.Unix(0, 0))

	ApplyCVD(st, domain.Trade{Price: 100, Size: 30, Side: domain.SideAsk})
	ApplyCVD(st, domain.Trade{Price: 101, Size: 10, Side: domain.SideBid})

	assert.Equal(t, int64(20), st.GlobalCVD)
	assert.Equal(t, int64(40), st.VWAPVolume)
	assert.Equal(t, 100.25, st.VWAP)
}
