package engine

import "orderflow_go/internal/domain"

// ApplyCVD adds the signed size of tr to the running CVD and folds it into
// the session VWAP. CVD is never reset for the life of the state.
func ApplyCVD(st *domain.InstrumentState, tr domain.Trade) {
	st.GlobalCVD += tr.SignedSize()

	st.VWAPNotional += tr.Price * float64(tr.Size)
	st.VWAPVolume += tr.Size
	if st.VWAPVolume > 0 {
		st.VWAP = domain.RoundPrice(st.VWAPNotional / float64(st.VWAPVolume))
	}
}

// ApplyOpenInterest folds an absolute OI reading into the state. The first
// reading (stored OI of zero) becomes the baseline with zero delta.
func ApplyOpenInterest(st *domain.InstrumentState, oi int64) {
	if st.OpenInterest == 0 {
		st.OpenInterest = oi
		st.OpenInterestDelta = 0
		return
	}
	delta := oi - st.OpenInterest
	st.OpenInterestDelta = delta
	st.OpenInterestChange += delta
	st.OpenInterest = oi
}
