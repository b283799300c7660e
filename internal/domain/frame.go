package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Message types relayed by the bridge.
const (
	MsgLiveFeed         = "live_feed"
	MsgInitialFeed      = "initial_feed"
	MsgQuoteResponse    = "quote_response"
	MsgConnectionStatus = "connection_status"
	MsgError            = "error"
)

// NumString accepts a JSON string or number and keeps its textual form.
// Vendor feeds are inconsistent about quoting counters.
type NumString string

func (n *NumString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NumString(strings.TrimSpace(s))
		return nil
	}
	*n = NumString(data)
	return nil
}

// Int parses the value as a non-negative integer quantity. Decimal text such
// as "150.0" is accepted and truncated.
func (n NumString) Int() (int64, bool) {
	if n == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		if v < 0 {
			return 0, false
		}
		return v, true
	}
	f, err := strconv.ParseFloat(string(n), 64)
	// values past int64 would wrap on conversion
	if err != nil || math.IsNaN(f) || f < 0 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Quote is one rung of a depth snapshot.
type Quote struct {
	BidQty   NumString `json:"bidQ"`
	BidPrice float64   `json:"bidP"`
	AskQty   NumString `json:"askQ"`
	AskPrice float64   `json:"askP"`
}

// Frame is one inbound feed message covering any number of instruments.
type Frame struct {
	Type      string                    `json:"type"`
	Feeds     map[string]InstrumentFeed `json:"feeds"`
	CurrentTs string                    `json:"currentTs"`
}

// InstrumentFeed is the per-instrument payload of a frame.
type InstrumentFeed struct {
	FullFeed struct {
		MarketFF *MarketFF `json:"marketFF"`
	} `json:"fullFeed"`
}

// MarketFF carries the market fields of a full feed.
type MarketFF struct {
	LTPC *struct {
		LTP float64   `json:"ltp"`
		LTQ NumString `json:"ltq"`
		CP  float64   `json:"cp"`
	} `json:"ltpc"`
	MarketLevel *struct {
		BidAskQuote []Quote `json:"bidAskQuote"`
	} `json:"marketLevel"`
	VTT NumString `json:"vtt"`
	OI  NumString `json:"oi"`
}

// Keys returns the instrument keys of the frame in a stable order.
func (f *Frame) Keys() []string {
	keys := make([]string, 0, len(f.Feeds))
	for k := range f.Feeds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FeedUpdate is the validated, flattened view of one instrument's feed entry.
type FeedUpdate struct {
	Key          string
	LTP          float64
	LastTradeQty int64
	ClosePrice   float64
	Quotes       []Quote
	HasBook      bool
	Volume       int64
	HasVolume    bool
	OpenInterest int64
	HasOI        bool
}

// Parse validates the entry for key. A missing or non-positive LTP, or a
// present but unparsable cumulative volume, is malformed. An absent volume
// means a price/book-only update.
func (f InstrumentFeed) Parse(key string) (FeedUpdate, error) {
	ff := f.FullFeed.MarketFF
	if ff == nil || ff.LTPC == nil {
		return FeedUpdate{}, &MalformedFeedError{Key: key, Field: "ltpc", Err: ErrMissingField}
	}
	if ff.LTPC.LTP <= 0 {
		return FeedUpdate{}, &MalformedFeedError{Key: key, Field: "ltp", Err: fmt.Errorf("%w: %v", ErrInvalidValue, ff.LTPC.LTP)}
	}

	u := FeedUpdate{
		Key:        key,
		LTP:        ff.LTPC.LTP,
		ClosePrice: ff.LTPC.CP,
	}
	u.LastTradeQty, _ = ff.LTPC.LTQ.Int()

	if ff.MarketLevel != nil && ff.MarketLevel.BidAskQuote != nil {
		u.Quotes = ff.MarketLevel.BidAskQuote
		u.HasBook = true
	}

	if ff.VTT != "" {
		v, ok := ff.VTT.Int()
		if !ok {
			return FeedUpdate{}, &MalformedFeedError{Key: key, Field: "vtt", Err: fmt.Errorf("%w: %q", ErrInvalidValue, ff.VTT)}
		}
		u.Volume = v
		u.HasVolume = true
	}

	if oi, ok := ff.OI.Int(); ok {
		u.OpenInterest = oi
		u.HasOI = true
	}
	return u, nil
}
