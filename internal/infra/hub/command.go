package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/event"
)

// command is a control message sent by a UI client, e.g.
//
//	{"action":"select","key":"NSE_FO|49543","price":24100}
//	{"action":"iceberg","side":"BID"}
type command struct {
	Action string  `json:"action"`
	Key    string  `json:"key"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Side   string  `json:"side"`
}

var errUnknownAction = errors.New("unknown action")

// ParseCommand decodes a client message into the event it requests.
func ParseCommand(data []byte) (event.Event, error) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("bad command: %w", err)
	}

	switch strings.ToLower(cmd.Action) {
	case "select":
		if cmd.Key == "" {
			return nil, fmt.Errorf("select: %w", domain.ErrMissingField)
		}
		return &event.SelectEvent{Key: cmd.Key, RefPrice: cmd.Price}, nil

	case "add_instrument":
		if cmd.Key == "" {
			return nil, fmt.Errorf("add_instrument: %w", domain.ErrMissingField)
		}
		return &event.AddInstrumentEvent{Key: cmd.Key, Name: cmd.Name}, nil

	case "iceberg":
		side := domain.Side(strings.ToUpper(cmd.Side))
		if side != domain.SideBid && side != domain.SideAsk {
			return nil, fmt.Errorf("iceberg side %q: %w", cmd.Side, domain.ErrInvalidValue)
		}
		return &event.IcebergEvent{Side: side}, nil

	case "reset":
		if cmd.Key == "" {
			return nil, fmt.Errorf("reset: %w", domain.ErrMissingField)
		}
		return &event.ResetEvent{Key: cmd.Key}, nil
	}
	return nil, fmt.Errorf("%q: %w", cmd.Action, errUnknownAction)
}
