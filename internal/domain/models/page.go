package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LoadDirection is the side of a window a page is requested for.
type LoadDirection int

const (
	Backward LoadDirection = iota
	Forward
)

func (d LoadDirection) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// Opposite returns the other direction.
func (d LoadDirection) Opposite() LoadDirection {
	if d == Forward {
		return Backward
	}
	return Forward
}

func (d LoadDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *LoadDirection) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "backward", "left":
		*d = Backward
	case "forward", "right":
		*d = Forward
	default:
		return fmt.Errorf("unknown load direction %q", b)
	}
	return nil
}

// CandleColumns is the columnar candle encoding used by the remote store.
type CandleColumns struct {
	T []int64   `json:"t"`
	O []float64 `json:"o"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	C []float64 `json:"c"`
	V []float64 `json:"v"`
}

// Candles zips the columns, stopping at the shortest one.
func (cc CandleColumns) Candles() []Candle {
	n := len(cc.T)
	for _, l := range []int{len(cc.O), len(cc.H), len(cc.L), len(cc.C), len(cc.V)} {
		if l < n {
			n = l
		}
	}
	out := make([]Candle, n)
	for i := 0; i < n; i++ {
		out[i] = Candle{T: cc.T[i], Open: cc.O[i], High: cc.H[i], Low: cc.L[i], Close: cc.C[i], Volume: cc.V[i]}
	}
	return out
}

// CandlePage is one page of the cursor-paginated candles endpoint.
type CandlePage struct {
	Data         CandleColumns `json:"data"`
	PrevCursor   *int64        `json:"prev_cursor"`
	NextCursor   *int64        `json:"next_cursor"`
	HasMoreLeft  bool          `json:"has_more_left"`
	HasMoreRight bool          `json:"has_more_right"`
}

// SmartPage is the seeding response of the smart endpoint.
type SmartPage struct {
	Data         []Candle `json:"-"`
	Total        int64    `json:"total"`
	Returned     int      `json:"returned"`
	FirstCursor  *int64   `json:"first_cursor"`
	LastCursor   *int64   `json:"last_cursor"`
	HasMoreLeft  bool     `json:"has_more_left"`
	HasMoreRight bool     `json:"has_more_right"`
}

// UnmarshalJSON accepts data either as row objects or as column arrays.
func (p *SmartPage) UnmarshalJSON(b []byte) error {
	type alias SmartPage
	aux := struct {
		*alias
		Data json.RawMessage `json:"data"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	raw := bytes.TrimSpace(aux.Data)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		p.Data = nil
	case raw[0] == '[':
		if err := json.Unmarshal(raw, &p.Data); err != nil {
			return fmt.Errorf("smart rows: %w", err)
		}
	default:
		var cols CandleColumns
		if err := json.Unmarshal(raw, &cols); err != nil {
			return fmt.Errorf("smart columns: %w", err)
		}
		p.Data = cols.Candles()
	}
	return nil
}

// PageRequest asks for the next page from a cursor.
type PageRequest struct {
	FileID    string
	Timeframe string
	Limit     int
	Cursor    int64
	Direction LoadDirection
}

// SmartRequest asks for an initial window anchored at one end of a range.
type SmartRequest struct {
	FileID    string
	Timeframe string
	Limit     int
	Anchor    string // "start" or "end"
	Bounds    SessionBounds
}

// SessionBounds restricts a window to [StartTs, EndTs]. Zero means unbounded.
type SessionBounds struct {
	StartTs int64 `json:"start_ts,omitempty"`
	EndTs   int64 `json:"end_ts,omitempty"`
}

// Contains reports whether ts lies within the bounds.
func (b SessionBounds) Contains(ts int64) bool {
	if b.StartTs != 0 && ts < b.StartTs {
		return false
	}
	if b.EndTs != 0 && ts > b.EndTs {
		return false
	}
	return true
}

// EvictionEvent tells a viewport that Count candles were dropped from a window
// while loading in Direction. Viewports shift their offset to stay stationary.
type EvictionEvent struct {
	SessionID string        `json:"session_id"`
	FileID    string        `json:"file_id"`
	Timeframe string        `json:"timeframe"`
	Direction LoadDirection `json:"direction"`
	Count     int           `json:"count"`
	At        time.Time     `json:"at"`
}
