package bitmex

import (
	"bytes"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quayside/bitmexgw/errs"
	"github.com/quayside/bitmexgw/internal/schema"
)

// streamOp is an outbound websocket control message.
type streamOp struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

// streamEnvelope is one inbound websocket message, classified by which keys
// are present: error → error notice, request → op acknowledgment,
// table → topic data. Optional fields are pointers so presence survives
// decoding.
type streamEnvelope struct {
	Error   *string         `json:"error"`
	Request *streamOpEcho   `json:"request"`
	Success bool            `json:"success"`
	Table   string          `json:"table"`
	Data    json.RawMessage `json:"data"`
}

type streamOpEcho struct {
	Op string `json:"op"`
}

// splitRecords normalizes a topic payload to a record list; the venue sends
// either a single object or an array.
func splitRecords(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, errs.New(venueName, errs.CodeMalformed,
			errs.WithMessage("topic data is neither object nor array"), errs.WithCause(err))
	}
	return records, nil
}

// Topic record shapes. Fields the venue omits on partial updates are
// pointers; nil means "leave the cached value alone".

type instrumentMsg struct {
	Symbol   string           `json:"symbol"`
	TickSize *decimal.Decimal `json:"tickSize"`
	LotSize  *decimal.Decimal `json:"lotSize"`
}

type publicTradeMsg struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

type orderBookMsg struct {
	Symbol    string              `json:"symbol"`
	Bids      [][]decimal.Decimal `json:"bids"`
	Asks      [][]decimal.Decimal `json:"asks"`
	Timestamp time.Time           `json:"timestamp"`
}

type executionMsg struct {
	Symbol    string          `json:"symbol"`
	ExecID    string          `json:"execID"`
	OrderID   string          `json:"orderID"`
	ClOrdID   string          `json:"clOrdID"`
	Side      string          `json:"side"`
	LastQty   decimal.Decimal `json:"lastQty"`
	LastPx    decimal.Decimal `json:"lastPx"`
	Timestamp time.Time       `json:"timestamp"`
}

type orderMsg struct {
	Symbol    string           `json:"symbol"`
	OrderID   string           `json:"orderID"`
	ClOrdID   string           `json:"clOrdID"`
	Side      string           `json:"side"`
	OrdType   string           `json:"ordType"`
	Price     *decimal.Decimal `json:"price"`
	OrderQty  *decimal.Decimal `json:"orderQty"`
	CumQty    *decimal.Decimal `json:"cumQty"`
	OrdStatus *string          `json:"ordStatus"`
	Timestamp time.Time        `json:"timestamp"`
}

type positionMsg struct {
	Symbol     string           `json:"symbol"`
	CurrentQty *decimal.Decimal `json:"currentQty"`
}

type marginMsg struct {
	Account         int64            `json:"account"`
	MarginBalance   *decimal.Decimal `json:"marginBalance"`
	AvailableMargin *decimal.Decimal `json:"availableMargin"`
}

// REST bodies.

// venueError is the venue's structured REST error payload.
type venueError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// bucketedBar is one row of GET /trade/bucketed.
type bucketedBar struct {
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Venue vocabulary. Unlisted inbound values deliberately map to zero values
// so callers can keep prior state (unknown order statuses) or drop the record.

var statusFromVenue = map[string]schema.Status{
	"New":              schema.StatusNotTraded,
	"Partially filled": schema.StatusPartTraded,
	"Filled":           schema.StatusAllTraded,
	"Canceled":         schema.StatusCancelled,
	"Rejected":         schema.StatusRejected,
}

var directionToVenue = map[schema.Direction]string{
	schema.DirectionLong:  "Buy",
	schema.DirectionShort: "Sell",
}

var directionFromVenue = map[string]schema.Direction{
	"Buy":  schema.DirectionLong,
	"Sell": schema.DirectionShort,
}

var orderTypeToVenue = map[schema.OrderType]string{
	schema.OrderTypeLimit:  "Limit",
	schema.OrderTypeMarket: "Market",
	schema.OrderTypeStop:   "Stop",
}

var orderTypeFromVenue = map[string]schema.OrderType{
	"Limit":  schema.OrderTypeLimit,
	"Market": schema.OrderTypeMarket,
	"Stop":   schema.OrderTypeStop,
}
