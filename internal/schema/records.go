package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepthLevels is the ladder depth carried on tick snapshots.
const DepthLevels = 5

// Level is one rung of a depth ladder.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// TickData is the latest market snapshot for one instrument: last trade price
// plus the top of the order book. Bids[0] and Asks[0] are the best levels.
type TickData struct {
	Symbol    string             `json:"symbol"`
	Name      string             `json:"name,omitempty"`
	LastPrice decimal.Decimal    `json:"last_price"`
	Bids      [DepthLevels]Level `json:"bids"`
	Asks      [DepthLevels]Level `json:"asks"`
	Timestamp time.Time          `json:"timestamp"`
}

// OrderData is the gateway's view of one order. OrderID is the id used for
// correlation upward: the client-generated id when the order is ours, the
// venue-assigned id otherwise. VenueOrderID is recorded once learned.
type OrderData struct {
	Symbol       string          `json:"symbol"`
	OrderID      string          `json:"order_id"`
	VenueOrderID string          `json:"venue_order_id,omitempty"`
	Type         OrderType       `json:"type"`
	Direction    Direction       `json:"direction"`
	Offset       Offset          `json:"offset,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Filled       decimal.Decimal `json:"filled"`
	Status       Status          `json:"status"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Active reports whether the order can still trade.
func (o OrderData) Active() bool { return o.Status.Active() }

// TradeData is one fill of an order.
type TradeData struct {
	Symbol    string          `json:"symbol"`
	OrderID   string          `json:"order_id"`
	TradeID   string          `json:"trade_id"`
	Direction Direction       `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// PositionData is the netted position for one instrument; Quantity is signed.
type PositionData struct {
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// AccountData is one margin account balance. Available funds are derived.
type AccountData struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Frozen    decimal.Decimal `json:"frozen"`
}

// Available returns balance minus frozen.
func (a AccountData) Available() decimal.Decimal {
	return a.Balance.Sub(a.Frozen)
}

// ContractData describes a tradable contract definition.
type ContractData struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Product       Product         `json:"product"`
	PriceTick     decimal.Decimal `json:"price_tick"`
	Size          decimal.Decimal `json:"size"`
	StopSupported bool            `json:"stop_supported"`
	NetPosition   bool            `json:"net_position"`
	HistoryData   bool            `json:"history_data"`
}

// BarData is one time bucket of trades; Timestamp is the bucket open.
type BarData struct {
	Symbol    string          `json:"symbol"`
	Interval  Interval        `json:"interval"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// LogData is a human-readable gateway notification.
type LogData struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
