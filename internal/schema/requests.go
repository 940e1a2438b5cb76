package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quayside/bitmexgw/errs"
)

// OrderRequest asks the gateway to place one order.
type OrderRequest struct {
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Type      OrderType       `json:"type"`
	Offset    Offset          `json:"offset,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Validate checks the request before it enters the command pipeline.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("order request requires a symbol"))
	}
	if !r.Type.Valid() {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("unsupported order type "+string(r.Type)))
	}
	if r.Direction != DirectionLong && r.Direction != DirectionShort {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("order direction must be long or short"))
	}
	if !r.Quantity.IsPositive() {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("order quantity must be positive"))
	}
	if r.Type != OrderTypeMarket && !r.Price.IsPositive() {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("order price must be positive"))
	}
	return nil
}

// CancelRequest asks the gateway to cancel one order by its correlation id.
type CancelRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id"`
}

// Validate checks the request before it enters the command pipeline.
func (r CancelRequest) Validate() error {
	if r.OrderID == "" {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("cancel request requires an order id"))
	}
	return nil
}

// SubscribeRequest registers interest in one instrument's market data.
type SubscribeRequest struct {
	Symbol string `json:"symbol"`
}

// Validate checks the request.
func (r SubscribeRequest) Validate() error {
	if r.Symbol == "" {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("subscribe request requires a symbol"))
	}
	return nil
}

// HistoryRequest asks for historical bars from Start (inclusive) to End;
// a zero End means "up to now".
type HistoryRequest struct {
	Symbol   string    `json:"symbol"`
	Interval Interval  `json:"interval"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
}

// Validate checks the request.
func (r HistoryRequest) Validate() error {
	if r.Symbol == "" {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("history request requires a symbol"))
	}
	if !r.Interval.Valid() {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("unsupported interval "+string(r.Interval)))
	}
	if r.Start.IsZero() {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("history request requires a start time"))
	}
	return nil
}
