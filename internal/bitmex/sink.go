package bitmex

import "github.com/quayside/bitmexgw/internal/schema"

// EventSink receives the adapter's normalized output. Every record handed to
// a sink is a value copy detached from the adapter's caches, so sinks may
// retain records without observing later mutation. The gateway facade is the
// production sink; tests substitute their own.
type EventSink interface {
	OnTick(schema.TickData)
	OnOrder(schema.OrderData)
	OnTrade(schema.TradeData)
	OnPosition(schema.PositionData)
	OnAccount(schema.AccountData)
	OnContract(schema.ContractData)
	OnLog(msg string)
	OnError(err error)
}
