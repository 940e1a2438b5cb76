// Package schema defines the normalized trading records exchanged between the
// gateway and its host. All records are plain value types: assignment yields an
// independent copy (decimal values are immutable, ladders are fixed arrays), so
// a record handed to a subscriber is detached from the gateway's caches.
package schema

import "time"

// Direction of an order, trade, or position.
type Direction string

const (
	// DirectionLong buys or holds long exposure.
	DirectionLong Direction = "LONG"
	// DirectionShort sells or holds short exposure.
	DirectionShort Direction = "SHORT"
	// DirectionNet marks netted positions where sign carries the side.
	DirectionNet Direction = "NET"
)

// Valid reports whether the direction is recognised.
func (d Direction) Valid() bool {
	switch d {
	case DirectionLong, DirectionShort, DirectionNet:
		return true
	default:
		return false
	}
}

// Offset distinguishes opening from closing trades.
type Offset string

const (
	// OffsetOpen opens new exposure.
	OffsetOpen Offset = "OPEN"
	// OffsetClose reduces existing exposure.
	OffsetClose Offset = "CLOSE"
)

// OrderType identifies the execution style of an order.
type OrderType string

const (
	// OrderTypeLimit rests at a price.
	OrderTypeLimit OrderType = "LIMIT"
	// OrderTypeMarket executes immediately.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeStop triggers a market order at a stop price.
	OrderTypeStop OrderType = "STOP"
)

// Valid reports whether the order type is recognised.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeStop:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of an order.
type Status string

const (
	// StatusSubmitting is a locally created order not yet acknowledged by the venue.
	StatusSubmitting Status = "SUBMITTING"
	// StatusNotTraded is a live order with no fills.
	StatusNotTraded Status = "NOT_TRADED"
	// StatusPartTraded is a live order with partial fills.
	StatusPartTraded Status = "PART_TRADED"
	// StatusAllTraded is a fully filled order.
	StatusAllTraded Status = "ALL_TRADED"
	// StatusCancelled is an order cancelled before completion.
	StatusCancelled Status = "CANCELLED"
	// StatusRejected is an order the venue refused.
	StatusRejected Status = "REJECTED"
)

// Active reports whether the order can still trade.
func (s Status) Active() bool {
	return s == StatusSubmitting || s == StatusNotTraded || s == StatusPartTraded
}

// Interval is a historical bar bucket size.
type Interval string

const (
	// IntervalMinute is a one-minute bucket.
	IntervalMinute Interval = "1m"
	// IntervalHour is a one-hour bucket.
	IntervalHour Interval = "1h"
	// IntervalDaily is a one-day bucket.
	IntervalDaily Interval = "1d"
)

// Duration returns the wall-clock span of one bucket, or zero when unknown.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalMinute:
		return time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether the interval is recognised.
func (i Interval) Valid() bool {
	return i.Duration() != 0
}

// Product identifies the market structure of a contract.
type Product string

const (
	// ProductFutures covers dated futures and perpetual swaps.
	ProductFutures Product = "FUTURES"
)
