package schema

import "time"

// EventType labels records delivered on the event bus.
type EventType string

const (
	// EventTick carries TickData.
	EventTick EventType = "TICK"
	// EventOrder carries OrderData.
	EventOrder EventType = "ORDER"
	// EventTrade carries TradeData.
	EventTrade EventType = "TRADE"
	// EventPosition carries PositionData.
	EventPosition EventType = "POSITION"
	// EventAccount carries AccountData.
	EventAccount EventType = "ACCOUNT"
	// EventContract carries ContractData.
	EventContract EventType = "CONTRACT"
	// EventLog carries LogData.
	EventLog EventType = "LOG"
	// EventError carries an error value.
	EventError EventType = "ERROR"
)

// Valid reports whether the event type is recognised.
func (t EventType) Valid() bool {
	switch t {
	case EventTick, EventOrder, EventTrade, EventPosition,
		EventAccount, EventContract, EventLog, EventError:
		return true
	default:
		return false
	}
}

// Event is the envelope delivered to bus subscribers. Payload holds the
// record value named by Type.
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Source  string    `json:"source"`
	Symbol  string    `json:"symbol,omitempty"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}
