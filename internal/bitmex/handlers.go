package bitmex

import (
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quayside/bitmexgw/internal/observability"
	"github.com/quayside/bitmexgw/internal/schema"
)

// stateCache rebuilds trading state from stream records. All maps except
// ticks are touched only by the stream reader goroutine; ticks additionally
// takes a mutex because subscriptions arrive from the host context. The cache
// deliberately survives reconnects: snapshots replayed by the venue reconcile
// entries last-writer-wins, and the execution dedup set must persist so
// resent fills are not delivered twice.
type stateCache struct {
	sink EventSink
	log  observability.Logger

	mu    sync.Mutex
	ticks map[string]schema.TickData

	orders   map[string]schema.OrderData // keyed by venue order id
	margins  map[string]marginState      // keyed by account id
	execSeen map[string]struct{}         // execIDs already emitted; grow-only
}

// marginState carries the raw venue balances a margin update is folded into.
type marginState struct {
	balance   decimal.Decimal
	available decimal.Decimal
}

func newStateCache(sink EventSink, log observability.Logger) *stateCache {
	if log == nil {
		log = observability.Log()
	}
	return &stateCache{
		sink:     sink,
		log:      log,
		ticks:    make(map[string]schema.TickData),
		orders:   make(map[string]schema.OrderData),
		margins:  make(map[string]marginState),
		execSeen: make(map[string]struct{}),
	}
}

// subscribe registers a symbol for tick emissions. Topics are subscribed
// wholesale on the stream; only symbols registered here produce ticks.
func (c *stateCache) subscribe(symbol string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ticks[symbol]; ok {
		return
	}
	c.ticks[symbol] = schema.TickData{Symbol: symbol, Name: symbol, Timestamp: now}
}

func (c *stateCache) decode(topic string, raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		c.log.Warn("drop malformed stream record",
			observability.String("topic", topic), observability.Err(err))
		return false
	}
	return true
}

// onPublicTrade folds a public trade into the subscribed symbol's tick.
func (c *stateCache) onPublicTrade(raw json.RawMessage) {
	var msg publicTradeMsg
	if !c.decode(topicTrade, raw, &msg) {
		return
	}

	c.mu.Lock()
	tick, ok := c.ticks[msg.Symbol]
	if !ok {
		c.mu.Unlock()
		return
	}
	tick.LastPrice = msg.Price
	tick.Timestamp = msg.Timestamp
	c.ticks[msg.Symbol] = tick
	c.mu.Unlock()

	c.sink.OnTick(tick)
}

// onOrderBook replaces the tick's top-5 ladder. Levels past the fifth are
// ignored; sides the update shorts out are zeroed.
func (c *stateCache) onOrderBook(raw json.RawMessage) {
	var msg orderBookMsg
	if !c.decode(topicOrderBook, raw, &msg) {
		return
	}

	c.mu.Lock()
	tick, ok := c.ticks[msg.Symbol]
	if !ok {
		c.mu.Unlock()
		return
	}
	tick.Bids = ladder(msg.Bids)
	tick.Asks = ladder(msg.Asks)
	tick.Timestamp = msg.Timestamp
	c.ticks[msg.Symbol] = tick
	c.mu.Unlock()

	c.sink.OnTick(tick)
}

func ladder(levels [][]decimal.Decimal) [schema.DepthLevels]schema.Level {
	var out [schema.DepthLevels]schema.Level
	for i, level := range levels {
		if i >= schema.DepthLevels {
			break
		}
		if len(level) < 2 {
			continue
		}
		out[i] = schema.Level{Price: level[0], Size: level[1]}
	}
	return out
}

// onExecution emits one trade per unique fill. Funding and settlement rows
// arrive on the same topic with no side or no quantity and are skipped.
func (c *stateCache) onExecution(raw json.RawMessage) {
	var msg executionMsg
	if !c.decode(topicExecution, raw, &msg) {
		return
	}
	if msg.Side == "" || msg.LastQty.IsZero() {
		return
	}
	if _, seen := c.execSeen[msg.ExecID]; seen {
		return
	}
	c.execSeen[msg.ExecID] = struct{}{}

	orderID := msg.ClOrdID
	if orderID == "" {
		orderID = msg.OrderID
	}

	c.sink.OnTrade(schema.TradeData{
		Symbol:    msg.Symbol,
		OrderID:   orderID,
		TradeID:   msg.ExecID,
		Direction: directionFromVenue[msg.Side],
		Price:     msg.LastPx,
		Quantity:  msg.LastQty,
		Timestamp: msg.Timestamp,
	})
}

// onOrder applies a partial order update. Records without ordStatus are
// acknowledgment noise and ignored. The cached record is created from the
// stream alone when the REST insert has not landed yet; present fields
// overwrite, absent fields keep their cached values, unknown venue statuses
// leave the cached status untouched.
func (c *stateCache) onOrder(raw json.RawMessage) {
	var msg orderMsg
	if !c.decode(topicOrder, raw, &msg) {
		return
	}
	if msg.OrdStatus == nil {
		return
	}

	order, ok := c.orders[msg.OrderID]
	if !ok {
		orderID := msg.ClOrdID
		if orderID == "" {
			orderID = msg.OrderID
		}
		order = schema.OrderData{
			Symbol:       msg.Symbol,
			OrderID:      orderID,
			VenueOrderID: msg.OrderID,
			Type:         orderTypeFromVenue[msg.OrdType],
			Direction:    directionFromVenue[msg.Side],
		}
	}

	if msg.Price != nil {
		order.Price = *msg.Price
	}
	if msg.OrderQty != nil {
		order.Quantity = *msg.OrderQty
	}
	if msg.CumQty != nil {
		order.Filled = *msg.CumQty
	}
	if mapped, known := statusFromVenue[*msg.OrdStatus]; known {
		order.Status = mapped
	}
	if !msg.Timestamp.IsZero() {
		order.Timestamp = msg.Timestamp
	}
	c.orders[msg.OrderID] = order

	c.sink.OnOrder(order)
}

// onPosition passes net position updates straight through.
func (c *stateCache) onPosition(raw json.RawMessage) {
	var msg positionMsg
	if !c.decode(topicPosition, raw, &msg) {
		return
	}

	pos := schema.PositionData{Symbol: msg.Symbol, Direction: schema.DirectionNet}
	if msg.CurrentQty != nil {
		pos.Quantity = *msg.CurrentQty
	}
	c.sink.OnPosition(pos)
}

// onMargin folds margin balances into the account record; frozen funds are
// the exact difference between balance and available.
func (c *stateCache) onMargin(raw json.RawMessage) {
	var msg marginMsg
	if !c.decode(topicMargin, raw, &msg) {
		return
	}

	accountID := strconv.FormatInt(msg.Account, 10)
	state := c.margins[accountID]
	if msg.MarginBalance != nil {
		state.balance = *msg.MarginBalance
	}
	if msg.AvailableMargin != nil {
		state.available = *msg.AvailableMargin
	}
	c.margins[accountID] = state

	c.sink.OnAccount(schema.AccountData{
		AccountID: accountID,
		Balance:   state.balance,
		Frozen:    state.balance.Sub(state.available),
	})
}

// onInstrument emits contract definitions. Only records carrying a tick size
// and a non-zero lot size qualify; indices and settlement pseudo-instruments
// lack one or both.
func (c *stateCache) onInstrument(raw json.RawMessage) {
	var msg instrumentMsg
	if !c.decode(topicInstrument, raw, &msg) {
		return
	}
	if msg.TickSize == nil {
		return
	}
	if msg.LotSize == nil || msg.LotSize.IsZero() {
		return
	}

	c.sink.OnContract(schema.ContractData{
		Symbol:        msg.Symbol,
		Name:          msg.Symbol,
		Product:       schema.ProductFutures,
		PriceTick:     *msg.TickSize,
		Size:          *msg.LotSize,
		StopSupported: true,
		NetPosition:   true,
		HistoryData:   true,
	})
}
