package bitmex

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quayside/bitmexgw/config"
	"github.com/quayside/bitmexgw/errs"
	"github.com/quayside/bitmexgw/internal/bus/eventbus"
	"github.com/quayside/bitmexgw/internal/observability"
	"github.com/quayside/bitmexgw/internal/risk"
	"github.com/quayside/bitmexgw/internal/schema"
	"github.com/quayside/bitmexgw/internal/telemetry"
)

const closeTimeout = 5 * time.Second

// Gateway is the venue adapter facade. It owns the REST pipeline, the stream
// session, and the shared state cache, and publishes every normalized record
// to the event bus. One Gateway serves one credential pair on one deployment.
type Gateway struct {
	opts    Options
	bus     eventbus.Bus
	log     observability.Logger
	metrics *telemetry.GatewayMetrics

	governor *rateGovernor
	rest     *RestClient
	stream   *streamClient
	cache    *stateCache
	gate     *risk.Gate

	started    atomic.Bool
	tickerStop chan struct{}
	tickerDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New assembles a Gateway from settings. The bus is required; logger and
// metrics fall back to package defaults and no-ops.
func New(
	cfg config.Settings,
	bus eventbus.Bus,
	log observability.Logger,
	metrics *telemetry.GatewayMetrics,
) (*Gateway, error) {
	if bus == nil {
		return nil, errs.New(venueName, errs.CodeInvalid, errs.WithMessage("event bus required"))
	}
	if log == nil {
		log = observability.Log()
	}

	gate, err := risk.New(cfg.Risk)
	if err != nil {
		return nil, err
	}

	opts := withDefaults(OptionsFromConfig(cfg))
	g := &Gateway{
		opts:    opts,
		bus:     bus,
		log:     log,
		metrics: metrics,
		gate:    gate,
	}

	signer := NewSigner(opts.APIKey, opts.APISecret)
	g.governor = newRateGovernor(opts.RateLimit)
	g.cache = newStateCache(g, log)

	g.rest, err = newRestClient(opts, signer, g.governor, g, log, metrics)
	if err != nil {
		return nil, err
	}
	g.stream, err = newStreamClient(opts, signer, g.cache, g, log, metrics)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Name returns the venue identifier stamped on published events.
func (g *Gateway) Name() string { return venueName }

// Connect starts both channels and the quota replenisher. The stream keeps
// redialing in the background even when the first connection times out, so a
// returned error means "not ready yet", not "gave up".
func (g *Gateway) Connect(ctx context.Context) error {
	if !g.started.CompareAndSwap(false, true) {
		return errs.New(venueName, errs.CodeInvalid, errs.WithMessage("gateway already connected"))
	}

	g.rest.Start(time.Now())

	g.tickerStop = make(chan struct{})
	g.tickerDone = make(chan struct{})
	go g.replenishLoop()

	return g.stream.Start(ctx)
}

// Subscribe registers interest in one instrument's market data. Ticks for the
// symbol start flowing once the stream delivers trades or book updates.
func (g *Gateway) Subscribe(req schema.SubscribeRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	g.cache.subscribe(req.Symbol, time.Now())
	return nil
}

// SendOrder places an order and returns its client order id. The id is usable
// for cancellation immediately, before any venue acknowledgement.
func (g *Gateway) SendOrder(ctx context.Context, req schema.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := g.gate.Allow(ctx, req); err != nil {
		return "", err
	}
	return g.rest.SendOrder(ctx, req)
}

// CancelOrder requests cancellation by client or venue order id.
func (g *Gateway) CancelOrder(ctx context.Context, req schema.CancelRequest) error {
	return g.rest.CancelOrder(ctx, req)
}

// QueryHistory downloads historical bars, paging until the requested range is
// covered. Partial results are returned with the error that cut them short.
func (g *Gateway) QueryHistory(ctx context.Context, req schema.HistoryRequest) ([]schema.BarData, error) {
	return g.rest.QueryHistory(ctx, req)
}

// Close stops the stream, drains queued REST work, and halts the replenisher.
// Safe to call more than once; later calls return the first result.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		if g.tickerStop != nil {
			close(g.tickerStop)
			<-g.tickerDone
		}

		g.stream.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		restErr := g.rest.Stop(ctx)

		g.closeErr = errs.Aggregate(venueName, errs.CodeUnavailable, "close gateway", restErr)
		if g.closeErr != nil {
			g.log.Error("gateway close incomplete", observability.Err(g.closeErr))
		}
		g.log.Info("gateway closed")
	})
	return g.closeErr
}

// replenishLoop restores one quota unit per second and counts penalty windows
// down, mirroring the venue's advertised steady-state refill.
func (g *Gateway) replenishLoop() {
	defer close(g.tickerDone)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-g.tickerStop:
			return
		case <-ticker.C:
			g.governor.Tick()
			_, remaining, penalty := g.governor.Snapshot()
			g.metrics.RecordQuota(context.Background(), remaining, penalty)
		}
	}
}

// Gateway is the production EventSink: every record the cache or the REST
// pipeline emits becomes a bus event. Records are values, so subscribers can
// never observe later cache mutations.

func (g *Gateway) OnTick(tick schema.TickData) { g.publish(schema.EventTick, tick.Symbol, tick) }

func (g *Gateway) OnOrder(order schema.OrderData) {
	g.publish(schema.EventOrder, order.Symbol, order)
}

func (g *Gateway) OnTrade(trade schema.TradeData) {
	g.publish(schema.EventTrade, trade.Symbol, trade)
}

func (g *Gateway) OnPosition(position schema.PositionData) {
	g.publish(schema.EventPosition, position.Symbol, position)
}

func (g *Gateway) OnAccount(account schema.AccountData) {
	g.publish(schema.EventAccount, "", account)
}

func (g *Gateway) OnContract(contract schema.ContractData) {
	g.publish(schema.EventContract, contract.Symbol, contract)
}

func (g *Gateway) OnLog(msg string) {
	g.publish(schema.EventLog, "", schema.LogData{Message: msg, Timestamp: time.Now()})
}

func (g *Gateway) OnError(err error) {
	g.log.Error("gateway error", observability.Err(err))
	g.publish(schema.EventError, "", err)
}

func (g *Gateway) publish(typ schema.EventType, symbol string, payload any) {
	evt := schema.Event{
		Type:    typ,
		Source:  venueName,
		Symbol:  symbol,
		Payload: payload,
	}
	if err := g.bus.Publish(context.Background(), evt); err != nil {
		g.log.Debug("drop event: bus unavailable",
			observability.String("event_type", string(typ)), observability.Err(err))
	}
}
