package bitmex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quayside/bitmexgw/errs"
	"github.com/quayside/bitmexgw/internal/observability"
	"github.com/quayside/bitmexgw/internal/schema"
	"github.com/quayside/bitmexgw/internal/telemetry"
	"github.com/quayside/bitmexgw/lib/async"
)

const restQueueDepth = 64

// RestClient owns the signed command channel: order placement, cancellation
// and history pagination, dispatched through a bounded session pool and gated
// by the rate governor. The stream, not the REST response, is the source of
// truth for order state; REST callbacks only assert rejection.
type RestClient struct {
	opts     Options
	http     *http.Client
	signer   *Signer
	governor *rateGovernor
	ids      *orderIDSource
	pool     *async.Pool
	sink     EventSink
	log      observability.Logger
	metrics  *telemetry.GatewayMetrics
	baseURL  string
}

func newRestClient(
	opts Options,
	signer *Signer,
	governor *rateGovernor,
	sink EventSink,
	log observability.Logger,
	metrics *telemetry.GatewayMetrics,
) (*RestClient, error) {
	opts = withDefaults(opts)
	if log == nil {
		log = observability.Log()
	}
	client, err := opts.restHTTPClient()
	if err != nil {
		return nil, err
	}
	pool, err := async.NewPool(opts.Sessions, restQueueDepth)
	if err != nil {
		return nil, err
	}
	return &RestClient{
		opts:     opts,
		http:     client,
		signer:   signer,
		governor: governor,
		ids:      newOrderIDSource(),
		pool:     pool,
		sink:     sink,
		log:      log,
		metrics:  metrics,
		baseURL:  opts.restEndpoint(),
	}, nil
}

// Start binds the connect-time epoch the client order ids are salted with.
func (c *RestClient) Start(now time.Time) {
	c.ids.bind(now)
	c.log.Info("REST API started",
		observability.String("endpoint", c.baseURL),
		observability.Int("sessions", c.opts.Sessions))
	c.sink.OnLog("REST API started")
}

// Stop drains queued commands and releases the session pool.
func (c *RestClient) Stop(ctx context.Context) error {
	return c.pool.Shutdown(ctx)
}

// SendOrder submits one order. When the governor denies quota the call
// returns an empty id and a rate-limited error without any side effect: the
// order was never sent, so it is not rejected either. Otherwise the pending
// record is emitted immediately and the signed POST runs on the session pool;
// the venue's stream delivers every later transition.
func (c *RestClient) SendOrder(ctx context.Context, req schema.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if !c.governor.TryAcquire() {
		return "", c.rateLimited(ctx, "order")
	}

	orderID := c.ids.nextID()

	form := url.Values{}
	form.Set("symbol", req.Symbol)
	form.Set("side", directionToVenue[req.Direction])
	form.Set("ordType", orderTypeToVenue[req.Type])
	form.Set("orderQty", req.Quantity.Truncate(0).String())
	form.Set("clOrdID", orderID)

	var inst []string
	switch req.Type {
	case schema.OrderTypeLimit:
		form.Set("price", req.Price.String())
	case schema.OrderTypeStop:
		form.Set("stopPx", req.Price.String())
		inst = append(inst, "LastPrice")
	}
	if req.Offset == schema.OffsetClose {
		inst = append(inst, "ReduceOnly")
	}
	if len(inst) > 0 {
		form.Set("execInst", strings.Join(inst, ","))
	}

	order := schema.OrderData{
		Symbol:    req.Symbol,
		OrderID:   orderID,
		Type:      req.Type,
		Direction: req.Direction,
		Offset:    req.Offset,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Status:    schema.StatusSubmitting,
		Timestamp: time.Now(),
	}
	c.sink.OnOrder(order)

	if err := c.pool.Submit(ctx, func(taskCtx context.Context) {
		c.completeSendOrder(taskCtx, order, form)
	}); err != nil {
		order.Status = schema.StatusRejected
		c.sink.OnOrder(order)
		return "", err
	}
	return orderID, nil
}

func (c *RestClient) completeSendOrder(ctx context.Context, order schema.OrderData, form url.Values) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.HTTPTimeout)
	defer cancel()

	status, body, err := c.do(reqCtx, http.MethodPost, "/order", nil, form)
	if err != nil {
		if isConnectivityError(err) {
			// The venue may still have accepted the order; the stream will say.
			c.log.Warn("order submit transport failure",
				observability.String("order_id", order.OrderID), observability.Err(err))
			return
		}
		order.Status = schema.StatusRejected
		c.sink.OnOrder(order)
		c.log.Error("order submit failed",
			observability.String("order_id", order.OrderID), observability.Err(err))
		return
	}
	if status/100 != 2 {
		order.Status = schema.StatusRejected
		c.sink.OnOrder(order)
		msg := fmt.Sprintf("order %s rejected by venue, status %d: %s",
			order.OrderID, status, venueErrorText(body))
		c.sink.OnLog(msg)
		c.log.Warn("order rejected by venue",
			observability.String("order_id", order.OrderID),
			observability.Err(venueRejection(status, body)))
	}
}

// CancelOrder asks the venue to cancel. Client-minted ids (all digits) route
// by clOrdID, venue-assigned ids by orderID. No local state changes here: a
// successful cancel streams back on the order topic.
func (c *RestClient) CancelOrder(ctx context.Context, req schema.CancelRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if !c.governor.TryAcquire() {
		return c.rateLimited(ctx, "order")
	}

	query := url.Values{}
	if isClientOrderID(req.OrderID) {
		query.Set("clOrdID", req.OrderID)
	} else {
		query.Set("orderID", req.OrderID)
	}

	return c.pool.Submit(ctx, func(taskCtx context.Context) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(taskCtx), c.opts.HTTPTimeout)
		defer cancel()

		status, body, err := c.do(reqCtx, http.MethodDelete, "/order", query, nil)
		if err != nil {
			c.log.Warn("order cancel transport failure",
				observability.String("order_id", req.OrderID), observability.Err(err))
			return
		}
		if status/100 != 2 {
			msg := fmt.Sprintf("cancel of %s failed, status %d: %s",
				req.OrderID, status, venueErrorText(body))
			c.sink.OnLog(msg)
			c.log.Warn("order cancel failed",
				observability.String("order_id", req.OrderID),
				observability.Err(venueRejection(status, body)))
		}
	})
}

// do signs and executes one REST call, folding the response's quota headers
// into the governor before anything else reads the body.
func (c *RestClient) do(ctx context.Context, method, path string, query, form url.Values) (int, []byte, error) {
	auth := c.signer.SignRequest(method, path, query, form, time.Now())

	endpoint := c.baseURL + path
	if auth.Query != "" {
		endpoint += "?" + auth.Query
	}

	var body io.Reader
	if auth.Body != "" {
		body = strings.NewReader(auth.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, errs.New(venueName, errs.CodeInvalid,
			errs.WithMessage("build "+method+" "+path), errs.WithCause(err))
	}
	req.Header = auth.Headers

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordRequest(ctx, path, "transport_error", time.Since(start))
		return 0, nil, errs.New(venueName, errs.CodeTransport,
			errs.WithMessage(method+" "+path+" failed"), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.governor.Observe(resp.Header)
	_, remaining, penalty := c.governor.Snapshot()
	c.metrics.RecordQuota(ctx, remaining, penalty)

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.RecordRequest(ctx, path, "transport_error", time.Since(start))
		return resp.StatusCode, nil, errs.New(venueName, errs.CodeTransport,
			errs.WithMessage("read "+method+" "+path+" response"), errs.WithCause(err))
	}

	outcome := "ok"
	if resp.StatusCode/100 != 2 {
		outcome = "venue_error"
	}
	c.metrics.RecordRequest(ctx, path, outcome, time.Since(start))
	return resp.StatusCode, payload, nil
}

func (c *RestClient) rateLimited(ctx context.Context, endpoint string) error {
	c.metrics.RecordRateLimited(ctx, endpoint)
	_, _, penalty := c.governor.Snapshot()

	var msg string
	if penalty > 0 {
		msg = fmt.Sprintf("venue rate limit cooldown active, retry in %ds", penalty)
	} else {
		msg = "request quota exhausted, action dropped"
	}
	c.sink.OnLog(msg)
	c.log.Warn("request denied by rate governor",
		observability.String("endpoint", endpoint),
		observability.Int("penalty_seconds", penalty))
	return errs.New(venueName, errs.CodeRateLimited,
		errs.WithMessage(msg),
		errs.WithRemediation("wait for quota replenishment before retrying"))
}

// parseVenueError decodes the venue's structured REST error body. Both
// returns are empty when the body has some other shape.
func parseVenueError(body []byte) (name, message string) {
	var ve venueError
	if err := json.Unmarshal(body, &ve); err != nil {
		return "", ""
	}
	return ve.Error.Name, ve.Error.Message
}

// venueErrorText renders the venue's error body for log lines, falling back
// to the raw text when the shape is unexpected.
func venueErrorText(body []byte) string {
	if name, message := parseVenueError(body); name != "" || message != "" {
		return name + ": " + message
	}
	return strings.TrimSpace(string(body))
}

// venueRejection wraps a non-2xx business answer in the gateway's error
// envelope for structured logging. Rejections never cross the host boundary
// as errors; the order status transition and the verbatim log line do.
func venueRejection(status int, body []byte) error {
	name, message := parseVenueError(body)
	return errs.New(venueName, errs.CodeVenueRejected,
		errs.WithHTTP(status),
		errs.WithRawCode(name),
		errs.WithRawMessage(message))
}

// isConnectivityError separates plain network failures, which are logged but
// never treated as venue rejections, from other client-side errors. A request
// lost in transit may still have reached the venue.
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
