package bitmex

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/quayside/bitmexgw/config"
	"github.com/quayside/bitmexgw/errs"
	"github.com/quayside/bitmexgw/internal/observability"
	"github.com/quayside/bitmexgw/internal/telemetry"
)

const (
	topicInstrument = "instrument"
	topicTrade      = "trade"
	topicOrderBook  = "orderBook10"
	topicExecution  = "execution"
	topicOrder      = "order"
	topicPosition   = "position"
	topicMargin     = "margin"

	opAuthKey   = "authKey"
	opSubscribe = "subscribe"

	streamReadyTimeout = 10 * time.Second
	streamWriteTimeout = 5 * time.Second
	// The instrument snapshot on reconnect runs to megabytes.
	streamReadLimit = 1 << 22
)

// streamTopics is the closed set of topics one session subscribes to, all in
// a single frame after authentication.
var streamTopics = []string{
	topicInstrument,
	topicTrade,
	topicOrderBook,
	topicExecution,
	topicOrder,
	topicPosition,
	topicMargin,
}

// streamClient drives the venue's websocket session: dial → authenticate →
// subscribe → dispatch, redialing with exponential backoff on any disconnect.
// Every reconnect re-authenticates and re-subscribes in full; the state cache
// persists across sessions. A credential rejection is terminal: the loop
// stops instead of hammering the venue with doomed redials.
type streamClient struct {
	opts       Options
	signer     *Signer
	cache      *stateCache
	sink       EventSink
	log        observability.Logger
	metrics    *telemetry.GatewayMetrics
	httpClient *http.Client
	endpoint   string

	handlers map[string]func(json.RawMessage)

	ctx    context.Context
	cancel context.CancelFunc
	loop   conc.WaitGroup

	conn   *websocket.Conn
	connMu sync.RWMutex

	terminal  atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
}

func newStreamClient(
	opts Options,
	signer *Signer,
	cache *stateCache,
	sink EventSink,
	log observability.Logger,
	metrics *telemetry.GatewayMetrics,
) (*streamClient, error) {
	opts = withDefaults(opts)
	if log == nil {
		log = observability.Log()
	}
	httpClient, err := opts.streamHTTPClient()
	if err != nil {
		return nil, err
	}

	s := &streamClient{
		opts:       opts,
		signer:     signer,
		cache:      cache,
		sink:       sink,
		log:        log,
		metrics:    metrics,
		httpClient: httpClient,
		endpoint:   opts.streamEndpoint(),
		ready:      make(chan struct{}),
	}
	s.handlers = map[string]func(json.RawMessage){
		topicInstrument: cache.onInstrument,
		topicTrade:      cache.onPublicTrade,
		topicOrderBook:  cache.onOrderBook,
		topicExecution:  cache.onExecution,
		topicOrder:      cache.onOrder,
		topicPosition:   cache.onPosition,
		topicMargin:     cache.onMargin,
	}
	for _, topic := range streamTopics {
		if _, ok := s.handlers[topic]; !ok {
			return nil, errs.New(venueName, errs.CodeInvalid,
				errs.WithMessage("subscribed topic "+topic+" has no handler"))
		}
	}
	return s, nil
}

// Start launches the connect loop and waits for the first connection.
func (s *streamClient) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loop.Go(s.connectLoop)

	select {
	case <-s.ready:
		return nil
	case <-time.After(streamReadyTimeout):
		return errs.New(venueName, errs.CodeUnavailable,
			errs.WithMessage("timed out waiting for stream connection"),
			errs.WithRemediation("the dial loop keeps retrying in the background"))
	case <-s.ctx.Done():
		return errs.New(venueName, errs.CodeUnavailable,
			errs.WithMessage("stream stopped before it connected"), errs.WithCause(s.ctx.Err()))
	}
}

// Stop cancels the session and closes the socket. Idempotent.
func (s *streamClient) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutdown")
		s.conn = nil
	}
	s.connMu.Unlock()
	s.loop.Wait()
}

func (s *streamClient) connectLoop() {
	bo := backoff.NewExponentialBackOff()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, err := s.dial()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Warn("stream dial failed",
				observability.String("endpoint", s.endpoint), observability.Err(err))
			if !s.sleep(bo.NextBackOff()) {
				return
			}
			continue
		}

		s.setConn(conn)
		s.readyOnce.Do(func() { close(s.ready) })
		bo.Reset()

		s.log.Info("stream connected", observability.String("endpoint", s.endpoint))
		s.sink.OnLog("Websocket API connected")

		if err := s.authenticate(); err != nil {
			s.log.Warn("stream auth send failed", observability.Err(err))
		}

		readErr := s.readLoop(conn)

		s.setConn(nil)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if s.ctx.Err() != nil {
			return
		}
		if s.terminal.Load() {
			s.log.Error("stream stopped: credential rejection is terminal")
			return
		}

		s.log.Warn("stream disconnected", observability.Err(readErr))
		s.sink.OnLog("Websocket API disconnected")
		s.metrics.RecordReconnect(context.Background())

		if !s.sleep(bo.NextBackOff()) {
			return
		}
	}
}

func (s *streamClient) dial() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(s.ctx, streamReadyTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.endpoint, &websocket.DialOptions{
		HTTPClient: s.httpClient,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(streamReadLimit)
	return conn, nil
}

func (s *streamClient) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *streamClient) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *streamClient) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return err
		}
		s.handlePacket(data)
		if s.terminal.Load() {
			return nil
		}
	}
}

// handlePacket classifies one inbound message. A record that fails to decode
// is dropped with a log; the session never dies on one bad payload.
func (s *streamClient) handlePacket(data []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("drop malformed stream packet", observability.Err(err))
		return
	}

	switch {
	case env.Error != nil:
		s.handleStreamError(*env.Error)
	case env.Request != nil:
		s.handleAck(env)
	case env.Table != "":
		s.dispatch(env)
	default:
		s.log.Debug("unhandled stream packet")
	}
}

func (s *streamClient) handleStreamError(msg string) {
	s.sink.OnLog("Websocket API error: " + msg)
	s.log.Error("stream error", observability.String("message", msg))

	if strings.Contains(msg, "not valid") {
		s.terminal.Store(true)
		s.sink.OnError(errs.New(venueName, errs.CodeAuth,
			errs.WithMessage("credentials rejected by venue"),
			errs.WithRawMessage(msg),
			errs.WithRemediation("fix the API key pair; automatic reconnect is disabled")))
	}
}

func (s *streamClient) handleAck(env streamEnvelope) {
	if !env.Success {
		s.log.Warn("stream op refused", observability.String("op", env.Request.Op))
		return
	}
	switch env.Request.Op {
	case opAuthKey:
		s.log.Info("stream authenticated")
		s.sink.OnLog("Websocket API authenticated")
		if err := s.subscribeTopics(); err != nil {
			s.log.Warn("subscribe send failed", observability.Err(err))
		}
	case opSubscribe:
		s.log.Debug("stream subscription acknowledged")
	}
}

func (s *streamClient) dispatch(env streamEnvelope) {
	s.metrics.RecordStreamMessage(context.Background(), env.Table)

	handler, ok := s.handlers[env.Table]
	if !ok {
		s.log.Warn("unknown stream topic", observability.String("topic", env.Table))
		if s.opts.Environment == config.EnvDevelopment {
			s.sink.OnError(errs.New(venueName, errs.CodeMalformed,
				errs.WithMessage("unknown stream topic "+env.Table)))
		}
		return
	}

	records, err := splitRecords(env.Data)
	if err != nil {
		s.log.Warn("drop malformed topic payload",
			observability.String("topic", env.Table), observability.Err(err))
		return
	}
	for _, record := range records {
		handler(record)
	}
}

func (s *streamClient) authenticate() error {
	expires, signature := s.signer.SignStream(time.Now())
	return s.send(streamOp{Op: opAuthKey, Args: []any{s.opts.APIKey, expires, signature}})
}

func (s *streamClient) subscribeTopics() error {
	args := make([]any, len(streamTopics))
	for i, topic := range streamTopics {
		args[i] = topic
	}
	return s.send(streamOp{Op: opSubscribe, Args: args})
}

func (s *streamClient) send(op streamOp) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return errs.New(venueName, errs.CodeUnavailable, errs.WithMessage("stream not connected"))
	}

	data, err := json.Marshal(op)
	if err != nil {
		return errs.New(venueName, errs.CodeInvalid,
			errs.WithMessage("marshal "+op.Op+" op"), errs.WithCause(err))
	}

	writeCtx, cancel := context.WithTimeout(s.ctx, streamWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return errs.New(venueName, errs.CodeTransport,
			errs.WithMessage("write "+op.Op+" op"), errs.WithCause(err))
	}
	return nil
}
