package bitmex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/quayside/bitmexgw/config"
	"github.com/quayside/bitmexgw/errs"
)

// fakeVenue is a scripted websocket endpoint standing in for the venue.
type fakeVenue struct {
	server  *httptest.Server
	accepts atomic.Int32
	auths   atomic.Int32
}

func newFakeVenue(t *testing.T, script func(ctx context.Context, conn *websocket.Conn, session int32)) *fakeVenue {
	t.Helper()
	v := &fakeVenue{}
	v.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}()
		script(r.Context(), conn, v.accepts.Add(1))
	}))
	t.Cleanup(v.server.Close)
	return v
}

func (v *fakeVenue) url() string {
	return "ws" + strings.TrimPrefix(v.server.URL, "http")
}

func readOp(ctx context.Context, conn *websocket.Conn) (streamOp, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return streamOp{}, err
	}
	var op streamOp
	err = json.Unmarshal(data, &op)
	return op, err
}

func writeRaw(ctx context.Context, conn *websocket.Conn, payload string) error {
	return conn.Write(ctx, websocket.MessageText, []byte(payload))
}

// holdOpen blocks until the peer closes the socket.
func holdOpen(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func newStreamFixture(t *testing.T, venueURL string, env config.Environment) (*streamClient, *stateCache, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	cache := newStateCache(sink, nil)
	opts := Options{
		APIKey:      "api-key",
		APISecret:   "api-secret",
		StreamURL:   venueURL,
		Environment: env,
	}
	client, err := newStreamClient(opts, NewSigner("api-key", "api-secret"), cache, sink, nil, nil)
	require.NoError(t, err)
	return client, cache, sink
}

func TestStreamAuthenticatesSubscribesAndDispatches(t *testing.T) {
	authArgs := make(chan []any, 2)
	subArgs := make(chan []any, 2)

	venue := newFakeVenue(t, func(ctx context.Context, conn *websocket.Conn, session int32) {
		op, err := readOp(ctx, conn)
		if err != nil || op.Op != opAuthKey {
			return
		}
		authArgs <- op.Args
		_ = writeRaw(ctx, conn, `{"success":true,"request":{"op":"authKey"}}`)

		op, err = readOp(ctx, conn)
		if err != nil || op.Op != opSubscribe {
			return
		}
		subArgs <- op.Args
		_ = writeRaw(ctx, conn, `{"success":true,"request":{"op":"subscribe"}}`)
		_ = writeRaw(ctx, conn,
			`{"table":"trade","data":[{"symbol":"XBTUSD","price":50000,"timestamp":"2024-03-05T12:00:00Z"}]}`)

		holdOpen(ctx, conn)
	})

	client, cache, sink := newStreamFixture(t, venue.url(), config.EnvProduction)
	cache.subscribe("XBTUSD", time.Now())

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop()

	var auth []any
	select {
	case auth = <-authArgs:
	case <-time.After(2 * time.Second):
		t.Fatal("no auth op sent")
	}
	require.Len(t, auth, 3)
	require.Equal(t, "api-key", auth[0])
	expires := int64(auth[1].(float64))
	require.Greater(t, expires, time.Now().Unix())
	require.Equal(t,
		hexDigest("api-secret", "GET/realtime"+strconv.FormatInt(expires, 10)),
		auth[2])

	var sub []any
	select {
	case sub = <-subArgs:
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe op sent")
	}
	topics := make([]string, 0, len(sub))
	for _, arg := range sub {
		topic, ok := arg.(string)
		require.True(t, ok)
		topics = append(topics, topic)
	}
	require.ElementsMatch(t, []string{
		"instrument", "trade", "orderBook10", "execution", "order", "position", "margin",
	}, topics)

	require.Eventually(t, func() bool {
		return len(sink.Ticks()) > 0
	}, 3*time.Second, 10*time.Millisecond)

	tick := sink.Ticks()[0]
	require.Equal(t, "XBTUSD", tick.Symbol)
	requireDecimal(t, "50000", tick.LastPrice)
}

func TestStreamCredentialRejectionIsTerminal(t *testing.T) {
	venue := newFakeVenue(t, func(ctx context.Context, conn *websocket.Conn, session int32) {
		if _, err := readOp(ctx, conn); err != nil {
			return
		}
		_ = writeRaw(ctx, conn, `{"error":"Signature not valid."}`)
		holdOpen(ctx, conn)
	})

	client, _, sink := newStreamFixture(t, venue.url(), config.EnvProduction)
	require.NoError(t, client.Start(context.Background()))
	defer client.Stop()

	stopped := make(chan struct{})
	go func() {
		client.loop.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("connect loop kept running after credential rejection")
	}

	require.Equal(t, int32(1), venue.accepts.Load())

	var authErr error
	for _, err := range sink.Errors() {
		if errs.CodeOf(err) == errs.CodeAuth {
			authErr = err
		}
	}
	require.Error(t, authErr)
}

func TestStreamRedialsAndReauthenticatesAfterDrop(t *testing.T) {
	var venue *fakeVenue
	venue = newFakeVenue(t, func(ctx context.Context, conn *websocket.Conn, session int32) {
		op, err := readOp(ctx, conn)
		if err != nil || op.Op != opAuthKey {
			return
		}
		venue.auths.Add(1)
		if session == 1 {
			return
		}
		_ = writeRaw(ctx, conn, `{"success":true,"request":{"op":"authKey"}}`)
		holdOpen(ctx, conn)
	})

	client, _, sink := newStreamFixture(t, venue.url(), config.EnvProduction)
	require.NoError(t, client.Start(context.Background()))
	defer client.Stop()

	require.Eventually(t, func() bool {
		return venue.auths.Load() >= 2
	}, 5*time.Second, 20*time.Millisecond)

	var disconnected bool
	for _, msg := range sink.Logs() {
		if strings.Contains(msg, "disconnected") {
			disconnected = true
		}
	}
	require.True(t, disconnected)
}

func TestStreamStartTimesOutWhenVenueUnreachable(t *testing.T) {
	client, _, _ := newStreamFixture(t, "ws://127.0.0.1:1", config.EnvProduction)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	err := client.Start(ctx)
	require.Error(t, err)
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
	client.Stop()
}

func TestDispatchUnknownTopicDevelopmentRaisesError(t *testing.T) {
	client, _, sink := newStreamFixture(t, "ws://127.0.0.1:1", config.EnvDevelopment)

	client.handlePacket([]byte(`{"table":"quote","data":[{"symbol":"XBTUSD"}]}`))

	require.Len(t, sink.Errors(), 1)
	require.Equal(t, errs.CodeMalformed, errs.CodeOf(sink.Errors()[0]))
}

func TestDispatchUnknownTopicProductionOnlyLogs(t *testing.T) {
	client, _, sink := newStreamFixture(t, "ws://127.0.0.1:1", config.EnvProduction)

	client.handlePacket([]byte(`{"table":"quote","data":[]}`))

	require.Empty(t, sink.Errors())
}

func TestStreamErrorWithoutCredentialComplaintIsNotTerminal(t *testing.T) {
	client, _, sink := newStreamFixture(t, "ws://127.0.0.1:1", config.EnvProduction)

	client.handlePacket([]byte(`{"error":"Rate limit exceeded"}`))

	require.False(t, client.terminal.Load())
	require.Empty(t, sink.Errors())
	require.NotEmpty(t, sink.Logs())
}

func TestHandleMalformedPacketIsFailSoft(t *testing.T) {
	client, _, sink := newStreamFixture(t, "ws://127.0.0.1:1", config.EnvDevelopment)

	client.handlePacket([]byte(`{"table":`))

	require.Empty(t, sink.Errors())
	require.Empty(t, sink.Ticks())
}

func TestDispatchSingleObjectPayload(t *testing.T) {
	client, cache, sink := newStreamFixture(t, "ws://127.0.0.1:1", config.EnvProduction)
	cache.subscribe("XBTUSD", time.Now())

	client.handlePacket([]byte(
		`{"table":"trade","data":{"symbol":"XBTUSD","price":123,"timestamp":"2024-03-05T12:00:00Z"}}`))

	require.Len(t, sink.Ticks(), 1)
	requireDecimal(t, "123", sink.Ticks()[0].LastPrice)
}
