package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/wsproto"
)

const handlerTestSchema = `
type Query {
	hello: String
}

type Subscription {
	greetings: String
	ticks: Int
	serverTime: String
}
`

// wireMsg is a frame as seen by a client.
type wireMsg struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newTestExecutor(t *testing.T) *graphql.Executor {
	t.Helper()
	schema, err := graphql.ParseSchema(handlerTestSchema)
	require.NoError(t, err)

	return graphql.NewExecutor(schema, &graphql.GraphQLConfig{
		Resolvers: map[string]graphql.ResolverConfig{
			"Query.hello":             {Response: "world"},
			"Subscription.serverTime": {Response: "12:00"},
		},
		Subscriptions: map[string]graphql.SubscriptionConfig{
			"greetings": {Events: []graphql.EventConfig{{Data: "Hi"}, {Data: "Bonjour"}}},
			"ticks": {
				Events: []graphql.EventConfig{{Data: 1}},
				Timing: &graphql.TimingConfig{FixedDelay: "10ms", Repeat: true},
			},
		},
	})
}

func startServer(t *testing.T, executor Executor, opts Options) (*Handler, string) {
	t.Helper()
	handler := NewHandler(executor, opts)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return handler, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func connectWS(t *testing.T, url string, subprotocols ...string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: subprotocols})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "test cleanup")
	})
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	sendRaw(t, conn, string(data))
}

func sendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(data)))
}

func readMsg(t *testing.T, conn *websocket.Conn) wireMsg {
	t.Helper()
	msg, err := readMsgWithTimeout(conn, 5*time.Second)
	require.NoError(t, err)
	return msg
}

func readMsgWithTimeout(conn *websocket.Conn, timeout time.Duration) (wireMsg, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return wireMsg{}, err
	}
	var msg wireMsg
	err = json.Unmarshal(data, &msg)
	return msg, err
}

// expectClose reads until the server closes the connection and checks the
// close code. Frames received before the close fail the test.
func expectClose(t *testing.T, conn *websocket.Conn, code websocket.StatusCode) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.Error(t, err, "expected close, got frame %s", data)
	assert.Equal(t, code, websocket.CloseStatus(err), "close error: %v", err)
}

func initConn(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendJSON(t, conn, wireMsg{Type: "connection_init"})
	require.Equal(t, "connection_ack", readMsg(t, conn).Type)
}

func subscribe(t *testing.T, conn *websocket.Conn, typ, id, query string) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"query": query})
	require.NoError(t, err)
	sendJSON(t, conn, wireMsg{ID: id, Type: typ, Payload: payload})
}

func payloadData(t *testing.T, msg wireMsg) map[string]interface{} {
	t.Helper()
	var payload struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	return payload.Data
}

func payloadErrors(t *testing.T, msg wireMsg) []graphql.GraphQLError {
	t.Helper()
	var errs []graphql.GraphQLError
	if err := json.Unmarshal(msg.Payload, &errs); err == nil {
		return errs
	}
	var single graphql.GraphQLError
	require.NoError(t, json.Unmarshal(msg.Payload, &single))
	return []graphql.GraphQLError{single}
}

func closeCode(c wsproto.CloseCode) websocket.StatusCode {
	return websocket.StatusCode(c)
}

// ============================================================================
// graphql-transport-ws
// ============================================================================

func TestHandler_Greetings(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	subscribe(t, conn, "subscribe", "1", "subscription { greetings }")

	first := readMsg(t, conn)
	assert.Equal(t, "next", first.Type)
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "Hi", payloadData(t, first)["greetings"])

	second := readMsg(t, conn)
	assert.Equal(t, "next", second.Type)
	assert.Equal(t, "Bonjour", payloadData(t, second)["greetings"])

	done := readMsg(t, conn)
	assert.Equal(t, wireMsg{ID: "1", Type: "complete"}, done)
}

func TestHandler_QueryOverWebSocket(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	subscribe(t, conn, "subscribe", "q", "{ hello }")

	next := readMsg(t, conn)
	assert.Equal(t, "next", next.Type)
	assert.Equal(t, "world", payloadData(t, next)["hello"])
	assert.Equal(t, "complete", readMsg(t, conn).Type)
}

func TestHandler_DuplicateSubscribe(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	subscribe(t, conn, "subscribe", "1", "subscription { ticks }")
	require.Equal(t, "next", readMsg(t, conn).Type)

	subscribe(t, conn, "subscribe", "1", "subscription { ticks }")

	sawError := false
	nextAfterError := 0
	for nextAfterError < 2 {
		msg := readMsg(t, conn)
		require.Equal(t, "1", msg.ID)
		switch msg.Type {
		case "error":
			require.False(t, sawError, "only one duplicate error expected")
			sawError = true
			errs := payloadErrors(t, msg)
			require.Len(t, errs, 1)
			assert.Equal(t, "Subscriber for 1 already exists", errs[0].Message)
			assert.Equal(t, CodeSubscriberAlreadyExists, errs[0].Extensions["code"])
		case "next":
			if sawError {
				nextAfterError++
			}
		default:
			t.Fatalf("unexpected %s frame", msg.Type)
		}
	}
}

func TestHandler_OperationBeforeInit(t *testing.T) {
	var executed atomic.Int32
	executor := executorFunc(func(context.Context, *graphql.GraphQLRequest) *graphql.GraphQLResponse {
		executed.Add(1)
		return &graphql.GraphQLResponse{Data: publisherOf("greetings", "Hi")}
	})
	_, url := startServer(t, executor, Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	subscribe(t, conn, "subscribe", "1", "subscription { greetings }")

	expectClose(t, conn, closeCode(wsproto.CloseUnauthorized))
	assert.Zero(t, executed.Load())
}

func TestHandler_DoubleInitCancelsSubscriptions(t *testing.T) {
	started := make(chan string, 1)
	stopped := make(chan string, 1)
	handler, url := startServer(t, blockingExecutor(started, stopped), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	sendJSON(t, conn, map[string]interface{}{
		"id":      "1",
		"type":    "subscribe",
		"payload": map[string]interface{}{"query": "subscription A { ticks }", "operationName": "A"},
	})
	<-started
	require.Eventually(t, func() bool { return handler.SubscriptionCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	sendJSON(t, conn, wireMsg{Type: "connection_init"})
	expectClose(t, conn, closeCode(wsproto.CloseTooManyInitialisationRequests))

	select {
	case name := <-stopped:
		assert.Equal(t, "A", name)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not canceled")
	}
}

func TestHandler_InitTimeout(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{InitTimeout: 50 * time.Millisecond})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	expectClose(t, conn, closeCode(wsproto.CloseConnectionInitialisationTimeout))
}

func TestHandler_InitBeforeTimeoutKeepsConnection(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{InitTimeout: 100 * time.Millisecond})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	time.Sleep(200 * time.Millisecond)

	sendJSON(t, conn, wireMsg{Type: "ping"})
	assert.Equal(t, "pong", readMsg(t, conn).Type)
}

func TestHandler_StopUnknownIDIsNoop(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	sendJSON(t, conn, wireMsg{ID: "missing", Type: "complete"})
	sendJSON(t, conn, wireMsg{Type: "ping", Payload: json.RawMessage(`{"n":1}`)})

	pong := readMsg(t, conn)
	assert.Equal(t, "pong", pong.Type, "no frame expected before the pong")
	assert.JSONEq(t, `{"n":1}`, string(pong.Payload))
}

func TestHandler_ClientCompleteStopsOperation(t *testing.T) {
	started := make(chan string, 2)
	stopped := make(chan string, 2)
	handler, url := startServer(t, blockingExecutor(started, stopped), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	sendJSON(t, conn, map[string]interface{}{
		"id": "1", "type": "subscribe",
		"payload": map[string]interface{}{"query": "subscription A { ticks }", "operationName": "A"},
	})
	<-started

	sendJSON(t, conn, wireMsg{ID: "1", Type: "complete"})
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("operation was not canceled")
	}
	require.Eventually(t, func() bool { return handler.SubscriptionCount() == 0 }, 5*time.Second, 5*time.Millisecond)

	// The id is free again and no frame was sent for the stop.
	sendJSON(t, conn, map[string]interface{}{
		"id": "1", "type": "subscribe",
		"payload": map[string]interface{}{"query": "subscription B { ticks }", "operationName": "B"},
	})
	assert.Equal(t, "B", <-started)

	sendJSON(t, conn, wireMsg{Type: "ping"})
	assert.Equal(t, "pong", readMsg(t, conn).Type)
}

func TestHandler_NotAPublisher(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	subscribe(t, conn, "subscribe", "1", "subscription { serverTime }")

	msg := readMsg(t, conn)
	require.Equal(t, "error", msg.Type)
	errs := payloadErrors(t, msg)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeNotAPublisher, errs[0].Extensions["code"])

	// Exactly one terminal frame: nothing else follows for id 1.
	sendJSON(t, conn, wireMsg{Type: "ping"})
	assert.Equal(t, "pong", readMsg(t, conn).Type)
}

func TestHandler_ValidationErrorIsOperationScoped(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	subscribe(t, conn, "subscribe", "bad", "subscription { nope }")

	msg := readMsg(t, conn)
	assert.Equal(t, wireMsg{ID: "bad", Type: "error", Payload: msg.Payload}, msg)

	subscribe(t, conn, "subscribe", "good", "subscription { greetings }")
	assert.Equal(t, "next", readMsg(t, conn).Type)
}

func TestHandler_MalformedClosesTransportWS(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		init  bool
	}{
		{"invalid json", "{", true},
		{"unknown type", `{"type":"start","id":"1"}`, true},
		{"missing id", `{"type":"subscribe","payload":{"query":"{ hello }"}}`, true},
		{"before init", `{"type":"nope"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := startServer(t, newTestExecutor(t), Options{})
			conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)
			if tt.init {
				initConn(t, conn)
			}

			sendRaw(t, conn, tt.frame)
			expectClose(t, conn, closeCode(wsproto.CloseBadRequest))
		})
	}
}

func TestHandler_PingBeforeInit(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	sendJSON(t, conn, wireMsg{Type: "ping"})
	assert.Equal(t, "pong", readMsg(t, conn).Type)
}

func TestHandler_ServerPing(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{KeepAlive: 20 * time.Millisecond})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	for i := 0; i < 3; i++ {
		msg := readMsg(t, conn)
		require.Equal(t, "ping", msg.Type)
		sendJSON(t, conn, wireMsg{Type: "pong"})
	}
}

func TestHandler_PongTimeout(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{
		KeepAlive:   20 * time.Millisecond,
		PongTimeout: 30 * time.Millisecond,
	})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)

	initConn(t, conn)
	for {
		msg, err := readMsgWithTimeout(conn, 5*time.Second)
		if err != nil {
			assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
			return
		}
		require.Equal(t, "ping", msg.Type)
	}
}

func TestHandler_OnConnect(t *testing.T) {
	type initPayload struct {
		Token string `json:"token"`
	}
	opts := Options{
		OnConnect: func(_ context.Context, payload json.RawMessage) error {
			var p initPayload
			if err := DecodeInitPayload(payload, &p); err != nil {
				return err
			}
			if p.Token != "secret" {
				return errors.New("invalid token")
			}
			return nil
		},
	}
	_, url := startServer(t, newTestExecutor(t), opts)

	t.Run("accepted", func(t *testing.T) {
		conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)
		sendJSON(t, conn, map[string]interface{}{"type": "connection_init", "payload": map[string]string{"token": "secret"}})
		assert.Equal(t, "connection_ack", readMsg(t, conn).Type)
	})

	t.Run("rejected", func(t *testing.T) {
		conn := connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS)
		sendJSON(t, conn, map[string]interface{}{"type": "connection_init", "payload": map[string]string{"token": "wrong"}})
		expectClose(t, conn, closeCode(wsproto.CloseForbidden))
	})
}

// ============================================================================
// graphql-ws (legacy)
// ============================================================================

func TestHandler_LegacyGreetings(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLWS)

	initConn(t, conn)
	assert.Equal(t, "ka", readMsg(t, conn).Type)

	subscribe(t, conn, "start", "1", "subscription { greetings }")

	first := readMsg(t, conn)
	assert.Equal(t, "data", first.Type)
	assert.Equal(t, "Hi", payloadData(t, first)["greetings"])

	second := readMsg(t, conn)
	assert.Equal(t, "data", second.Type)
	assert.Equal(t, "Bonjour", payloadData(t, second)["greetings"])

	assert.Equal(t, wireMsg{ID: "1", Type: "complete"}, readMsg(t, conn))
}

func TestHandler_LegacyStop(t *testing.T) {
	started := make(chan string, 1)
	stopped := make(chan string, 1)
	_, url := startServer(t, blockingExecutor(started, stopped), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLWS)

	initConn(t, conn)
	require.Equal(t, "ka", readMsg(t, conn).Type)

	sendJSON(t, conn, map[string]interface{}{
		"id": "1", "type": "start",
		"payload": map[string]interface{}{"query": "subscription A { ticks }", "operationName": "A"},
	})
	<-started
	sendJSON(t, conn, wireMsg{ID: "1", Type: "stop"})

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("operation was not stopped")
	}
}

func TestHandler_LegacyKeepAlive(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{KeepAlive: 20 * time.Millisecond})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLWS)

	initConn(t, conn)
	// ka needs no answer; the connection stays open across several.
	for i := 0; i < 4; i++ {
		assert.Equal(t, "ka", readMsg(t, conn).Type)
	}
}

func TestHandler_LegacyMalformed(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLWS)

	initConn(t, conn)
	require.Equal(t, "ka", readMsg(t, conn).Type)

	t.Run("connection level", func(t *testing.T) {
		sendRaw(t, conn, "not json")
		assert.Equal(t, "connection_error", readMsg(t, conn).Type)
	})

	t.Run("operation level", func(t *testing.T) {
		sendRaw(t, conn, `{"type":"start","id":"7","payload":{}}`)
		msg := readMsg(t, conn)
		assert.Equal(t, "error", msg.Type)
		assert.Equal(t, "7", msg.ID)
	})

	t.Run("connection stays usable", func(t *testing.T) {
		subscribe(t, conn, "start", "8", "{ hello }")
		assert.Equal(t, "data", readMsg(t, conn).Type)
		assert.Equal(t, "complete", readMsg(t, conn).Type)
	})
}

func TestHandler_LegacyMalformedBeforeInit(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLWS)

	sendRaw(t, conn, "not json")
	expectClose(t, conn, closeCode(wsproto.CloseBadRequest))
}

func TestHandler_LegacyOperationBeforeInit(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLWS)

	subscribe(t, conn, "start", "1", "subscription { greetings }")
	expectClose(t, conn, closeCode(wsproto.CloseUnauthorized))
}

func TestHandler_LegacyConnectionTerminate(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})
	conn := connectWS(t, url, wsproto.SubprotocolGraphQLWS)

	initConn(t, conn)
	require.Equal(t, "ka", readMsg(t, conn).Type)

	sendJSON(t, conn, wireMsg{Type: "connection_terminate"})
	expectClose(t, conn, websocket.StatusNormalClosure)
}

// ============================================================================
// Handshake and handler bookkeeping
// ============================================================================

func TestHandler_UnsupportedSubprotocol(t *testing.T) {
	_, url := startServer(t, newTestExecutor(t), Options{})

	t.Run("unknown", func(t *testing.T) {
		conn := connectWS(t, url, "graphql-unknown")
		expectClose(t, conn, closeCode(wsproto.CloseSubprotocolNotAcceptable))
	})

	t.Run("none", func(t *testing.T) {
		conn := connectWS(t, url)
		expectClose(t, conn, closeCode(wsproto.CloseSubprotocolNotAcceptable))
	})
}

func TestHandler_CountsAndCloseAll(t *testing.T) {
	started := make(chan string, 2)
	handler, url := startServer(t, blockingExecutor(started, nil), Options{})

	conns := []*websocket.Conn{
		connectWS(t, url, wsproto.SubprotocolGraphQLTransportWS),
		connectWS(t, url, wsproto.SubprotocolGraphQLWS),
	}
	for i, conn := range conns {
		initConn(t, conn)
		sendJSON(t, conn, map[string]interface{}{
			"id":      "1",
			"type":    []string{"subscribe", "start"}[i],
			"payload": map[string]interface{}{"query": "subscription { ticks }"},
		})
		<-started
	}

	require.Eventually(t, func() bool {
		return handler.ConnectionCount() == 2 && handler.SubscriptionCount() == 2
	}, 5*time.Second, 5*time.Millisecond)

	handler.CloseAll("server shutting down")

	expectClose(t, conns[0], websocket.StatusGoingAway)
	// The legacy connection has a queued ka ahead of the close.
	for {
		_, err := readMsgWithTimeout(conns[1], 5*time.Second)
		if err != nil {
			assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
			break
		}
	}

	require.Eventually(t, func() bool { return handler.ConnectionCount() == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Zero(t, handler.SubscriptionCount())
}

func TestOptions_Defaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, DefaultInitTimeout, opts.InitTimeout)
	assert.Equal(t, DefaultWriteTimeout, opts.WriteTimeout)
	assert.Equal(t, DefaultSendBuffer, opts.SendBuffer)
	assert.NotNil(t, opts.Logger)
	assert.Zero(t, opts.KeepAlive)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_init", StateAwaitingInit.String())
	assert.Equal(t, "initialized", StateInitialized.String())
	assert.Equal(t, "terminated", StateTerminated.String())
}

func TestCloseError(t *testing.T) {
	err := newCloseError(websocket.StatusCode(4400), strings.Repeat("x", 200))
	assert.Len(t, err.Reason, maxCloseReason)
	assert.Contains(t, err.Error(), "4400")
}

func TestCloseError_KeepsRunesWhole(t *testing.T) {
	// The byte limit falls inside the 62nd two-byte rune.
	reason := strings.Repeat("é", 62)
	err := newCloseError(websocket.StatusGoingAway, reason)

	assert.True(t, utf8.ValidString(err.Reason), "reason %q is not valid UTF-8", err.Reason)
	assert.LessOrEqual(t, len(err.Reason), maxCloseReason)
	assert.Equal(t, strings.Repeat("é", 61), err.Reason)
}
