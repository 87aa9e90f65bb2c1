package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/wsproto"
)

var errPeerGone = errors.New("peer gone")

// pongingTransport is an in-memory socket whose peer answers every ping
// with a pong as soon as it is written.
type pongingTransport struct {
	in       chan []byte
	peerGone chan struct{}
	closed   chan struct{}
	once     sync.Once
}

func newPongingTransport() *pongingTransport {
	return &pongingTransport{
		in:       make(chan []byte, 16),
		peerGone: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (t *pongingTransport) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data := <-t.in:
		return websocket.MessageText, data, nil
	case <-t.peerGone:
		return 0, nil, errPeerGone
	case <-t.closed:
		return 0, nil, errPeerGone
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (t *pongingTransport) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	var frame struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(p, &frame) == nil && frame.Type == "ping" {
		select {
		case t.in <- []byte(`{"type":"pong"}`):
		case <-t.closed:
		}
	}
	return nil
}

func (t *pongingTransport) Close(websocket.StatusCode, string) error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func TestConn_AnsweredPingsKeepConnectionOpen(t *testing.T) {
	proto, err := wsproto.Lookup(wsproto.SubprotocolGraphQLTransportWS)
	require.NoError(t, err)

	// A pong timeout shorter than the ping interval must still tolerate
	// pongs that arrive immediately.
	opts := Options{KeepAlive: 20 * time.Millisecond, PongTimeout: 10 * time.Millisecond}.withDefaults()
	bridge := NewBridge(staticExecutor(&graphql.GraphQLResponse{}), nil)

	const conns = 50
	transports := make([]*pongingTransport, conns)
	results := make(chan *CloseError, conns)
	for i := range transports {
		tr := newPongingTransport()
		tr.in <- []byte(`{"type":"connection_init"}`)
		transports[i] = tr

		c := newConn(fmt.Sprintf("conn-%d", i), tr, proto, bridge, opts, logging.Nop())
		go func() { results <- c.Serve(context.Background()) }()
	}

	time.Sleep(250 * time.Millisecond)
	for _, tr := range transports {
		close(tr.peerGone)
	}

	for i := 0; i < conns; i++ {
		select {
		case closeErr := <-results:
			assert.Equal(t, websocket.StatusNormalClosure, closeErr.Code, "closed with %q", closeErr.Reason)
		case <-time.After(5 * time.Second):
			t.Fatal("connection did not close")
		}
	}
}

func TestConn_UnansweredPingCloses(t *testing.T) {
	proto, err := wsproto.Lookup(wsproto.SubprotocolGraphQLTransportWS)
	require.NoError(t, err)

	opts := Options{KeepAlive: 10 * time.Millisecond, PongTimeout: 5 * time.Millisecond}.withDefaults()
	bridge := NewBridge(staticExecutor(&graphql.GraphQLResponse{}), nil)

	// A silent peer never answers.
	tr := newPongingTransport()
	tr.in <- []byte(`{"type":"connection_init"}`)
	c := newConn("silent", silentTransport{tr}, proto, bridge, opts, logging.Nop())

	done := make(chan *CloseError, 1)
	go func() { done <- c.Serve(context.Background()) }()

	select {
	case closeErr := <-done:
		assert.Equal(t, websocket.StatusGoingAway, closeErr.Code)
		assert.Equal(t, "keep-alive timeout", closeErr.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not closed")
	}
}

// silentTransport drops every outbound frame.
type silentTransport struct {
	*pongingTransport
}

func (silentTransport) Write(context.Context, websocket.MessageType, []byte) error {
	return nil
}
