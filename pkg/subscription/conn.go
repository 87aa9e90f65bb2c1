package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/metrics"
	"github.com/getmockd/gqlws/pkg/wsproto"
)

// State is the lifecycle state of a connection.
type State int32

// Connection states. Terminated is final.
const (
	StateAwaitingInit State = iota
	StateInitialized
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingInit:
		return "awaiting_init"
	case StateInitialized:
		return "initialized"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var errBinaryFrame = errors.New("binary frames are not supported")

// transport is the part of *websocket.Conn a connection uses.
type transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Conn runs the protocol state machine for one WebSocket connection.
type Conn struct {
	id       string
	ws       transport
	proto    *wsproto.Protocol
	codec    wsproto.Codec
	opts     Options
	log      *slog.Logger
	registry *Registry

	state atomic.Int32
	// pingSent holds the send time (unix nanos) of the unanswered ping, or 0.
	pingSent atomic.Int64

	ctx        context.Context
	cancel     context.CancelFunc
	out        chan []byte
	writerDone chan struct{}
	initTimer  *time.Timer

	closeOnce sync.Once
	closeErr  *CloseError
}

func newConn(id string, ws transport, proto *wsproto.Protocol, bridge *Bridge, opts Options, log *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:         id,
		ws:         ws,
		proto:      proto,
		codec:      wsproto.NewCodec(proto),
		opts:       opts,
		log:        log.With("conn", id, "protocol", proto.Name),
		ctx:        ctx,
		cancel:     cancel,
		out:        make(chan []byte, opts.SendBuffer),
		writerDone: make(chan struct{}),
	}
	c.registry = NewRegistry(ctx, proto.Name, bridge, c.send, c.log)
	c.initTimer = time.NewTimer(opts.InitTimeout)
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Protocol returns the negotiated protocol.
func (c *Conn) Protocol() *wsproto.Protocol {
	return c.proto
}

// State returns the current state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// SubscriptionCount returns the number of running operations.
func (c *Conn) SubscriptionCount() int {
	return c.registry.Len()
}

// Close terminates the connection with code and reason.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.terminate(code, reason)
}

// Serve processes inbound frames until the connection terminates and
// returns how it was closed. ctx bounds the socket reads.
func (c *Conn) Serve(ctx context.Context) *CloseError {
	go c.writeLoop()
	go c.watchInit()

	for c.State() != StateTerminated {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.readFailed(err)
			break
		}
		c.handleFrame(typ, data)
	}

	<-c.writerDone
	return c.closeErr
}

// terminate tears the connection down exactly once: no further frames are
// accepted, timers stop, every operation is canceled and the writer closes
// the socket with code.
func (c *Conn) terminate(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateTerminated))
		c.closeErr = newCloseError(code, reason)
		c.initTimer.Stop()
		c.registry.CancelAll()
		c.cancel()
		c.log.Debug("connection terminating", "code", int(code), "reason", reason)
	})
}

func (c *Conn) closeWith(code wsproto.CloseCode) {
	c.terminate(websocket.StatusCode(code), code.Reason())
}

// watchInit closes the connection if the init timer fires before a valid
// connection_init was handled.
func (c *Conn) watchInit() {
	select {
	case <-c.ctx.Done():
	case <-c.initTimer.C:
		if c.state.CompareAndSwap(int32(StateAwaitingInit), int32(StateTerminated)) {
			c.closeWith(wsproto.CloseConnectionInitialisationTimeout)
		}
	}
}

// readFailed treats a failed read, including a close from the peer, as an
// implicit terminate.
func (c *Conn) readFailed(err error) {
	if status := websocket.CloseStatus(err); status != -1 {
		c.log.Debug("closed by peer", "code", int(status))
	} else if c.State() != StateTerminated {
		c.log.Debug("read failed", "error", err)
	}
	c.terminate(websocket.StatusNormalClosure, "")
}

// send queues msg for the writer. It returns false once the connection is
// terminating.
func (c *Conn) send(msg wsproto.Message) bool {
	if c.ctx.Err() != nil {
		return false
	}
	data := c.codec.Encode(msg)
	select {
	case <-c.ctx.Done():
		return false
	case c.out <- data:
		if wire, ok := c.proto.WireType(msg.Kind); ok {
			metrics.Message(c.proto.Name, metrics.Outbound, wire)
		}
		return true
	}
}

// writeLoop is the only goroutine that writes to the socket.
func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.ctx.Done():
			if err := c.ws.Close(c.closeErr.Code, c.closeErr.Reason); err != nil {
				c.log.Debug("close failed", "error", err)
			}
			return
		case data := <-c.out:
			if c.ctx.Err() != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				metrics.Error("write")
				c.log.Debug("write failed", "error", err)
				c.terminate(websocket.StatusInternalError, "write failed")
			}
		}
	}
}

func (c *Conn) handleFrame(typ websocket.MessageType, data []byte) {
	if typ != websocket.MessageText {
		c.malformed(&wsproto.DecodeError{Reason: wsproto.ReasonMalformed, Err: errBinaryFrame})
		return
	}

	msg, derr := c.codec.Decode(data)
	if derr != nil {
		c.malformed(derr)
		return
	}

	if wire, ok := c.proto.WireType(msg.Kind); ok {
		metrics.Message(c.proto.Name, metrics.Inbound, wire)
	}
	c.dispatch(msg)
}

// malformed handles a frame that failed to decode. Before init, and for
// protocols that close on malformed input, it is fatal. Otherwise it is
// reported to the client.
func (c *Conn) malformed(derr *wsproto.DecodeError) {
	metrics.Error("decode")
	c.log.Debug("malformed message", "error", derr)

	if c.proto.CloseOnMalformed || c.State() != StateInitialized {
		c.terminate(websocket.StatusCode(wsproto.CloseBadRequest), fmt.Sprintf("%s: %s", wsproto.CloseBadRequest.Reason(), derr.Reason))
		return
	}

	if derr.ID != "" && !c.registry.Has(derr.ID) {
		c.send(wsproto.ErrorMessage(derr.ID, graphql.NewError(derr.Error(), CodeBadRequest)))
		return
	}
	c.send(wsproto.ConnectionErrorMessage(derr.Error()))
}

func (c *Conn) dispatch(msg wsproto.Message) {
	switch msg.Kind {
	case wsproto.KindConnectionInit:
		c.handleInit(msg)
	case wsproto.KindPing:
		c.send(wsproto.PongMessage(msg.Payload))
	case wsproto.KindPong:
		c.pingSent.Store(0)
	case wsproto.KindConnectionTerminate:
		c.terminate(websocket.StatusNormalClosure, "connection terminated")
	case wsproto.KindConnectionAck, wsproto.KindConnectionError, wsproto.KindKeepAlive:
		// Server-to-client only.
	default:
		if c.State() != StateInitialized {
			c.closeWith(wsproto.CloseUnauthorized)
			return
		}
		c.handleOperation(msg)
	}
}

func (c *Conn) handleInit(msg wsproto.Message) {
	if c.State() == StateInitialized {
		c.closeWith(wsproto.CloseTooManyInitialisationRequests)
		return
	}

	if c.opts.OnConnect != nil {
		if err := c.opts.OnConnect(c.ctx, msg.Payload); err != nil {
			c.log.Debug("connection rejected", "error", err)
			c.closeWith(wsproto.CloseForbidden)
			return
		}
	}

	if !c.state.CompareAndSwap(int32(StateAwaitingInit), int32(StateInitialized)) {
		// The init timeout fired first.
		return
	}
	c.initTimer.Stop()

	c.send(wsproto.AckMessage(nil))
	if c.proto.KeepAliveOnAck {
		c.send(wsproto.KeepAliveMessage())
	}
	if c.opts.KeepAlive > 0 {
		go c.keepAlive(c.opts.KeepAlive)
	}
}

func (c *Conn) handleOperation(msg wsproto.Message) {
	switch msg.Kind {
	case wsproto.KindSubscribe:
		err := c.registry.Subscribe(msg.ID, msg.Subscribe)
		if errors.Is(err, ErrSubscriberAlreadyExists) {
			c.send(wsproto.ErrorMessage(msg.ID, graphql.NewError(
				fmt.Sprintf("Subscriber for %s already exists", msg.ID),
				CodeSubscriberAlreadyExists,
			)))
		}
	case wsproto.KindStop:
		c.registry.Cancel(msg.ID)
	case wsproto.KindComplete:
		if c.proto.ClientCompleteStops {
			c.registry.Cancel(msg.ID)
		}
	default:
		// next and error flow from server to client only.
	}
}

// keepAlive sends the protocol's keep-alive message every interval. When the
// protocol answers pings with pongs, a ping left unanswered for longer than
// the pong timeout closes the connection.
func (c *Conn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.proto.ExpectsPong && c.opts.PongTimeout > 0 {
				if sent := c.pingSent.Load(); sent != 0 && time.Since(time.Unix(0, sent)) > c.opts.PongTimeout {
					c.terminate(websocket.StatusGoingAway, "keep-alive timeout")
					return
				}
			}
			// Stamp before queuing so a fast pong always clears this ping.
			if c.proto.ExpectsPong {
				c.pingSent.CompareAndSwap(0, time.Now().UnixNano())
			}
			if !c.send(wsproto.Message{Kind: c.proto.KeepAliveKind}) {
				return
			}
		}
	}
}
