package subscription

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/metrics"
	"github.com/getmockd/gqlws/pkg/wsproto"
)

// Defaults applied by NewHandler to zero-valued options.
const (
	DefaultInitTimeout  = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultSendBuffer   = 64
)

// Options configures a Handler.
type Options struct {
	// InitTimeout bounds the time between opening the connection and
	// receiving connection_init.
	InitTimeout time.Duration
	// KeepAlive is the interval of server keep-alive messages (ping or ka).
	// Zero disables them.
	KeepAlive time.Duration
	// PongTimeout closes a graphql-transport-ws connection whose ping has not
	// been answered for this long. Zero disables the check.
	PongTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// SendBuffer is the number of outbound frames queued per connection.
	SendBuffer int
	// ReadLimit is the maximum inbound message size in bytes. Zero keeps the
	// websocket library default.
	ReadLimit int64

	// OriginPatterns lists additional allowed Origin host patterns.
	OriginPatterns []string
	// InsecureSkipVerify disables Origin verification.
	InsecureSkipVerify bool

	// OnConnect is called with the connection_init payload before the
	// connection is acknowledged. An error closes the connection with 4403.
	OnConnect func(ctx context.Context, payload json.RawMessage) error

	// Logger receives connection logs. Defaults to a no-op logger.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.InitTimeout <= 0 {
		o.InitTimeout = DefaultInitTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// Handler accepts GraphQL-over-WebSocket connections for both the
// graphql-transport-ws and the legacy graphql-ws subprotocols.
type Handler struct {
	bridge *Bridge
	opts   Options
	log    *slog.Logger
	accept websocket.AcceptOptions

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHandler creates a handler that runs operations with executor.
func NewHandler(executor Executor, opts Options) *Handler {
	opts = opts.withDefaults()
	return &Handler{
		bridge: NewBridge(executor, opts.Logger),
		opts:   opts,
		log:    opts.Logger,
		accept: websocket.AcceptOptions{
			Subprotocols:       wsproto.Subprotocols(),
			OriginPatterns:     opts.OriginPatterns,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
		conns: make(map[string]*Conn),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
// Connections that did not negotiate a supported subprotocol are closed with
// 4406.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &h.accept)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	if h.opts.ReadLimit > 0 {
		ws.SetReadLimit(h.opts.ReadLimit)
	}

	proto, err := wsproto.Lookup(ws.Subprotocol())
	if err != nil {
		h.log.Debug("rejecting connection", "error", err)
		code := wsproto.CloseSubprotocolNotAcceptable
		_ = ws.Close(websocket.StatusCode(code), code.Reason())
		return
	}

	c := newConn(uuid.NewString(), ws, proto, h.bridge, h.opts, h.log)
	h.add(c)
	defer h.remove(c)

	metrics.ConnectionOpened(proto.Name)
	h.log.Debug("connection opened", "conn", c.ID(), "protocol", proto.Name, "remote", r.RemoteAddr)

	closeErr := c.Serve(r.Context())

	metrics.ConnectionClosed(proto.Name, int(closeErr.Code))
	h.log.Debug("connection closed", "conn", c.ID(), "code", int(closeErr.Code), "reason", closeErr.Reason)
}

func (h *Handler) add(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
}

func (h *Handler) remove(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.ID())
	h.mu.Unlock()
}

// ConnectionCount returns the number of active connections.
func (h *Handler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SubscriptionCount returns the total number of running operations across
// all connections.
func (h *Handler) SubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, c := range h.conns {
		count += c.SubscriptionCount()
	}
	return count
}

// CloseAll closes every active connection with 1001 going away.
func (h *Handler) CloseAll(reason string) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, reason)
	}
}

// DecodeInitPayload decodes a connection_init payload into v. An absent
// payload leaves v untouched.
func DecodeInitPayload(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
