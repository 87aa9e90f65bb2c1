package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/getmockd/gqlws/pkg/config"
	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/httputil"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/metrics"
	"github.com/getmockd/gqlws/pkg/subscription"
)

// HealthPath is the liveness endpoint.
const HealthPath = "/healthz"

// shutdownReason is sent to WebSocket clients when the server stops.
const shutdownReason = "server shutting down"

// ErrInvalidAuthToken is returned by the connection_init hook when the
// payload does not carry the configured token.
var ErrInvalidAuthToken = errors.New("invalid auth token")

// Server serves one GraphQL endpoint over HTTP and WebSocket.
type Server struct {
	cfg  *config.Config
	log  *slog.Logger
	gql  *graphql.Handler
	subs *subscription.Handler
	mux  *http.ServeMux

	httpServer *http.Server
	startTime  time.Time
	stopping   atomic.Bool
}

// New builds the schema, executor and handlers described by cfg.
func New(cfg *config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = logging.Nop()
	}

	gql, err := graphql.Endpoint(&cfg.GraphQL)
	if err != nil {
		return nil, fmt.Errorf("graphql endpoint: %w", err)
	}
	gql.SetLogger(log.With("component", "graphql"))

	s := &Server{
		cfg:  cfg,
		log:  log,
		gql:  gql,
		subs: subscription.NewHandler(gql.Executor(), SubscriptionOptions(cfg, log.With("component", "subscription"))),
		mux:  http.NewServeMux(),
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	return s, nil
}

// SubscriptionOptions maps the websocket section of cfg to handler options.
// A configured auth token is checked against connection_init
// payload.authToken.
func SubscriptionOptions(cfg *config.Config, log *slog.Logger) subscription.Options {
	ws := cfg.WebSocket
	opts := subscription.Options{
		InitTimeout:        ws.InitTimeout,
		KeepAlive:          ws.KeepAlive,
		PongTimeout:        ws.PongTimeout,
		WriteTimeout:       ws.WriteTimeout,
		SendBuffer:         ws.SendBuffer,
		ReadLimit:          ws.ReadLimit,
		OriginPatterns:     ws.OriginPatterns,
		InsecureSkipVerify: ws.InsecureSkipVerify,
		Logger:             log,
	}
	if ws.AuthToken != "" {
		opts.OnConnect = tokenAuth(ws.AuthToken)
	}
	return opts
}

func tokenAuth(token string) func(context.Context, json.RawMessage) error {
	return func(_ context.Context, payload json.RawMessage) error {
		var p struct {
			AuthToken string `json:"authToken"`
		}
		if err := subscription.DecodeInitPayload(payload, &p); err != nil {
			return fmt.Errorf("decode connection_init payload: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(p.AuthToken), []byte(token)) != 1 {
			return ErrInvalidAuthToken
		}
		return nil
	}
}

func (s *Server) routes() {
	path := s.gql.Pattern()
	s.mux.HandleFunc(path, s.handleGraphQL)
	s.mux.HandleFunc(subscriptionAlias(path), s.handleGraphQL)
	s.mux.HandleFunc(HealthPath, s.handleHealth)

	if s.cfg.Metrics.Enabled {
		s.mux.Handle(s.cfg.Metrics.Path, metrics.Handler(metrics.Init()))
	}
}

// subscriptionAlias is the secondary WebSocket path, <path>/ws.
func subscriptionAlias(path string) string {
	return strings.TrimSuffix(path, "/") + "/ws"
}

// handleGraphQL sends WebSocket upgrades to the subscription handler and
// everything else to the HTTP handler.
func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	if httputil.IsWebSocketUpgrade(r) {
		if s.stopping.Load() {
			httputil.WriteServiceUnavailable(w, "shutting_down", shutdownReason)
			return
		}
		s.subs.ServeHTTP(w, r)
		return
	}
	s.gql.ServeHTTP(w, r)
}

// HealthStatus is the /healthz response body.
type HealthStatus struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Connections   int    `json:"connections"`
	Subscriptions int    `json:"subscriptions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.WriteMethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}

	status := HealthStatus{
		Status:        "ok",
		Connections:   s.subs.ConnectionCount(),
		Subscriptions: s.subs.SubscriptionCount(),
	}
	if !s.startTime.IsZero() {
		status.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	code := http.StatusOK
	if s.stopping.Load() {
		status.Status = "stopping"
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Subscriptions returns the WebSocket handler.
func (s *Server) Subscriptions() *subscription.Handler {
	return s.subs
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes every
// WebSocket connection with 1001 and shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.startTime = time.Now()
	s.log.Info("server started",
		"addr", ln.Addr().String(),
		"path", s.gql.Pattern(),
		"metrics", s.cfg.Metrics.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	s.stopping.Store(true)
	s.log.Info("server stopping", "connections", s.subs.ConnectionCount())

	s.subs.CloseAll(shutdownReason)

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}

	s.log.Info("server stopped")
	return nil
}
