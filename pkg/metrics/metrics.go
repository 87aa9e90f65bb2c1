package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gqlws"

// Message directions.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// Default metrics. These are initialized by calling Init().
var (
	// RequestsTotal counts GraphQL-over-HTTP requests.
	// Labels: method, path, status
	RequestsTotal *prometheus.CounterVec

	// RequestDuration tracks GraphQL-over-HTTP request latency in seconds.
	// Labels: method, path
	RequestDuration *prometheus.HistogramVec

	// ActiveConnections tracks open WebSocket connections.
	// Labels: protocol
	ActiveConnections *prometheus.GaugeVec

	// ActiveSubscriptions tracks running operations across all connections.
	// Labels: protocol
	ActiveSubscriptions *prometheus.GaugeVec

	// MessagesTotal counts protocol messages.
	// Labels: protocol, direction, type
	MessagesTotal *prometheus.CounterVec

	// ConnectionsClosedTotal counts closed connections by close code.
	// Labels: protocol, code
	ConnectionsClosedTotal *prometheus.CounterVec

	// ErrorsTotal counts errors by type (decode, write, stream, internal).
	ErrorsTotal *prometheus.CounterVec

	defaultRegistry *prometheus.Registry
	initOnce        sync.Once
)

// Init initializes the default metrics and returns the registry they are
// registered with. It is idempotent.
func Init() *prometheus.Registry {
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		register(promauto.With(reg))
		defaultRegistry = reg
	})
	return defaultRegistry
}

func register(f promauto.Factory) {
	RequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total number of GraphQL-over-HTTP requests",
	}, []string{"method", "path", "status"})

	RequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Duration of GraphQL-over-HTTP requests in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method", "path"})

	ActiveConnections = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Number of open WebSocket connections",
	}, []string{"protocol"})

	ActiveSubscriptions = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_subscriptions",
		Help:      "Number of running operations",
	}, []string{"protocol"})

	MessagesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Total number of protocol messages",
	}, []string{"protocol", "direction", "type"})

	ConnectionsClosedTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_closed_total",
		Help:      "Total number of closed connections by close code",
	}, []string{"protocol", "code"})

	ErrorsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total number of errors by type",
	}, []string{"type"})
}

// Handler returns the exposition handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ObserveRequest records one GraphQL-over-HTTP request.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	if RequestsTotal != nil {
		RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	}
	if RequestDuration != nil {
		RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	}
}

// ConnectionOpened records a newly negotiated connection.
func ConnectionOpened(protocol string) {
	if ActiveConnections != nil {
		ActiveConnections.WithLabelValues(protocol).Inc()
	}
}

// ConnectionClosed records a connection closed with code.
func ConnectionClosed(protocol string, code int) {
	if ActiveConnections != nil {
		ActiveConnections.WithLabelValues(protocol).Dec()
	}
	if ConnectionsClosedTotal != nil {
		ConnectionsClosedTotal.WithLabelValues(protocol, strconv.Itoa(code)).Inc()
	}
}

// SubscriptionStarted records an operation added to a registry.
func SubscriptionStarted(protocol string) {
	if ActiveSubscriptions != nil {
		ActiveSubscriptions.WithLabelValues(protocol).Inc()
	}
}

// SubscriptionEnded records an operation removed from a registry.
func SubscriptionEnded(protocol string) {
	if ActiveSubscriptions != nil {
		ActiveSubscriptions.WithLabelValues(protocol).Dec()
	}
}

// Message records a protocol message of the given wire type.
func Message(protocol, direction, wireType string) {
	if MessagesTotal != nil {
		MessagesTotal.WithLabelValues(protocol, direction, wireType).Inc()
	}
}

// Error records an error of the given type.
func Error(errType string) {
	if ErrorsTotal != nil {
		ErrorsTotal.WithLabelValues(errType).Inc()
	}
}
