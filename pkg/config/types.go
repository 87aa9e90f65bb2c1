package config

import (
	"time"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/subscription"
)

// Default values for a new configuration.
const (
	DefaultAddr              = ":4000"
	DefaultPath              = "/graphql"
	DefaultMetricsPath       = "/metrics"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultKeepAlive         = 12 * time.Second
)

// Config is the complete gqlws server configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `json:"server" yaml:"server"`
	// Logging configures structured logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	// WebSocket configures the GraphQL-over-WebSocket transport.
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
	// GraphQL is the endpoint served over HTTP and WebSocket.
	GraphQL graphql.GraphQLConfig `json:"graphql" yaml:"graphql"`

	// Sources records where each value came from, keyed by dotted path
	// (e.g. "websocket.keepAlive").
	Sources map[string]string `json:"-" yaml:"-"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":4000".
	Addr string `json:"addr" yaml:"addr"`
	// ReadHeaderTimeout bounds reading request headers.
	ReadHeaderTimeout time.Duration `json:"readHeaderTimeout,omitempty" yaml:"readHeaderTimeout,omitempty"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdownTimeout,omitempty" yaml:"shutdownTimeout,omitempty"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level"`
	// Format is text or json.
	Format string `json:"format" yaml:"format"`
	// AddSource adds file and line to log entries.
	AddSource bool `json:"addSource,omitempty" yaml:"addSource,omitempty"`
	// File additionally writes JSON logs to a rotated file.
	File *LogFileConfig `json:"file,omitempty" yaml:"file,omitempty"`
}

// LogFileConfig configures a rotated log file.
type LogFileConfig struct {
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"maxSizeMB,omitempty" yaml:"maxSizeMB,omitempty"`
	MaxBackups int    `json:"maxBackups,omitempty" yaml:"maxBackups,omitempty"`
	MaxAgeDays int    `json:"maxAgeDays,omitempty" yaml:"maxAgeDays,omitempty"`
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// WebSocketConfig configures the GraphQL-over-WebSocket transport.
type WebSocketConfig struct {
	// InitTimeout bounds the wait for connection_init.
	InitTimeout time.Duration `json:"initTimeout,omitempty" yaml:"initTimeout,omitempty"`
	// KeepAlive is the server keep-alive interval. Zero disables it.
	KeepAlive time.Duration `json:"keepAlive,omitempty" yaml:"keepAlive,omitempty"`
	// PongTimeout closes graphql-transport-ws connections that leave a ping
	// unanswered this long. Zero disables the check.
	PongTimeout time.Duration `json:"pongTimeout,omitempty" yaml:"pongTimeout,omitempty"`
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty"`
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `json:"sendBuffer,omitempty" yaml:"sendBuffer,omitempty"`
	// ReadLimit is the maximum inbound message size in bytes.
	ReadLimit int64 `json:"readLimit,omitempty" yaml:"readLimit,omitempty"`
	// OriginPatterns lists allowed cross-origin host patterns.
	OriginPatterns []string `json:"originPatterns,omitempty" yaml:"originPatterns,omitempty"`
	// InsecureSkipVerify disables Origin checks.
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	// AuthToken, when set, must be sent as connection_init payload.authToken.
	AuthToken string `json:"authToken,omitempty" yaml:"authToken,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              DefaultAddr,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ShutdownTimeout:   DefaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatText),
		},
		Metrics: MetricsConfig{
			Path: DefaultMetricsPath,
		},
		WebSocket: WebSocketConfig{
			InitTimeout:  subscription.DefaultInitTimeout,
			KeepAlive:    DefaultKeepAlive,
			WriteTimeout: subscription.DefaultWriteTimeout,
			SendBuffer:   subscription.DefaultSendBuffer,
		},
		GraphQL: graphql.GraphQLConfig{
			Path: DefaultPath,
		},
		Sources: make(map[string]string),
	}
}

// LoggingOptions converts the logging section to logging.Config.
func (c *Config) LoggingOptions() logging.Config {
	out := logging.DefaultConfig()
	out.Level = logging.ParseLevel(c.Logging.Level)
	out.Format = logging.ParseFormat(c.Logging.Format)
	out.AddSource = c.Logging.AddSource
	if f := c.Logging.File; f != nil && f.Path != "" {
		out.File = &logging.FileConfig{
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		}
	}
	return out
}
