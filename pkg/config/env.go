package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names
const (
	EnvConfig       = "GQLWS_CONFIG"
	EnvAddr         = "GQLWS_ADDR"
	EnvPath         = "GQLWS_PATH"
	EnvSchemaFile   = "GQLWS_SCHEMA_FILE"
	EnvLogLevel     = "GQLWS_LOG_LEVEL"
	EnvLogFormat    = "GQLWS_LOG_FORMAT"
	EnvLogFile      = "GQLWS_LOG_FILE"
	EnvMetrics      = "GQLWS_METRICS"
	EnvInitTimeout  = "GQLWS_INIT_TIMEOUT"
	EnvKeepAlive    = "GQLWS_KEEP_ALIVE"
	EnvPongTimeout  = "GQLWS_PONG_TIMEOUT"
	EnvWriteTimeout = "GQLWS_WRITE_TIMEOUT"
	EnvAuthToken    = "GQLWS_AUTH_TOKEN"
)

// ApplyEnv applies GQLWS_* environment overrides to cfg. Only variables that
// are set and parse are applied.
func ApplyEnv(cfg *Config) {
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]string)
	}

	envString(cfg, EnvAddr, "server.addr", &cfg.Server.Addr)
	envString(cfg, EnvPath, "graphql.path", &cfg.GraphQL.Path)
	envString(cfg, EnvSchemaFile, "graphql.schemaFile", &cfg.GraphQL.SchemaFile)
	envString(cfg, EnvLogLevel, "logging.level", &cfg.Logging.Level)
	envString(cfg, EnvLogFormat, "logging.format", &cfg.Logging.Format)
	envString(cfg, EnvAuthToken, "websocket.authToken", &cfg.WebSocket.AuthToken)

	// GQLWS_LOG_FILE
	if v := os.Getenv(EnvLogFile); v != "" {
		if cfg.Logging.File == nil {
			cfg.Logging.File = &LogFileConfig{}
		}
		cfg.Logging.File.Path = v
		cfg.Sources["logging.file"] = SourceEnv
	}

	// GQLWS_METRICS
	if v := os.Getenv(EnvMetrics); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
		cfg.Sources["metrics.enabled"] = SourceEnv
	}

	envDuration(cfg, EnvInitTimeout, "websocket.initTimeout", &cfg.WebSocket.InitTimeout)
	envDuration(cfg, EnvKeepAlive, "websocket.keepAlive", &cfg.WebSocket.KeepAlive)
	envDuration(cfg, EnvPongTimeout, "websocket.pongTimeout", &cfg.WebSocket.PongTimeout)
	envDuration(cfg, EnvWriteTimeout, "websocket.writeTimeout", &cfg.WebSocket.WriteTimeout)
}

// GetConfigFromEnv returns the config file path from the environment.
// Returns empty string if not set.
func GetConfigFromEnv() string {
	return os.Getenv(EnvConfig)
}

func envString(cfg *Config, name, key string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
		cfg.Sources[key] = SourceEnv
	}
}

// envDuration accepts Go durations ("15s") or whole seconds ("15").
func envDuration(cfg *Config, name, key string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return
		}
		d = time.Duration(secs) * time.Second
	}
	*dst = d
	cfg.Sources[key] = SourceEnv
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
