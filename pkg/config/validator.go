package config

import (
	"fmt"
	"strings"
)

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

// Validate checks the configuration and returns the first problem found.
// It does not load the schema; graphql.Endpoint does that.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &ValidationError{Field: "server.addr", Message: "addr is required"}
	}
	if c.Server.ReadHeaderTimeout < 0 {
		return &ValidationError{Field: "server.readHeaderTimeout", Message: "readHeaderTimeout must be >= 0"}
	}
	if c.Server.ShutdownTimeout < 0 {
		return &ValidationError{Field: "server.shutdownTimeout", Message: "shutdownTimeout must be >= 0"}
	}

	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		return &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q (want debug, info, warn or error)", c.Logging.Level),
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q (want text or json)", c.Logging.Format),
		}
	}
	if f := c.Logging.File; f != nil {
		if f.Path == "" {
			return &ValidationError{Field: "logging.file.path", Message: "path is required"}
		}
		if f.MaxSizeMB < 0 || f.MaxBackups < 0 || f.MaxAgeDays < 0 {
			return &ValidationError{Field: "logging.file", Message: "rotation limits must be >= 0"}
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return &ValidationError{Field: "metrics.path", Message: "path must start with /"}
	}

	ws := c.WebSocket
	durations := []struct {
		field string
		value int64
	}{
		{"websocket.initTimeout", int64(ws.InitTimeout)},
		{"websocket.keepAlive", int64(ws.KeepAlive)},
		{"websocket.pongTimeout", int64(ws.PongTimeout)},
		{"websocket.writeTimeout", int64(ws.WriteTimeout)},
	}
	for _, d := range durations {
		if d.value < 0 {
			return &ValidationError{Field: d.field, Message: "duration must be >= 0"}
		}
	}
	if ws.SendBuffer < 0 {
		return &ValidationError{Field: "websocket.sendBuffer", Message: "sendBuffer must be >= 0"}
	}
	if ws.ReadLimit < 0 {
		return &ValidationError{Field: "websocket.readLimit", Message: "readLimit must be >= 0"}
	}
	if ws.PongTimeout > 0 && ws.KeepAlive == 0 {
		return &ValidationError{Field: "websocket.pongTimeout", Message: "pongTimeout requires keepAlive"}
	}

	if !strings.HasPrefix(c.GraphQL.Path, "/") {
		return &ValidationError{Field: "graphql.path", Message: "path must start with /"}
	}
	if c.GraphQL.Schema == "" && c.GraphQL.SchemaFile == "" {
		return &ValidationError{Field: "graphql", Message: "schema or schemaFile is required"}
	}
	if c.Metrics.Enabled && c.Metrics.Path == c.GraphQL.Path {
		return &ValidationError{Field: "metrics.path", Message: "path conflicts with graphql.path"}
	}

	return nil
}
