package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/gqlws/pkg/config"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/server"
)

type serveFlags struct {
	addr        string
	path        string
	schemaFile  string
	logLevel    string
	logFormat   string
	metrics     bool
	keepAlive   time.Duration
	initTimeout time.Duration
	pongTimeout time.Duration
	authToken   string
}

var serveOpts serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the GraphQL server",
	Long: `Start the GraphQL server.

Queries and mutations are served over HTTP POST/GET on the GraphQL path.
All operations, including subscriptions, are served over WebSocket on the
same path (and on <path>/ws).`,
	Example: `  gqlws serve --config gqlws.yaml
  gqlws serve --schema-file schema.graphql --addr :8080 --keep-alive 15s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyServeFlags(cmd, cfg, &serveOpts)
		if err := cfg.Validate(); err != nil {
			return err
		}

		log := logging.New(cfg.LoggingOptions())
		srv, err := server.New(cfg, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

// applyServeFlags copies explicitly set flags onto cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, f *serveFlags) {
	flags := cmd.Flags()
	set := func(name, key string, apply func()) {
		if flags.Changed(name) {
			apply()
			cfg.Sources[key] = config.SourceFlag
		}
	}

	set("addr", "server.addr", func() { cfg.Server.Addr = f.addr })
	set("path", "graphql.path", func() { cfg.GraphQL.Path = f.path })
	set("schema-file", "graphql.schemaFile", func() { cfg.GraphQL.SchemaFile = f.schemaFile })
	set("log-level", "logging.level", func() { cfg.Logging.Level = f.logLevel })
	set("log-format", "logging.format", func() { cfg.Logging.Format = f.logFormat })
	set("metrics", "metrics.enabled", func() { cfg.Metrics.Enabled = f.metrics })
	set("keep-alive", "websocket.keepAlive", func() { cfg.WebSocket.KeepAlive = f.keepAlive })
	set("init-timeout", "websocket.initTimeout", func() { cfg.WebSocket.InitTimeout = f.initTimeout })
	set("pong-timeout", "websocket.pongTimeout", func() { cfg.WebSocket.PongTimeout = f.pongTimeout })
	set("auth-token", "websocket.authToken", func() { cfg.WebSocket.AuthToken = f.authToken })
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.addr, "addr", config.DefaultAddr, "Listen address")
	f.StringVar(&serveOpts.path, "path", config.DefaultPath, "GraphQL endpoint path")
	f.StringVar(&serveOpts.schemaFile, "schema-file", "", "GraphQL SDL schema file")
	f.StringVar(&serveOpts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&serveOpts.logFormat, "log-format", "text", "Log format (text, json)")
	f.BoolVar(&serveOpts.metrics, "metrics", false, "Expose Prometheus metrics")
	f.DurationVar(&serveOpts.keepAlive, "keep-alive", config.DefaultKeepAlive, "WebSocket keep-alive interval (0 disables)")
	f.DurationVar(&serveOpts.initTimeout, "init-timeout", 10*time.Second, "Time allowed for connection_init")
	f.DurationVar(&serveOpts.pongTimeout, "pong-timeout", 0, "Close graphql-transport-ws connections with unanswered pings (0 disables)")
	f.StringVar(&serveOpts.authToken, "auth-token", "", "Require connection_init payload.authToken")

	rootCmd.AddCommand(serveCmd)
}
