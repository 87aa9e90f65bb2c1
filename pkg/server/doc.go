// Package server assembles the gqlws HTTP server.
//
// The GraphQL path serves queries and mutations over HTTP and all operations
// over WebSocket (graphql-transport-ws and graphql-ws); <path>/ws is accepted
// as an alias for WebSocket clients. /healthz reports liveness and open
// connection counts, and /metrics exposes Prometheus metrics when enabled.
package server
