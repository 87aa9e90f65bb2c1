// Package metrics provides the Prometheus metrics exported by the gqlws server.
//
// Metrics are created by Init on a dedicated registry together with the Go
// runtime and process collectors. Until Init is called every helper in this
// package is a no-op, so libraries can record unconditionally.
//
// # Default Metrics
//
//   - gqlws_requests_total: GraphQL-over-HTTP requests (labels: method, path, status)
//   - gqlws_request_duration_seconds: GraphQL-over-HTTP latency (labels: method, path)
//   - gqlws_active_connections: open WebSocket connections (labels: protocol)
//   - gqlws_active_subscriptions: running operations (labels: protocol)
//   - gqlws_messages_total: protocol messages (labels: protocol, direction, type)
//   - gqlws_connections_closed_total: closed connections (labels: protocol, code)
//   - gqlws_errors_total: errors by type (labels: type)
//
// # Label Conventions
//
//   - protocol: the negotiated subprotocol (graphql-ws, graphql-transport-ws)
//   - direction: inbound, outbound
//   - type: the message type as it appears on the wire
//
// # Usage
//
//	reg := metrics.Init()
//	metrics.ConnectionOpened("graphql-transport-ws")
//	http.Handle("/metrics", metrics.Handler(reg))
package metrics
