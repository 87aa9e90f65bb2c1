// Package subscription serves GraphQL operations over WebSocket.
//
// A Handler upgrades HTTP requests, negotiates graphql-transport-ws or the
// legacy graphql-ws subprotocol, and runs one Conn per socket. A Conn moves
// from awaiting init to initialized to terminated, processes inbound frames in
// order, and writes all outbound frames from a single goroutine.
//
// Each connection owns a Registry mapping client operation ids to running
// operations. The Registry starts operations through a Bridge, which turns an
// executor result (a single response or a graphql.Publisher) into a Stream of
// next events ending in exactly one completed or failed event. Every
// operation ends with at most one complete or error frame.
//
// Connection-fatal protocol violations close the socket with the
// graphql-transport-ws close codes from package wsproto:
//
//	4400 malformed message (always before init, and on graphql-transport-ws)
//	4401 operation message before connection_init
//	4403 connection_init rejected by Options.OnConnect
//	4406 no supported subprotocol negotiated
//	4408 no connection_init within Options.InitTimeout
//	4429 second connection_init
package subscription
