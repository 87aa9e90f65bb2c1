// Package wsproto defines the wire vocabulary of the two GraphQL-over-WebSocket
// sub-protocols and a codec that translates between raw frames and typed
// messages.
//
// Two sub-protocols are supported:
//   - graphql-transport-ws: the current protocol (subscribe/next/complete,
//     bidirectional ping/pong)
//   - graphql-ws: the legacy subscriptions-transport-ws protocol
//     (start/data/stop, one-way "ka" keep-alive)
//
// A Protocol descriptor is selected once per connection with Lookup and never
// renegotiated. The Codec built from it is a plain value with no mutable
// state, so it can be shared freely:
//
//	proto, err := wsproto.Lookup(conn.Subprotocol())
//	if err != nil {
//	    // reject with CloseSubprotocolNotAcceptable
//	}
//	codec := wsproto.NewCodec(proto)
//	msg, derr := codec.Decode(frame)
//	out := codec.Encode(wsproto.CompleteMessage(msg.ID))
package wsproto
