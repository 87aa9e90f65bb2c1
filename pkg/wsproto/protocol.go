package wsproto

import "fmt"

// Negotiated sub-protocol identifiers.
const (
	SubprotocolGraphQLWS          = "graphql-ws"
	SubprotocolGraphQLTransportWS = "graphql-transport-ws"
)

// Protocol describes the vocabulary and timing rules of one sub-protocol.
// Descriptors are immutable after package initialization.
type Protocol struct {
	// Name is the sub-protocol identifier negotiated at handshake time.
	Name string

	// KeepAliveKind is the message sent on every keep-alive tick.
	KeepAliveKind Kind
	// KeepAliveOnAck sends a keep-alive immediately after connection_ack.
	KeepAliveOnAck bool
	// ExpectsPong makes server keep-alives a liveness check: a missing pong
	// within the configured grace period closes the connection.
	ExpectsPong bool
	// CloseOnMalformed closes the connection with CloseBadRequest on any
	// undecodable frame. When false, malformed operation frames are answered
	// with an error message and the connection stays open.
	CloseOnMalformed bool
	// ClientCompleteStops treats a client "complete" as a stop request.
	ClientCompleteStops bool
	// SingleErrorPayload encodes error payloads as one object instead of a list.
	SingleErrorPayload bool

	wire  map[Kind]string
	kinds map[string]Kind
}

var graphQLTransportWS = newProtocol(Protocol{
	Name:                SubprotocolGraphQLTransportWS,
	KeepAliveKind:       KindPing,
	ExpectsPong:         true,
	CloseOnMalformed:    true,
	ClientCompleteStops: true,
}, map[Kind]string{
	KindConnectionInit: "connection_init",
	KindConnectionAck:  "connection_ack",
	KindPing:           "ping",
	KindPong:           "pong",
	KindSubscribe:      "subscribe",
	KindNext:           "next",
	KindError:          "error",
	KindComplete:       "complete",
})

var graphQLWS = newProtocol(Protocol{
	Name:               SubprotocolGraphQLWS,
	KeepAliveKind:      KindKeepAlive,
	KeepAliveOnAck:     true,
	SingleErrorPayload: true,
}, map[Kind]string{
	KindConnectionInit:      "connection_init",
	KindConnectionAck:       "connection_ack",
	KindConnectionError:     "connection_error",
	KindConnectionTerminate: "connection_terminate",
	KindKeepAlive:           "ka",
	KindSubscribe:           "start",
	KindStop:                "stop",
	KindNext:                "data",
	KindError:               "error",
	KindComplete:            "complete",
})

func newProtocol(p Protocol, wire map[Kind]string) *Protocol {
	p.wire = wire
	p.kinds = make(map[string]Kind, len(wire))
	for k, s := range wire {
		p.kinds[s] = k
	}
	return &p
}

// Lookup returns the descriptor for a negotiated sub-protocol identifier.
// Unknown identifiers, including the empty string, are rejected.
func Lookup(name string) (*Protocol, error) {
	switch name {
	case SubprotocolGraphQLTransportWS:
		return graphQLTransportWS, nil
	case SubprotocolGraphQLWS:
		return graphQLWS, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSubprotocol, name)
	}
}

// Subprotocols lists the supported identifiers in server preference order.
func Subprotocols() []string {
	return []string{SubprotocolGraphQLTransportWS, SubprotocolGraphQLWS}
}

// WireType returns the type tag used for k, if the protocol has one.
func (p *Protocol) WireType(k Kind) (string, bool) {
	s, ok := p.wire[k]
	return s, ok
}

// KindOf maps a wire type tag to its message kind.
func (p *Protocol) KindOf(wireType string) (Kind, bool) {
	k, ok := p.kinds[wireType]
	return k, ok
}

// Supports reports whether k belongs to the protocol's vocabulary.
func (p *Protocol) Supports(k Kind) bool {
	_, ok := p.wire[k]
	return ok
}

// String returns the sub-protocol identifier.
func (p *Protocol) String() string {
	return p.Name
}
