package wsproto

import (
	"encoding/json"

	"github.com/getmockd/gqlws/pkg/graphql"
)

// Kind is the protocol-independent type of a message. Each Protocol maps the
// kinds it supports to its own wire type tags.
type Kind int

// Message kinds.
const (
	KindUnknown Kind = iota
	KindConnectionInit
	KindConnectionAck
	KindConnectionError
	KindConnectionTerminate
	KindKeepAlive
	KindPing
	KindPong
	KindSubscribe
	KindNext
	KindError
	KindComplete
	KindStop
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindConnectionInit:      "connection_init",
	KindConnectionAck:       "connection_ack",
	KindConnectionError:     "connection_error",
	KindConnectionTerminate: "connection_terminate",
	KindKeepAlive:           "keep_alive",
	KindPing:                "ping",
	KindPong:                "pong",
	KindSubscribe:           "subscribe",
	KindNext:                "next",
	KindError:               "error",
	KindComplete:            "complete",
	KindStop:                "stop",
}

// String returns a protocol-independent name for the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// IsOperation reports whether messages of this kind carry an operation id.
func (k Kind) IsOperation() bool {
	switch k {
	case KindSubscribe, KindNext, KindError, KindComplete, KindStop:
		return true
	default:
		return false
	}
}

// SubscribePayload is the payload of subscribe/start messages.
type SubscribePayload struct {
	OperationName string                 `json:"operationName,omitempty"`
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

// Request converts the payload into an executor request.
func (p *SubscribePayload) Request() *graphql.GraphQLRequest {
	return &graphql.GraphQLRequest{
		Query:         p.Query,
		OperationName: p.OperationName,
		Variables:     p.Variables,
	}
}

// Message is a decoded protocol message. Which payload field is set depends
// on Kind:
//   - KindSubscribe: Subscribe
//   - KindNext: Result
//   - KindError: Errors
//   - everything else: Payload (raw JSON, may be nil)
type Message struct {
	Kind      Kind
	ID        string
	Payload   json.RawMessage
	Subscribe *SubscribePayload
	Result    *graphql.GraphQLResponse
	Errors    []graphql.GraphQLError
}

// AckMessage builds a connection_ack.
func AckMessage(payload json.RawMessage) Message {
	return Message{Kind: KindConnectionAck, Payload: payload}
}

// PingMessage builds a ping.
func PingMessage() Message {
	return Message{Kind: KindPing}
}

// PongMessage builds a pong echoing payload.
func PongMessage(payload json.RawMessage) Message {
	return Message{Kind: KindPong, Payload: payload}
}

// KeepAliveMessage builds a legacy "ka".
func KeepAliveMessage() Message {
	return Message{Kind: KindKeepAlive}
}

// ConnectionErrorMessage builds a legacy connection_error.
func ConnectionErrorMessage(message string) Message {
	payload, _ := json.Marshal(graphql.GraphQLError{Message: message})
	return Message{Kind: KindConnectionError, Payload: payload}
}

// SubscribeMessage builds a subscribe (start on the legacy protocol).
func SubscribeMessage(id string, payload *SubscribePayload) Message {
	return Message{Kind: KindSubscribe, ID: id, Subscribe: payload}
}

// NextMessage builds a next (data on the legacy protocol).
func NextMessage(id string, result *graphql.GraphQLResponse) Message {
	return Message{Kind: KindNext, ID: id, Result: result}
}

// ErrorMessage builds an operation error.
func ErrorMessage(id string, errs ...graphql.GraphQLError) Message {
	return Message{Kind: KindError, ID: id, Errors: errs}
}

// CompleteMessage builds a complete.
func CompleteMessage(id string) Message {
	return Message{Kind: KindComplete, ID: id}
}

// StopMessage builds a legacy stop.
func StopMessage(id string) Message {
	return Message{Kind: KindStop, ID: id}
}
