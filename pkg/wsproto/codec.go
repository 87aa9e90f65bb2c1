package wsproto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getmockd/gqlws/pkg/graphql"
)

// frame is the envelope shared by every message of both protocols.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Codec decodes and encodes frames for one protocol.
type Codec struct {
	proto *Protocol
}

// NewCodec returns a codec for the given protocol.
func NewCodec(p *Protocol) Codec {
	return Codec{proto: p}
}

// Protocol returns the protocol the codec was built for.
func (c Codec) Protocol() *Protocol {
	return c.proto
}

// Decode parses a raw text frame. Every failure is reported as a *DecodeError.
func (c Codec) Decode(data []byte) (Message, *DecodeError) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Message{}, &DecodeError{Reason: ReasonMalformed, Err: err}
	}
	if f.Type == "" {
		return Message{}, &DecodeError{Reason: ReasonMissingType, ID: f.ID}
	}

	kind, ok := c.proto.KindOf(f.Type)
	if !ok {
		return Message{}, &DecodeError{Reason: ReasonUnknownType, Type: f.Type, ID: f.ID}
	}
	if kind.IsOperation() && f.ID == "" {
		return Message{}, &DecodeError{Reason: ReasonMissingID, Type: f.Type}
	}

	payload := f.Payload
	if isNull(payload) {
		payload = nil
	}

	msg := Message{Kind: kind, ID: f.ID}
	invalid := func(err error) (Message, *DecodeError) {
		return Message{}, &DecodeError{Reason: ReasonInvalidPayload, Type: f.Type, ID: f.ID, Err: err}
	}

	switch kind {
	case KindSubscribe:
		if payload == nil {
			return invalid(errors.New("payload is required"))
		}
		var sp SubscribePayload
		if err := json.Unmarshal(payload, &sp); err != nil {
			return invalid(err)
		}
		if sp.Query == "" {
			return invalid(errors.New("query is required"))
		}
		msg.Subscribe = &sp

	case KindNext:
		var res graphql.GraphQLResponse
		if payload != nil {
			if err := json.Unmarshal(payload, &res); err != nil {
				return invalid(err)
			}
		}
		msg.Result = &res

	case KindError:
		errs, err := decodeErrors(payload)
		if err != nil {
			return invalid(err)
		}
		msg.Errors = errs

	case KindConnectionInit:
		if payload != nil && !isObject(payload) {
			return invalid(errors.New("connection_init payload must be an object"))
		}
		msg.Payload = payload

	default:
		msg.Payload = payload
	}

	return msg, nil
}

// Encode serializes msg. It never fails: payloads that cannot be marshaled are
// replaced by an error description so the frame stays well-formed.
func (c Codec) Encode(msg Message) []byte {
	wireType, ok := c.proto.WireType(msg.Kind)
	if !ok {
		wireType = msg.Kind.String()
	}

	f := frame{ID: msg.ID, Type: wireType}

	switch msg.Kind {
	case KindSubscribe:
		if msg.Subscribe != nil {
			f.Payload = marshalOr(msg.Subscribe, func(err error) interface{} {
				return &SubscribePayload{Query: msg.Subscribe.Query, OperationName: msg.Subscribe.OperationName}
			})
		}

	case KindNext:
		res := msg.Result
		if res == nil {
			res = &graphql.GraphQLResponse{}
		}
		f.Payload = marshalOr(res, func(err error) interface{} {
			return &graphql.GraphQLResponse{Errors: []graphql.GraphQLError{{
				Message: fmt.Sprintf("failed to encode result: %v", err),
			}}}
		})

	case KindError:
		errs := msg.Errors
		if len(errs) == 0 {
			errs = []graphql.GraphQLError{{Message: "unknown error"}}
		}
		fallback := func(err error) interface{} {
			return []graphql.GraphQLError{{Message: fmt.Sprintf("failed to encode error: %v", err)}}
		}
		if c.proto.SingleErrorPayload && len(errs) == 1 {
			f.Payload = marshalOr(errs[0], fallback)
		} else {
			f.Payload = marshalOr(errs, fallback)
		}

	default:
		if len(msg.Payload) > 0 && json.Valid(msg.Payload) {
			f.Payload = msg.Payload
		}
	}

	data, err := json.Marshal(f)
	if err != nil {
		// Only reachable with an invalid payload; drop it.
		f.Payload = nil
		data, _ = json.Marshal(f)
	}
	return data
}

// decodeErrors accepts either a list of errors (graphql-transport-ws) or a
// single error object (graphql-ws).
func decodeErrors(payload json.RawMessage) ([]graphql.GraphQLError, error) {
	if payload == nil {
		return nil, errors.New("payload is required")
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var one graphql.GraphQLError
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, err
		}
		return []graphql.GraphQLError{one}, nil
	}
	var errs []graphql.GraphQLError
	if err := json.Unmarshal(trimmed, &errs); err != nil {
		return nil, err
	}
	return errs, nil
}

func marshalOr(v interface{}, fallback func(error) interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err == nil {
		return data
	}
	data, err = json.Marshal(fallback(err))
	if err != nil {
		return nil
	}
	return data
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
