package wsproto

import (
	"errors"
	"fmt"
)

// ErrUnsupportedSubprotocol indicates the negotiated sub-protocol is not one
// of the supported identifiers.
var ErrUnsupportedSubprotocol = errors.New("unsupported subprotocol")

// DecodeReason classifies why a frame could not be decoded.
type DecodeReason int

// Decode failure reasons.
const (
	// ReasonMalformed means the frame is not a JSON object of the expected shape.
	ReasonMalformed DecodeReason = iota
	// ReasonMissingType means the frame has no "type" field.
	ReasonMissingType
	// ReasonUnknownType means the type tag is not in the protocol vocabulary.
	ReasonUnknownType
	// ReasonMissingID means an operation message has no id.
	ReasonMissingID
	// ReasonInvalidPayload means the payload does not match the message type.
	ReasonInvalidPayload
)

// String returns a short name for the reason.
func (r DecodeReason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed"
	case ReasonMissingType:
		return "missing type"
	case ReasonUnknownType:
		return "unknown type"
	case ReasonMissingID:
		return "missing id"
	case ReasonInvalidPayload:
		return "invalid payload"
	default:
		return "unknown"
	}
}

// DecodeError is returned by Codec.Decode. Type and ID are filled in when
// they could be read from the frame, so callers can scope the failure to an
// operation.
type DecodeError struct {
	Reason DecodeReason
	Type   string
	ID     string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "invalid message: " + e.Reason.String()
	if e.Type != "" {
		msg += fmt.Sprintf(" (type %q)", e.Type)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
