package subscription

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/coder/websocket"
)

var (
	// ErrSubscriberAlreadyExists is returned when an operation id is already
	// registered on the connection.
	ErrSubscriberAlreadyExists = errors.New("subscriber already exists")

	// ErrRegistryClosed is returned when subscribing after teardown started.
	ErrRegistryClosed = errors.New("subscription registry closed")

	// ErrNotAPublisher is reported when a subscription operation resolves to
	// something other than a stream.
	ErrNotAPublisher = errors.New("subscription result is not a publisher")
)

// Error codes placed in the "code" extension of operation errors.
const (
	CodeSubscriberAlreadyExists = "SUBSCRIBER_ALREADY_EXISTS"
	CodeNotAPublisher           = "SUBSCRIPTION_NOT_A_PUBLISHER"
	CodeParseFailed             = "GRAPHQL_PARSE_FAILED"
	CodeBadRequest              = "BAD_REQUEST"
	CodeInternal                = "INTERNAL_SERVER_ERROR"
)

// maxCloseReason is the longest close reason a close frame can carry.
const maxCloseReason = 123

// CloseError describes how a connection was closed.
type CloseError struct {
	Code   websocket.StatusCode
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: %d %s", int(e.Code), e.Reason)
}

func newCloseError(code websocket.StatusCode, reason string) *CloseError {
	if len(reason) > maxCloseReason {
		cut := maxCloseReason
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	return &CloseError{Code: code, Reason: reason}
}
