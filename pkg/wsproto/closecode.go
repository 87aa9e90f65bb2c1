package wsproto

import "strconv"

// CloseCode is an application WebSocket close code (4000-4999 range).
type CloseCode int

// Close codes defined by graphql-transport-ws. The legacy protocol reuses
// them for the equivalent connection-fatal conditions.
const (
	CloseBadRequest                       CloseCode = 4400
	CloseUnauthorized                     CloseCode = 4401
	CloseForbidden                        CloseCode = 4403
	CloseSubprotocolNotAcceptable         CloseCode = 4406
	CloseConnectionInitialisationTimeout  CloseCode = 4408
	CloseSubscriberAlreadyExists          CloseCode = 4409
	CloseTooManyInitialisationRequests    CloseCode = 4429
	CloseInternalServerError              CloseCode = 4500
	CloseConnectionAcknowledgementTimeout CloseCode = 4504
)

var closeCodeReasons = map[CloseCode]string{
	CloseBadRequest:                       "Bad request",
	CloseUnauthorized:                     "Unauthorized",
	CloseForbidden:                        "Forbidden",
	CloseSubprotocolNotAcceptable:         "Subprotocol not acceptable",
	CloseConnectionInitialisationTimeout:  "Connection initialisation timeout",
	CloseSubscriberAlreadyExists:          "Subscriber already exists",
	CloseTooManyInitialisationRequests:    "Too many initialisation requests",
	CloseInternalServerError:              "Internal server error",
	CloseConnectionAcknowledgementTimeout: "Connection acknowledgement timeout",
}

// Reason returns the default close reason text for the code.
func (c CloseCode) Reason() string {
	if r, ok := closeCodeReasons[c]; ok {
		return r
	}
	return "Close " + strconv.Itoa(int(c))
}

// String returns the code and its reason.
func (c CloseCode) String() string {
	return strconv.Itoa(int(c)) + " " + c.Reason()
}
