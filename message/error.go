package message

import "fmt"

// Error types describe what the sender of a failed interaction should do next.
const (
	ErrorCancel   = "cancel"   // Do not retry
	ErrorContinue = "continue" // Warning only
	ErrorModify   = "modify"   // Retry after changing the payload
	ErrorAuth     = "auth"     // Retry after authenticating
	ErrorWait     = "wait"     // Retry later
)

// Error groups are the machine-readable codes of an application Error.
const (
	GroupBadRequest             = "bad-request"
	GroupFeatureNotImplemented  = "feature-not-implemented"
	GroupInternalServerError    = "internal-server-error"
	GroupItemNotFound           = "item-not-found"
	GroupRemoteConnectionFailed = "remote-connection-failed"
	GroupRemoteServerTimeout    = "remote-server-timeout"
	GroupResourceConstraint     = "resource-constraint"
	GroupServiceUnavailable     = "service-unavailable"
)

// Error is the application-level failure transmitted as the second payload of
// message_error and query_error frames. It is a normal outcome of a query, not
// a transport failure.
type Error struct {
	Type  string `json:"type"`
	Group string `json:"group"`
	Text  string `json:"text,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// NewError builds an Error of the given type and group.
func NewError(typ, group, text string) *Error {
	return &Error{Type: typ, Group: group, Text: text}
}

func (e *Error) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Group)
	}
	return fmt.Sprintf("%s: %s: %s", e.Type, e.Group, e.Text)
}

// Temporary reports whether the sender may retry the same interaction later.
func (e *Error) Temporary() bool {
	return e.Type == ErrorWait
}
