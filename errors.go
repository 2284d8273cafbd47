package remoteadapter

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedRequest returned when a request arrives in a state which
	// does not admit it, such as any request before init or a second init.
	ErrUnexpectedRequest = errors.New("unexpected request")
	// ErrServerClosed returned by operations on a closed server.
	ErrServerClosed = errors.New("server closed")
	// ErrAlreadyStarted returned by Start when called twice.
	ErrAlreadyStarted = errors.New("server already started")
)

// ChannelError is an I/O failure on one of the streams.
type ChannelError struct {
	// Op is the failed operation, e.g. "read requests" or "write replies".
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// CloseError is reported when the Proxy Adapter closes the connection.
type CloseError struct {
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return "close requested by the counterpart"
	}
	return "close requested by the counterpart: " + e.Reason
}

// ExceptionHandler allows to intercept fatal errors before the default
// handling. Methods return true to let the default handling proceed and
// false to suppress it.
type ExceptionHandler interface {
	// HandleIOError is called on read or write failures of the streams.
	// By default the server is closed.
	HandleIOError(err error) bool
	// HandleError is called on other fatal errors: protocol violations,
	// version mismatch and close requests.
	HandleError(err error) bool
}

// NewDataProviderError creates an error for a Data Provider failure.
func NewDataProviderError(msg string) *Error {
	return &Error{Kind: KindDataProvider, Message: msg}
}

// NewMetadataProviderError creates an error for a Metadata Provider failure.
func NewMetadataProviderError(msg string) *Error {
	return &Error{Kind: KindMetadataProvider, Message: msg}
}

// NewFailureError creates a generic adapter failure.
func NewFailureError(msg string) *Error {
	return &Error{Kind: KindFailure, Message: msg}
}

// NewSubscriptionError creates an error refusing a subscription.
func NewSubscriptionError(msg string) *Error {
	return &Error{Kind: KindSubscription, Message: msg}
}

// NewAccessError creates an error refusing access to a user.
func NewAccessError(msg string) *Error {
	return &Error{Kind: KindAccess, Message: msg}
}

// NewCreditsError creates an error refusing a request for lack of credits.
// The client code and message are forwarded to the client.
func NewCreditsError(msg string, clientCode int, clientMsg string) *Error {
	return &Error{Kind: KindCredits, Message: msg, ClientCode: clientCode, ClientMessage: clientMsg}
}

// NewConflictingSessionError creates an error refusing a new session because
// of a conflicting one, which the Kernel may close.
func NewConflictingSessionError(msg string, clientCode int, clientMsg, conflictingSessionID string) *Error {
	return &Error{
		Kind:                 KindConflictingSession,
		Message:              msg,
		ClientCode:           clientCode,
		ClientMessage:        clientMsg,
		ConflictingSessionID: conflictingSessionID,
	}
}

// NewItemsError creates an error for an unresolvable item group.
func NewItemsError(msg string) *Error {
	return &Error{Kind: KindItems, Message: msg}
}

// NewSchemaError creates an error for an unresolvable field schema.
func NewSchemaError(msg string) *Error {
	return &Error{Kind: KindSchema, Message: msg}
}

// NewNotificationError creates an error refusing a notified event.
func NewNotificationError(msg string) *Error {
	return &Error{Kind: KindNotification, Message: msg}
}
