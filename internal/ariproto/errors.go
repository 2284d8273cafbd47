package ariproto

import (
	"errors"
	"fmt"
)

// ProtocolError is returned when a line cannot be decoded or a value cannot
// be encoded.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// ErrorKind is an exception family. Its value is the wire subtype letter,
// zero means a generic exception with no subtype.
type ErrorKind byte

const (
	KindGeneric            ErrorKind = 0
	KindDataProvider       ErrorKind = 'D'
	KindFailure            ErrorKind = 'F'
	KindSubscription       ErrorKind = 'U'
	KindMetadataProvider   ErrorKind = 'M'
	KindAccess             ErrorKind = 'A'
	KindCredits            ErrorKind = 'C'
	KindConflictingSession ErrorKind = 'X'
	KindItems              ErrorKind = 'I'
	KindSchema             ErrorKind = 'S'
	KindNotification       ErrorKind = 'N'
	KindVersion            ErrorKind = 'V'
)

func (k ErrorKind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindDataProvider:
		return "data provider"
	case KindFailure:
		return "failure"
	case KindSubscription:
		return "subscription"
	case KindMetadataProvider:
		return "metadata provider"
	case KindAccess:
		return "access"
	case KindCredits:
		return "credits"
	case KindConflictingSession:
		return "conflicting session"
	case KindItems:
		return "items"
	case KindSchema:
		return "schema"
	case KindNotification:
		return "notification"
	case KindVersion:
		return "version"
	default:
		return fmt.Sprintf("unknown(%c)", byte(k))
	}
}

func kindFromSubtype(c byte) (ErrorKind, bool) {
	switch k := ErrorKind(c); k {
	case KindDataProvider, KindFailure, KindSubscription, KindMetadataProvider, KindAccess,
		KindCredits, KindConflictingSession, KindItems, KindSchema, KindNotification, KindVersion:
		return k, true
	}
	return KindGeneric, false
}

// Error is an exception exchanged on the wire. ClientCode and ClientMessage
// are only meaningful for credits and conflicting session kinds,
// ConflictingSessionID only for the latter.
type Error struct {
	Kind                 ErrorKind
	Message              string
	ClientCode           int
	ClientMessage        string
	ConflictingSessionID string
}

func (e *Error) Error() string {
	if e.Kind == KindGeneric {
		return e.Message
	}
	return e.Kind.String() + " error: " + e.Message
}

// asError converts any error to the wire variant. Errors which are not
// *Error become generic.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindGeneric, Message: err.Error()}
}
