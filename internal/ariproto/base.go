package ariproto

import (
	"sort"
	"strconv"
	"strings"
)

const (
	MethodKeepalive         = "KEEPALIVE"
	MethodRemoteCredentials = "RAC"
	MethodClose             = "CLOSE"
	MethodFailure           = "FAL"
)

// Fixed request ids.
const (
	CloseRequestID   = "0"
	AuthRequestID    = "1"
	FailureRequestID = "2"
)

// FirstRemoteRequestID seeds the ids of requests originated on this side.
const FirstRemoteRequestID = 100

// Parameters with a protocol meaning.
const (
	ParamProtocolVersion = "ARI.version"
	ParamKeepaliveHint   = "keepalive_hint.millis"
	ParamUser            = "user"
	ParamPassword        = "password"
	ParamCloseOutcome    = "enableClosePacket"
	ParamCloseReason     = "reason"
)

// CurrentVersion is the only protocol version spoken.
const CurrentVersion = "1.9.1"

// VersionStatus tells how a declared peer version relates to CurrentVersion.
type VersionStatus int

const (
	VersionMatch VersionStatus = iota
	// VersionObsolete is a version no longer supported: the current one is
	// advertised and the peer will likely refuse it.
	VersionObsolete
	// VersionUpgrade is any other version: the current one is advertised.
	VersionUpgrade
)

// NegotiateVersion maps the version declared by the peer to the version to
// advertise. A nil version means a legacy peer which declared none.
func NegotiateVersion(proxyVersion *string) (string, VersionStatus, error) {
	if proxyVersion == nil {
		return "", 0, &Error{Kind: KindVersion, Message: "Unsupported protocol version"}
	}
	switch v := *proxyVersion; v {
	case "1.8.0":
		return "", 0, &Error{Kind: KindVersion, Message: "Unexpected protocol version number: " + v}
	case "1.8.1":
		return "", 0, &Error{Kind: KindVersion, Message: "Unsupported reserved protocol version number: " + v}
	case "1.8.2", "1.8.3":
		return CurrentVersion, VersionObsolete, nil
	case CurrentVersion:
		return CurrentVersion, VersionMatch, nil
	default:
		return CurrentVersion, VersionUpgrade, nil
	}
}

// InitRequest carries the parameters of a DPI or MPI request with the
// protocol parameters split out.
type InitRequest struct {
	Params        map[string]string
	Version       *string
	KeepaliveHint *string
}

// ReadInit decodes the body of an init request.
func ReadInit(method, body string) (InitRequest, error) {
	pairs, err := newReader(method, body).nullablePairs()
	if err != nil {
		return InitRequest{}, err
	}
	req := InitRequest{Params: make(map[string]string, len(pairs))}
	for k, v := range pairs {
		switch k {
		case ParamProtocolVersion:
			req.Version = v
		case ParamKeepaliveHint:
			req.KeepaliveHint = v
		default:
			if v != nil {
				req.Params[k] = *v
			} else {
				req.Params[k] = ""
			}
		}
	}
	return req, nil
}

// WriteInit encodes a successful init reply.
func WriteInit(method, version string) string {
	return newBuilder(method).str(ParamProtocolVersion).str(version).String()
}

// WriteInitError encodes a failed init reply.
func WriteInitError(method string, err error, providerKind ErrorKind) string {
	return newBuilder(method).exception(err, providerKind, KindVersion).String()
}

// WriteRemoteCredentials encodes the credentials message with the legacy
// encoding. Keys are sorted for a deterministic output.
func WriteRemoteCredentials(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b := newBuilder(MethodRemoteCredentials)
	for _, k := range keys {
		v := params[k]
		b.raw(TypeString, EncodeStringLegacy(&k))
		b.raw(TypeString, EncodeStringLegacy(&v))
	}
	return b.String()
}

// ReadClose decodes the body of a close request.
func ReadClose(body string) (map[string]string, error) {
	return newReader(MethodClose, body).stringPairs()
}

// WriteClose encodes a close request.
func WriteClose(reason string) string {
	return newBuilder(MethodClose).
		raw(TypeString, EncodeStringLegacy(strPtr(ParamCloseReason))).
		raw(TypeString, EncodeStringLegacy(&reason)).String()
}

// WriteFailure encodes an asynchronous failure notification.
func WriteFailure(err error) string {
	return newBuilder(MethodFailure).exception(err).String()
}

// WriteKeepalive returns the keepalive line body.
func WriteKeepalive() string {
	return MethodKeepalive
}

// ReadException decodes an exception value from a reply body, starting at the
// type token. It is used for replies received by this side.
func ReadException(method, body string) (*Error, error) {
	r := newReader(method, body)
	t, err := r.next()
	if err != nil {
		return nil, err
	}
	if t == "" || t[0] != TypeException {
		return nil, protocolErrorf("unknown type '%s' found while parsing a %s response", t, method)
	}
	e := &Error{Kind: KindGeneric}
	if len(t) > 1 {
		kind, ok := kindFromSubtype(t[1])
		if !ok {
			return nil, protocolErrorf("unknown exception subtype '%c' found while parsing a %s response", t[1], method)
		}
		e.Kind = kind
	}
	msg, err := r.next()
	if err != nil {
		return nil, err
	}
	if e.Message, err = decodeOrEmpty(msg); err != nil {
		return nil, err
	}
	if e.Kind != KindCredits && e.Kind != KindConflictingSession {
		return e, nil
	}
	code, err := r.next()
	if err != nil {
		return nil, err
	}
	if e.ClientCode, err = strconv.Atoi(code); err != nil {
		return nil, protocolErrorf("malformed client error code '%s' found while parsing a %s response", code, method)
	}
	clientMsg, err := r.next()
	if err != nil {
		return nil, err
	}
	if e.ClientMessage, err = decodeOrEmpty(clientMsg); err != nil {
		return nil, err
	}
	if e.Kind == KindConflictingSession {
		id, err := r.next()
		if err != nil {
			return nil, err
		}
		if e.ConflictingSessionID, err = decodeOrEmpty(id); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func decodeOrEmpty(tok string) (string, error) {
	s, err := DecodeString(tok)
	if err != nil || s == nil {
		return "", err
	}
	return *s, nil
}

func strPtr(s string) *string {
	return &s
}

// SplitMessage splits a line at the first separator. ok is false when the
// separator is missing or leads the line.
func SplitMessage(line string) (id, rest string, ok bool) {
	sep := strings.IndexByte(line, Sep)
	if sep < 1 {
		return "", "", false
	}
	return line[:sep], line[sep+1:], true
}

// SplitMethod splits a message into its method tag and the typed body.
func SplitMethod(msg string) (method, body string) {
	sep := strings.IndexByte(msg, Sep)
	if sep < 0 {
		return msg, ""
	}
	return msg[:sep], msg[sep+1:]
}
