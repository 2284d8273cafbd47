package ariproto

const (
	MethodForceSessionTermination = "KIL"
	MethodForceUnsubscription     = "FUS"
)

// WriteForceSessionTermination encodes a KIL request. The cause is only
// written when cause is non nil.
func WriteForceSessionTermination(session string, cause *Cause) string {
	b := newBuilder(MethodForceSessionTermination).str(session)
	if cause != nil {
		b.integer(cause.Code).str(cause.Message)
	}
	return b.String()
}

// Cause is the optional reason of a forced session termination.
type Cause struct {
	Code    int
	Message string
}

// WriteForceUnsubscription encodes a FUS request.
func WriteForceUnsubscription(session string, winIndex int) string {
	return newBuilder(MethodForceUnsubscription).str(session).integer(winIndex).String()
}

// ReadForceSessionTermination decodes the response to a KIL request. A
// decoded exception is returned as *Error.
func ReadForceSessionTermination(body string) error {
	_, err := readControlResponse(MethodForceSessionTermination, body)
	return err
}

// ReadForceUnsubscription decodes the response to a FUS request. A void
// response counts as done.
func ReadForceUnsubscription(body string) (bool, error) {
	return readControlResponse(MethodForceUnsubscription, body)
}

func readControlResponse(method, body string) (bool, error) {
	r := newReader(method, body)
	t, err := r.next()
	if err != nil {
		return false, err
	}
	switch {
	case t == string(TypeVoid):
		return true, nil
	case t == string(TypeBoolean):
		tok, err := r.next()
		if err != nil {
			return false, err
		}
		return DecodeBool(tok)
	case t != "" && t[0] == TypeException:
		e, err := ReadException(method, body)
		if err != nil {
			return false, err
		}
		return false, e
	}
	return false, protocolErrorf("unknown type '%s' found while parsing a %s response", t, method)
}
