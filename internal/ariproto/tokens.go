package ariproto

import (
	"strconv"
	"strings"
)

// reader walks the typed tokens of a request body.
type reader struct {
	method string
	toks   []string
	pos    int
}

func newReader(method, body string) *reader {
	var toks []string
	if body != "" {
		toks = strings.Split(body, string(Sep))
	}
	return &reader{method: method, toks: toks}
}

func (r *reader) more() bool {
	return r.pos < len(r.toks)
}

func (r *reader) next() (string, error) {
	if r.pos >= len(r.toks) {
		return "", protocolErrorf("token not found while parsing a %s request", r.method)
	}
	tok := r.toks[r.pos]
	r.pos++
	return tok, nil
}

// value reads a type token, checks it against the expected tag and returns
// the following value token.
func (r *reader) value(typ byte) (string, error) {
	t, err := r.next()
	if err != nil {
		return "", err
	}
	if t == "" || t[0] != typ {
		return "", protocolErrorf("unknown type '%s' found while parsing a %s request", t, r.method)
	}
	return r.next()
}

func (r *reader) nullableString() (*string, error) {
	tok, err := r.value(TypeString)
	if err != nil {
		return nil, err
	}
	return DecodeString(tok)
}

// str reads a string value, null decodes as empty.
func (r *reader) str() (string, error) {
	s, err := r.nullableString()
	if err != nil || s == nil {
		return "", err
	}
	return *s, nil
}

func (r *reader) integer() (int, error) {
	tok, err := r.value(TypeInt)
	if err != nil {
		return 0, err
	}
	return DecodeInt(tok)
}

func (r *reader) boolean() (bool, error) {
	tok, err := r.value(TypeBoolean)
	if err != nil {
		return false, err
	}
	return DecodeBool(tok)
}

func (r *reader) double() (float64, error) {
	tok, err := r.value(TypeDouble)
	if err != nil {
		return 0, err
	}
	return DecodeDouble(tok)
}

func (r *reader) modes() ([]Mode, error) {
	tok, err := r.value(TypeModes)
	if err != nil {
		return nil, err
	}
	return DecodeModes(tok)
}

func (r *reader) platform() (MpnPlatformType, error) {
	tok, err := r.value(TypeMpnPlatform)
	if err != nil {
		return "", err
	}
	return DecodeMpnPlatform(tok)
}

// stringPairs reads name/value string pairs up to the end of the body.
func (r *reader) stringPairs() (map[string]string, error) {
	pairs := make(map[string]string)
	for r.more() {
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		value, err := r.str()
		if err != nil {
			return nil, err
		}
		pairs[name] = value
	}
	return pairs, nil
}

// nullablePairs reads name/value pairs keeping null values distinguishable.
func (r *reader) nullablePairs() (map[string]*string, error) {
	pairs := make(map[string]*string)
	for r.more() {
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		value, err := r.nullableString()
		if err != nil {
			return nil, err
		}
		pairs[name] = value
	}
	return pairs, nil
}

// builder accumulates a response or notification body.
type builder struct {
	sb strings.Builder
}

func newBuilder(method string) *builder {
	b := &builder{}
	b.sb.WriteString(method)
	return b
}

func (b *builder) raw(typ byte, value string) *builder {
	b.sb.WriteByte(Sep)
	b.sb.WriteByte(typ)
	b.sb.WriteByte(Sep)
	b.sb.WriteString(value)
	return b
}

func (b *builder) void() *builder {
	b.sb.WriteByte(Sep)
	b.sb.WriteByte(TypeVoid)
	return b
}

func (b *builder) str(s string) *builder {
	return b.raw(TypeString, EncodeString(s))
}

func (b *builder) nullableString(s *string) *builder {
	return b.raw(TypeString, EncodeNullableString(s))
}

func (b *builder) integer(v int) *builder {
	return b.raw(TypeInt, strconv.Itoa(v))
}

func (b *builder) boolean(v bool) *builder {
	return b.raw(TypeBoolean, EncodeBool(v))
}

func (b *builder) double(v float64) *builder {
	return b.raw(TypeDouble, EncodeDouble(v))
}

func (b *builder) modes(m []Mode) (*builder, error) {
	enc, err := EncodeModes(m)
	if err != nil {
		return nil, err
	}
	return b.raw(TypeModes, enc), nil
}

func (b *builder) platform(p MpnPlatformType) (*builder, error) {
	enc, err := EncodeMpnPlatform(p)
	if err != nil {
		return nil, err
	}
	return b.raw(TypeMpnPlatform, enc), nil
}

// exception appends an exception. Kinds not listed in allowed are written
// without subtype; a conflicting session error degrades to credits when
// only credits is allowed.
func (b *builder) exception(err error, allowed ...ErrorKind) *builder {
	e := asError(err)
	kind := admittedKind(e.Kind, allowed)
	b.sb.WriteByte(Sep)
	b.sb.WriteByte(TypeException)
	if kind != KindGeneric {
		b.sb.WriteByte(byte(kind))
	}
	b.sb.WriteByte(Sep)
	b.sb.WriteString(EncodeString(e.Message))
	if kind == KindCredits || kind == KindConflictingSession {
		b.sb.WriteByte(Sep)
		b.sb.WriteString(strconv.Itoa(e.ClientCode))
		b.sb.WriteByte(Sep)
		b.sb.WriteString(EncodeString(e.ClientMessage))
	}
	if kind == KindConflictingSession {
		b.sb.WriteByte(Sep)
		b.sb.WriteString(EncodeString(e.ConflictingSessionID))
	}
	return b
}

func admittedKind(kind ErrorKind, allowed []ErrorKind) ErrorKind {
	if kind == KindGeneric {
		return KindGeneric
	}
	creditsAllowed := false
	for _, k := range allowed {
		if k == kind {
			return kind
		}
		if k == KindCredits {
			creditsAllowed = true
		}
	}
	if kind == KindConflictingSession && creditsAllowed {
		return KindCredits
	}
	return KindGeneric
}

func (b *builder) String() string {
	return b.sb.String()
}
