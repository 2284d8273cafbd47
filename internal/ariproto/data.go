package ariproto

import (
	"fmt"
	"sort"
)

const (
	MethodDataInit              = "DPI"
	MethodSubscribe             = "SUB"
	MethodUnsubscribe           = "USB"
	MethodEndOfSnapshot         = "EOS"
	MethodUpdateByMap           = "UD3"
	MethodClearSnapshot         = "CLS"
	MethodDeclareFieldDiffOrder = "DFD"
)

// ReadSubscribe decodes the item name of a SUB request.
func ReadSubscribe(body string) (string, error) {
	return newReader(MethodSubscribe, body).str()
}

// ReadUnsubscribe decodes the item name of a USB request.
func ReadUnsubscribe(body string) (string, error) {
	return newReader(MethodUnsubscribe, body).str()
}

// WriteSubscribe encodes a successful SUB reply.
func WriteSubscribe() string {
	return newBuilder(MethodSubscribe).void().String()
}

// WriteSubscribeError encodes a failed SUB reply.
func WriteSubscribeError(err error) string {
	return newBuilder(MethodSubscribe).exception(err, KindSubscription, KindFailure).String()
}

// WriteUnsubscribe encodes a successful USB reply.
func WriteUnsubscribe() string {
	return newBuilder(MethodUnsubscribe).void().String()
}

// WriteUnsubscribeError encodes a failed USB reply.
func WriteUnsubscribeError(err error) string {
	return newBuilder(MethodUnsubscribe).exception(err, KindSubscription, KindFailure).String()
}

// WriteEndOfSnapshot encodes an EOS notification.
func WriteEndOfSnapshot(item, requestID string) string {
	return newBuilder(MethodEndOfSnapshot).str(item).raw(TypeString, requestID).String()
}

// WriteClearSnapshot encodes a CLS notification.
func WriteClearSnapshot(item, requestID string) string {
	return newBuilder(MethodClearSnapshot).str(item).raw(TypeString, requestID).String()
}

// WriteUpdateByMap encodes an UD3 notification. Values may be strings, byte
// slices, fmt.Stringer implementations or nil. Fields are written in sorted
// order.
func WriteUpdateByMap(item, requestID string, fields map[string]any, isSnapshot bool) (string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	b := newBuilder(MethodUpdateByMap).str(item).raw(TypeString, requestID).boolean(isSnapshot)
	for _, name := range names {
		b.str(name)
		switch v := fields[name].(type) {
		case nil:
			b.raw(TypeString, ValueNull)
		case string:
			b.str(v)
		case *string:
			b.nullableString(v)
		case []byte:
			b.raw(TypeBytes, EncodeBytes(v))
		case fmt.Stringer:
			b.str(v.String())
		default:
			return "", protocolErrorf("found value '%v' of an unsupported type while building a %s request", v, MethodUpdateByMap)
		}
	}
	return b.String(), nil
}

// WriteDeclareFieldDiffOrder encodes a DFD notification. Fields are written
// in sorted order.
func WriteDeclareFieldDiffOrder(item, requestID string, algorithms map[string][]DiffAlgorithm) (string, error) {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	b := newBuilder(MethodDeclareFieldDiffOrder).str(item).raw(TypeString, requestID)
	for _, name := range names {
		enc, err := EncodeDiffAlgorithms(algorithms[name])
		if err != nil {
			return "", err
		}
		b.str(name).raw(TypeDiffAlgos, enc)
	}
	return b.String(), nil
}

// Notification is a decoded data notification, used by peers and tests.
type Notification struct {
	Method     string
	Item       string
	RequestID  string
	IsSnapshot bool
	Fields     map[string]*string
}

// ReadNotification decodes the body of an EOS, CLS or UD3 notification.
func ReadNotification(method, body string) (Notification, error) {
	r := newReader(method, body)
	n := Notification{Method: method}
	var err error
	if n.Item, err = r.str(); err != nil {
		return n, err
	}
	if n.RequestID, err = r.str(); err != nil {
		return n, err
	}
	if method != MethodUpdateByMap {
		return n, nil
	}
	if n.IsSnapshot, err = r.boolean(); err != nil {
		return n, err
	}
	n.Fields = make(map[string]*string)
	for r.more() {
		name, err := r.str()
		if err != nil {
			return n, err
		}
		t, err := r.next()
		if err != nil {
			return n, err
		}
		if t != string(TypeString) && t != string(TypeBytes) {
			return n, protocolErrorf("unknown type '%s' found while parsing a %s request", t, method)
		}
		tok, err := r.next()
		if err != nil {
			return n, err
		}
		value, err := DecodeString(tok)
		if err != nil {
			return n, err
		}
		n.Fields[name] = value
	}
	return n, nil
}
