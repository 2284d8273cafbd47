package ariproto

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	Sep = '|'

	TypeVoid        = 'V'
	TypeString      = 'S'
	TypeBoolean     = 'B'
	TypeInt         = 'I'
	TypeLong        = 'L'
	TypeDouble      = 'D'
	TypeException   = 'E'
	TypeModes       = 'M'
	TypeMpnPlatform = 'P'
	TypeBytes       = 'Y'
	TypeDiffAlgos   = 'F'

	ValueNull  = "#"
	ValueEmpty = "$"
	ValueTrue  = "1"
	ValueFalse = "0"
)

const upperHex = "0123456789ABCDEF"

// isSpecial reports bytes which must always be percent-encoded.
func isSpecial(b byte) bool {
	switch b {
	case '\r', '\n', Sep, '%', '+':
		return true
	}
	return false
}

// EncodeString encodes a non null string with the smart encoding: only line
// delimiters, the separator, '%' and '+' are escaped, plus the sentinel
// characters when they would form a whole value.
func EncodeString(s string) string {
	if s == "" {
		return ValueEmpty
	}
	single := s == ValueNull || s == ValueEmpty
	specials := 0
	for i := 0; i < len(s); i++ {
		if isSpecial(s[i]) {
			specials++
		}
	}
	if specials == 0 && !single {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 2*specials + 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSpecial(c) || single {
			sb.WriteByte('%')
			sb.WriteByte(upperHex[c>>4])
			sb.WriteByte(upperHex[c&0xF])
		} else {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// EncodeNullableString is EncodeString with nil mapped to the null sentinel.
func EncodeNullableString(s *string) string {
	if s == nil {
		return ValueNull
	}
	return EncodeString(*s)
}

// EncodeStringLegacy applies the full form-style percent encoding used by the
// oldest peers.
func EncodeStringLegacy(s *string) string {
	if s == nil {
		return ValueNull
	}
	if *s == "" {
		return ValueEmpty
	}
	return url.QueryEscape(*s)
}

// EncodeBytes encodes raw bytes as the equivalent ISO-8859-1 string.
func EncodeBytes(b []byte) string {
	if b == nil {
		return ValueNull
	}
	if len(b) == 0 {
		return ValueEmpty
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return EncodeString(string(runes))
}

// DecodeString reverses both the smart and the legacy encodings. A nil
// result stands for the null sentinel.
func DecodeString(tok string) (*string, error) {
	switch tok {
	case ValueNull:
		return nil, nil
	case ValueEmpty:
		s := ""
		return &s, nil
	}
	s, err := url.QueryUnescape(tok)
	if err != nil {
		return nil, protocolErrorf("error while url-decoding string: %v", err)
	}
	return &s, nil
}

// EncodeBool encodes a boolean value.
func EncodeBool(v bool) string {
	if v {
		return ValueTrue
	}
	return ValueFalse
}

// DecodeBool decodes a boolean value.
func DecodeBool(tok string) (bool, error) {
	switch tok {
	case ValueTrue:
		return true, nil
	case ValueFalse:
		return false, nil
	}
	return false, protocolErrorf("unknown boolean value '%s'", tok)
}

// EncodeDouble encodes a floating point value.
func EncodeDouble(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DecodeDouble decodes a floating point value.
func DecodeDouble(tok string) (float64, error) {
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, protocolErrorf("malformed double value '%s'", tok)
	}
	return v, nil
}

// DecodeInt decodes an integer value.
func DecodeInt(tok string) (int, error) {
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, protocolErrorf("malformed int value '%s'", tok)
	}
	return v, nil
}

func modeLetter(m Mode) (byte, error) {
	switch m {
	case ModeRaw:
		return 'R', nil
	case ModeMerge:
		return 'M', nil
	case ModeDistinct:
		return 'D', nil
	case ModeCommand:
		return 'C', nil
	}
	return 0, protocolErrorf("unknown mode '%s'", m)
}

// EncodeModes encodes a mode set; nil is null and an empty non nil slice is
// the empty sentinel.
func EncodeModes(modes []Mode) (string, error) {
	if modes == nil {
		return ValueNull, nil
	}
	if len(modes) == 0 {
		return ValueEmpty, nil
	}
	b := make([]byte, 0, len(modes))
	for _, m := range modes {
		c, err := modeLetter(m)
		if err != nil {
			return "", err
		}
		b = append(b, c)
	}
	return string(b), nil
}

// DecodeModes decodes a mode set.
func DecodeModes(tok string) ([]Mode, error) {
	switch tok {
	case ValueNull:
		return nil, nil
	case ValueEmpty:
		return []Mode{}, nil
	}
	modes := make([]Mode, 0, len(tok))
	for i := 0; i < len(tok); i++ {
		switch tok[i] {
		case 'R':
			modes = append(modes, ModeRaw)
		case 'M':
			modes = append(modes, ModeMerge)
		case 'D':
			modes = append(modes, ModeDistinct)
		case 'C':
			modes = append(modes, ModeCommand)
		default:
			return nil, protocolErrorf("unknown mode '%c' found while decoding a mode array", tok[i])
		}
	}
	return modes, nil
}

// EncodeMpnPlatform encodes a platform type, the empty value is null.
func EncodeMpnPlatform(p MpnPlatformType) (string, error) {
	switch p {
	case "":
		return ValueNull, nil
	case MpnPlatformApple:
		return "A", nil
	case MpnPlatformGoogle:
		return "G", nil
	}
	return "", protocolErrorf("unknown platform type '%s'", p)
}

// DecodeMpnPlatform decodes a platform type.
func DecodeMpnPlatform(tok string) (MpnPlatformType, error) {
	if tok == ValueNull {
		return "", nil
	}
	switch tok {
	case "A":
		return MpnPlatformApple, nil
	case "G":
		return MpnPlatformGoogle, nil
	}
	return "", protocolErrorf("unknown platform type '%s'", tok)
}

// EncodeDiffAlgorithms encodes an ordered list of diff algorithms.
func EncodeDiffAlgorithms(algos []DiffAlgorithm) (string, error) {
	if algos == nil {
		return ValueNull, nil
	}
	if len(algos) == 0 {
		return ValueEmpty, nil
	}
	b := make([]byte, 0, len(algos))
	for _, a := range algos {
		switch a {
		case DiffJSONPatch:
			b = append(b, 'J')
		case DiffMatchPatch:
			b = append(b, 'M')
		default:
			return "", protocolErrorf("unknown diff algorithm '%s'", a)
		}
	}
	return string(b), nil
}

// DecodeDiffAlgorithms decodes an ordered list of diff algorithms.
func DecodeDiffAlgorithms(tok string) ([]DiffAlgorithm, error) {
	switch tok {
	case ValueNull:
		return nil, nil
	case ValueEmpty:
		return []DiffAlgorithm{}, nil
	}
	algos := make([]DiffAlgorithm, 0, len(tok))
	for i := 0; i < len(tok); i++ {
		switch tok[i] {
		case 'J':
			algos = append(algos, DiffJSONPatch)
		case 'M':
			algos = append(algos, DiffMatchPatch)
		default:
			return nil, protocolErrorf("unknown diff algorithm '%c'", tok[i])
		}
	}
	return algos, nil
}
