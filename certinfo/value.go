package certinfo

import (
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"
)

// ValueKind is the representation of an attribute value
type ValueKind int

// Value kinds
const (
	// Text is a plain string value
	Text ValueKind = iota
	// Bytes is a raw value, interpreted as UTF-8
	Bytes
	// HexText is a '#' prefixed hex encoded value
	HexText
)

// Value is an attribute value as found in a distinguished name
type Value struct {
	Kind  ValueKind
	Text  string
	Bytes []byte
}

// TextValue returns a plain string Value
func TextValue(s string) Value {
	return Value{Kind: Text, Text: s}
}

// BytesValue returns a raw Value
func BytesValue(b []byte) Value {
	return Value{Kind: Bytes, Bytes: b}
}

// HexValue returns a hex encoded Value, with or without the '#' prefix
func HexValue(s string) Value {
	return Value{Kind: HexText, Text: strings.TrimPrefix(s, "#")}
}

// ValueOf returns Value for an attribute value decoded by encoding/asn1,
// as found in pkix.AttributeTypeAndValue
func ValueOf(v any) Value {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, "#") {
			return HexValue(t)
		}
		return TextValue(t)
	case []byte:
		return BytesValue(t)
	case asn1.RawValue:
		return BytesValue(t.FullBytes)
	default:
		return TextValue(fmt.Sprint(v))
	}
}

// Decode returns the string content of the value.
//
// Hex encoded values and raw bytes holding a DER encoded string
// are reduced to the string content, other bytes are taken as UTF-8.
// A malformed hex value is returned as is.
func (v Value) Decode() string {
	switch v.Kind {
	case Bytes:
		return decodeBytes(v.Bytes)
	case HexText:
		b, err := hex.DecodeString(v.Text)
		if err != nil {
			return "#" + v.Text
		}
		return decodeBytes(b)
	default:
		return v.Text
	}
}

func (v Value) String() string {
	return v.Decode()
}

// DER universal string tags
const (
	tagUTF8String      = 12
	tagPrintableString = 19
	tagT61String       = 20
	tagIA5String       = 22
	tagUniversalString = 28
	tagBMPString       = 30
	tagNumericString   = 18
)

func decodeBytes(b []byte) string {
	if s, ok := derString(b); ok {
		return s
	}
	return string(b)
}

// derString returns the content of a complete DER encoded string
func derString(b []byte) (string, bool) {
	var raw asn1.RawValue
	rest, err := asn1.Unmarshal(b, &raw)
	if err != nil || len(rest) > 0 || raw.Class != asn1.ClassUniversal || raw.IsCompound {
		return "", false
	}

	switch raw.Tag {
	case tagUTF8String, tagPrintableString, tagIA5String, tagT61String, tagNumericString:
		return string(raw.Bytes), true
	case tagBMPString:
		if len(raw.Bytes)%2 != 0 {
			return "", false
		}
		u := make([]uint16, 0, len(raw.Bytes)/2)
		for i := 0; i < len(raw.Bytes); i += 2 {
			u = append(u, uint16(raw.Bytes[i])<<8|uint16(raw.Bytes[i+1]))
		}
		return string(utf16.Decode(u)), true
	case tagUniversalString:
		if len(raw.Bytes)%4 != 0 {
			return "", false
		}
		var sb strings.Builder
		for i := 0; i < len(raw.Bytes); i += 4 {
			r := rune(raw.Bytes[i])<<24 | rune(raw.Bytes[i+1])<<16 | rune(raw.Bytes[i+2])<<8 | rune(raw.Bytes[i+3])
			sb.WriteRune(r)
		}
		return sb.String(), true
	}
	return "", false
}
