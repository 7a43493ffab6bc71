package certinfo

import (
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
)

// Attribute is a single type and value pair of a relative distinguished name
type Attribute struct {
	Type  string
	Value Value
}

// RDN is a relative distinguished name, a set of one or more attributes
type RDN []Attribute

// ParseDN parses a string distinguished name, as produced by
// RFC 4514 or RFC 1779 printers.
//
// RDNs are separated by ',' or ';', multi-valued RDNs by '+'.
// Values may be quoted, use '\' escapes including '\HH' hex pairs,
// or be '#' prefixed hex encoded BER.
// The RDNs are returned in the order of the string.
func ParseDN(s string) ([]RDN, error) {
	p := &dnParser{s: s}
	return p.parse()
}

type dnParser struct {
	s   string
	pos int
}

func (p *dnParser) eof() bool {
	return p.pos >= len(p.s)
}

func (p *dnParser) skipSpaces() {
	for !p.eof() && p.s[p.pos] == ' ' {
		p.pos++
	}
}

func (p *dnParser) parse() ([]RDN, error) {
	var list []RDN

	p.skipSpaces()
	if p.eof() {
		return nil, nil
	}

	rdn := RDN{}
	for {
		attr, err := p.attribute()
		if err != nil {
			return nil, err
		}
		rdn = append(rdn, attr)

		if p.eof() {
			list = append(list, rdn)
			return list, nil
		}

		switch p.s[p.pos] {
		case '+':
		case ',', ';':
			list = append(list, rdn)
			rdn = RDN{}
		default:
			return nil, errors.Errorf("unexpected %q at %d", p.s[p.pos], p.pos)
		}
		p.pos++
	}
}

func (p *dnParser) attribute() (Attribute, error) {
	p.skipSpaces()
	start := p.pos
	idx := strings.IndexByte(p.s[start:], '=')
	if idx < 0 {
		return Attribute{}, errors.Errorf("missing '=' after %q", p.s[start:])
	}
	typ := strings.TrimSpace(p.s[start : start+idx])
	if typ == "" {
		return Attribute{}, errors.Errorf("empty attribute type at %d", start)
	}
	if strings.ContainsAny(typ, ",;+\"\\") {
		return Attribute{}, errors.Errorf("invalid attribute type %q", typ)
	}
	p.pos = start + idx + 1

	p.skipSpaces()
	if p.eof() {
		return Attribute{Type: typ, Value: TextValue("")}, nil
	}

	var (
		val Value
		err error
	)
	switch p.s[p.pos] {
	case '#':
		val, err = p.hexValue()
	case '"':
		val, err = p.quotedValue()
	default:
		val, err = p.stringValue()
	}
	if err != nil {
		return Attribute{}, errors.WithMessagef(err, "attribute %q", typ)
	}
	return Attribute{Type: typ, Value: val}, nil
}

func isSeparator(c byte) bool {
	return c == ',' || c == ';' || c == '+'
}

func (p *dnParser) hexValue() (Value, error) {
	p.pos++
	start := p.pos
	for !p.eof() && !isSeparator(p.s[p.pos]) && p.s[p.pos] != ' ' {
		p.pos++
	}
	h := p.s[start:p.pos]
	if _, err := hex.DecodeString(h); err != nil || h == "" {
		return Value{}, errors.Errorf("invalid hex value %q", h)
	}
	p.skipSpaces()
	return HexValue(h), nil
}

func (p *dnParser) quotedValue() (Value, error) {
	p.pos++
	var b []byte
	for {
		if p.eof() {
			return Value{}, errors.New("unterminated quoted value")
		}
		c := p.s[p.pos]
		switch c {
		case '"':
			p.pos++
			p.skipSpaces()
			return TextValue(string(b)), nil
		case '\\':
			e, err := p.escape()
			if err != nil {
				return Value{}, err
			}
			b = append(b, e)
		default:
			b = append(b, c)
			p.pos++
		}
	}
}

func (p *dnParser) stringValue() (Value, error) {
	var b []byte
	// length of b up to the last character that is not a trailing space
	keep := 0
	for !p.eof() {
		c := p.s[p.pos]
		if isSeparator(c) {
			break
		}
		if c == '\\' {
			e, err := p.escape()
			if err != nil {
				return Value{}, err
			}
			b = append(b, e)
			keep = len(b)
			continue
		}
		b = append(b, c)
		if c != ' ' {
			keep = len(b)
		}
		p.pos++
	}
	return TextValue(string(b[:keep])), nil
}

// escape reads '\c' or '\HH' and returns the escaped byte
func (p *dnParser) escape() (byte, error) {
	p.pos++
	if p.eof() {
		return 0, errors.New("incomplete escape sequence")
	}
	if p.pos+1 < len(p.s) && isHex(p.s[p.pos]) && isHex(p.s[p.pos+1]) {
		v, _ := hex.DecodeString(p.s[p.pos : p.pos+2])
		p.pos += 2
		return v[0], nil
	}
	c := p.s[p.pos]
	p.pos++
	return c, nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// String returns the RDN in the RFC 4514 form
func (r RDN) String() string {
	parts := make([]string, 0, len(r))
	for _, a := range r {
		parts = append(parts, a.Type+"="+a.Value.Decode())
	}
	return strings.Join(parts, "+")
}
