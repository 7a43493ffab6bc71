// Package certinfo classifies X.509 certificates and extracts
// the identity of the holder from the subject name.
package certinfo

import (
	"crypto/x509"
	"time"

	"github.com/effective-security/xcard/oid"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcard", "certinfo")

// ExpiryFormat is the day/month/year layout of Identity.Expires
const ExpiryFormat = "02/01/2006"

// Field is an identity field populated from a subject attribute
type Field int

// Fields
const (
	FieldUnknown Field = iota
	FieldGivenName
	FieldSurname
	FieldIdentification
	FieldCommonName
	FieldOrganization
)

var fieldNames = map[Field]string{
	FieldUnknown:        "unknown",
	FieldGivenName:      "given_name",
	FieldSurname:        "surname",
	FieldIdentification: "identification",
	FieldCommonName:     "common_name",
	FieldOrganization:   "organization",
}

func (f Field) String() string {
	return fieldNames[f]
}

var fieldByOID = map[string]Field{
	oid.NameGivenName.String(): FieldGivenName,
	oid.NameSurname.String():   FieldSurname,
	oid.NameSerial.String():    FieldIdentification,
	oid.NameCN.String():        FieldCommonName,
	oid.NameO.String():         FieldOrganization,
}

// NormalizeType returns the identity field for an attribute type,
// given as short name, dotted OID or "OID." prefixed dotted OID,
// in any letter case.
func NormalizeType(typ string) Field {
	return fieldByOID[oid.AttributeOID(typ)]
}

// Identity is the holder information of a certificate
type Identity struct {
	Identification string `json:"identification,omitempty" yaml:"identification,omitempty"`
	FirstName      string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	CommonName     string `json:"common_name,omitempty" yaml:"common_name,omitempty"`
	Organization   string `json:"organization,omitempty" yaml:"organization,omitempty"`
	// Expires is NotAfter in ExpiryFormat
	Expires string `json:"expires,omitempty" yaml:"expires,omitempty"`
	// SerialHex is the certificate serial number in lowercase hex
	SerialHex string `json:"serial,omitempty" yaml:"serial,omitempty"`
}

func (i *Identity) set(f Field, val string) {
	var dst *string
	switch f {
	case FieldGivenName:
		dst = &i.FirstName
	case FieldSurname:
		dst = &i.LastName
	case FieldIdentification:
		dst = &i.Identification
	case FieldCommonName:
		dst = &i.CommonName
	case FieldOrganization:
		dst = &i.Organization
	default:
		return
	}
	// first non-empty value wins
	if *dst == "" {
		*dst = val
	}
}

// FromRDNs returns identity populated from the RDNs.
// Attributes of unknown type are logged and ignored.
func FromRDNs(rdns []RDN) *Identity {
	id := new(Identity)
	for _, rdn := range rdns {
		for _, a := range rdn {
			f := NormalizeType(a.Type)
			val := a.Value.Decode()
			if f == FieldUnknown {
				logger.KV(xlog.DEBUG, "reason", "unhandled_attribute", "type", a.Type, "value", val)
				continue
			}
			id.set(f, val)
		}
	}
	return id
}

// FromDN returns identity populated from the string distinguished name
func FromDN(dn string) (*Identity, error) {
	rdns, err := ParseDN(dn)
	if err != nil {
		return nil, err
	}
	return FromRDNs(rdns), nil
}

// Extract returns the identity of the certificate holder.
//
// The subject is parsed from its string form. When no identification
// is found there, it is looked up in the parsed subject attributes.
func Extract(crt *x509.Certificate) *Identity {
	id, err := FromDN(crt.Subject.String())
	if err != nil {
		logger.KV(xlog.WARNING, "reason", "parse_dn", "subject", crt.Subject.String(), "err", err.Error())
		id = new(Identity)
		for _, atv := range crt.Subject.Names {
			id.set(fieldByOID[atv.Type.String()], ValueOf(atv.Value).Decode())
		}
	}

	if id.Identification == "" {
		id.Identification = lookupSerial(crt)
	}

	id.Expires = ExpiryDate(crt.NotAfter)
	id.SerialHex = SerialHex(crt)
	return id
}

func lookupSerial(crt *x509.Certificate) string {
	for _, atv := range crt.Subject.Names {
		if atv.Type.Equal(oid.NameSerial) {
			if v := ValueOf(atv.Value).Decode(); v != "" {
				return v
			}
		}
	}
	return crt.Subject.SerialNumber
}

// ExpiryDate returns t in UTC formatted as day/month/year
func ExpiryDate(t time.Time) string {
	return t.UTC().Format(ExpiryFormat)
}

// SerialHex returns the certificate serial number as lowercase hex
func SerialHex(crt *x509.Certificate) string {
	if crt.SerialNumber == nil {
		return ""
	}
	return crt.SerialNumber.Text(16)
}
