package oid

import (
	"crypto/x509"
	"encoding/asn1"
	"strings"
)

// KeyUsage contains a mapping of string names to key usages.
var KeyUsage = map[string]x509.KeyUsage{
	"signing":            x509.KeyUsageDigitalSignature,
	"digital signature":  x509.KeyUsageDigitalSignature,
	"content commitment": x509.KeyUsageContentCommitment,
	"non repudiation":    x509.KeyUsageContentCommitment,
	"key encipherment":   x509.KeyUsageKeyEncipherment,
	"key agreement":      x509.KeyUsageKeyAgreement,
	"data encipherment":  x509.KeyUsageDataEncipherment,
	"cert sign":          x509.KeyUsageCertSign,
	"crl sign":           x509.KeyUsageCRLSign,
	"encipher only":      x509.KeyUsageEncipherOnly,
	"decipher only":      x509.KeyUsageDecipherOnly,
}

// KeyUsageName provides map of names
var KeyUsageName = map[x509.KeyUsage]string{
	x509.KeyUsageDigitalSignature:  "digital signature",
	x509.KeyUsageContentCommitment: "non repudiation",
	x509.KeyUsageKeyEncipherment:   "key encipherment",
	x509.KeyUsageKeyAgreement:      "key agreement",
	x509.KeyUsageDataEncipherment:  "data encipherment",
	x509.KeyUsageCertSign:          "cert sign",
	x509.KeyUsageCRLSign:           "crl sign",
	x509.KeyUsageEncipherOnly:      "encipher only",
	x509.KeyUsageDecipherOnly:      "decipher only",
}

// well-known OIDs
var (
	ExtensionKeyUsage         = asn1.ObjectIdentifier{2, 5, 29, 15}
	ExtensionBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}
	ExtensionExtendedKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}

	NameEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
	NameCN           = asn1.ObjectIdentifier{2, 5, 4, 3}
	NameSurname      = asn1.ObjectIdentifier{2, 5, 4, 4}
	NameSerial       = asn1.ObjectIdentifier{2, 5, 4, 5}
	NameC            = asn1.ObjectIdentifier{2, 5, 4, 6}
	NameL            = asn1.ObjectIdentifier{2, 5, 4, 7}
	NameST           = asn1.ObjectIdentifier{2, 5, 4, 8}
	NameStreet       = asn1.ObjectIdentifier{2, 5, 4, 9}
	NameO            = asn1.ObjectIdentifier{2, 5, 4, 10}
	NameOU           = asn1.ObjectIdentifier{2, 5, 4, 11}
	NameTitle        = asn1.ObjectIdentifier{2, 5, 4, 12}
	NamePostal       = asn1.ObjectIdentifier{2, 5, 4, 17}
	NameGivenName    = asn1.ObjectIdentifier{2, 5, 4, 42}
)

// NameShortNames provides the short names accepted in a distinguished name,
// keyed by the dotted OID of the attribute type
var NameShortNames = map[string][]string{
	"1.2.840.113549.1.9.1": {"E", "EMAIL", "EMAILADDRESS"},
	"2.5.4.3":              {"CN", "COMMONNAME"},
	"2.5.4.4":              {"SN", "SURNAME"},
	"2.5.4.5":              {"SERIALNUMBER"},
	"2.5.4.6":              {"C"},
	"2.5.4.7":              {"L"},
	"2.5.4.8":              {"ST"},
	"2.5.4.9":              {"STREET"},
	"2.5.4.10":             {"O", "ORGANIZATIONNAME"},
	"2.5.4.11":             {"OU"},
	"2.5.4.12":             {"T", "TITLE"},
	"2.5.4.17":             {"POSTALCODE"},
	"2.5.4.42":             {"G", "GN", "GIVENNAME"},
}

// keyUsageOrder is the bit order of the key usage extension
var keyUsageOrder = []x509.KeyUsage{
	x509.KeyUsageDigitalSignature,
	x509.KeyUsageContentCommitment,
	x509.KeyUsageKeyEncipherment,
	x509.KeyUsageDataEncipherment,
	x509.KeyUsageKeyAgreement,
	x509.KeyUsageCertSign,
	x509.KeyUsageCRLSign,
	x509.KeyUsageEncipherOnly,
	x509.KeyUsageDecipherOnly,
}

// KeyUsages returns list of names, in the bit order of the extension
func KeyUsages(ku x509.KeyUsage) []string {
	list := make([]string, 0, len(keyUsageOrder))

	for _, v := range keyUsageOrder {
		if ku&v == v {
			list = append(list, KeyUsageName[v])
		}
	}

	return list
}

// AttributeOID returns the dotted OID for a distinguished name attribute type,
// given as short name, dotted OID, or dotted OID with "OID." prefix.
// The match is case-insensitive, unknown types return empty string.
func AttributeOID(typ string) string {
	t := strings.ToUpper(strings.TrimSpace(typ))
	t = strings.TrimPrefix(t, "OID.")
	if _, ok := NameShortNames[t]; ok {
		return t
	}
	return shortNameIndex[t]
}

var shortNameIndex = func() map[string]string {
	m := map[string]string{}
	for id, names := range NameShortNames {
		for _, n := range names {
			m[n] = id
		}
	}
	return m
}()
