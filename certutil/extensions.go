package certutil

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/effective-security/xcard/oid"
)

// FindExtensionValue returns extension value, or nil
func FindExtensionValue(list []pkix.Extension, oid asn1.ObjectIdentifier) []byte {
	for _, e := range list {
		if e.Id.Equal(oid) {
			return e.Value
		}
	}
	return nil
}

// FindExtension returns extension, or nil
func FindExtension(list []pkix.Extension, oid asn1.ObjectIdentifier) *pkix.Extension {
	for idx, e := range list {
		if e.Id.Equal(oid) {
			return &list[idx]
		}
	}
	return nil
}

// HasKeyUsage returns true if certificate has the key usage extension
func HasKeyUsage(crt *x509.Certificate) bool {
	return FindExtension(crt.Extensions, oid.ExtensionKeyUsage) != nil
}

// IsCA returns true if the basic constraints mark the certificate as CA
func IsCA(crt *x509.Certificate) bool {
	return crt.BasicConstraintsValid && crt.IsCA
}
