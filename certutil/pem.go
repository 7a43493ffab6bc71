package certutil

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

const certTimeFormat = "2006-01-02 15:04:05 MST"

// ParseChainFromPEM returns Certificates parsed from PEM
func ParseChainFromPEM(certificateChainPem []byte) ([]*x509.Certificate, error) {
	list := make([]*x509.Certificate, 0)
	var block *pem.Block
	// trim white space around PEM
	rest := []byte(strings.TrimSpace(string(certificateChainPem)))
	for len(rest) != 0 {
		block, rest = pem.Decode(rest)
		if block == nil {
			return list, errors.Errorf("potentially malformed PEM")
		}
		if block.Type == "CERTIFICATE" {
			x509Certificate, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, errors.WithMessage(err, "failed to parse certificate")
			}
			list = append(list, x509Certificate)
		}
		rest = []byte(strings.TrimSpace(string(rest)))
	}
	return list, nil
}

// ParseCertificates returns certificates from PEM or DER encoded bytes
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	if strings.Contains(string(data), "-----BEGIN") {
		return ParseChainFromPEM(data)
	}
	certs, err := x509.ParseCertificates(data)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse DER certificate")
	}
	return certs, nil
}

// NameToString returns string representation of the name
func NameToString(name *pkix.Name) string {
	return name.String()
}

// encodeToPEM converts certificate to PEM format, with optional comments
func encodeToPEM(out io.Writer, withComments bool, crt *x509.Certificate) error {
	if withComments {
		fmt.Fprintf(out, "#   Issuer: %s", NameToString(&crt.Issuer))
		fmt.Fprintf(out, "\n#   Subject: %s", NameToString(&crt.Subject))
		fmt.Fprint(out, "\n#   Validity")
		fmt.Fprintf(out, "\n#       Not Before: %s", crt.NotBefore.UTC().Format(certTimeFormat))
		fmt.Fprintf(out, "\n#       Not After : %s", crt.NotAfter.UTC().Format(certTimeFormat))
		fmt.Fprint(out, "\n")
	}

	err := pem.Encode(out, &pem.Block{Type: "CERTIFICATE", Bytes: crt.Raw})
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// EncodeToPEM converts certificates to PEM format, with optional comments
func EncodeToPEM(out io.Writer, withComments bool, certs ...*x509.Certificate) error {
	for _, crt := range certs {
		if crt != nil {
			err := encodeToPEM(out, withComments, crt)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
