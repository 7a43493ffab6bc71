package certinfo

import (
	"crypto/x509"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/certutil"
)

// Reasons for a certificate not to qualify for signing
var (
	ErrCA                 = errors.New("CA certificate")
	ErrNoKeyUsage         = errors.New("missing key usage")
	ErrNoDigitalSignature = errors.New("missing digital signature key usage")
	ErrNoNonRepudiation   = errors.New("missing non repudiation key usage")
	ErrNilCertificate     = errors.New("nil certificate")
)

var signingKeyUsage = []struct {
	ku  x509.KeyUsage
	err error
}{
	{x509.KeyUsageDigitalSignature, ErrNoDigitalSignature},
	{x509.KeyUsageContentCommitment, ErrNoNonRepudiation},
}

// CheckSigning returns nil if the certificate can produce
// qualified signatures: it is not a CA, and its key usage includes
// both digital signature and non repudiation.
func CheckSigning(crt *x509.Certificate) error {
	if crt == nil {
		return ErrNilCertificate
	}
	if certutil.IsCA(crt) {
		return ErrCA
	}
	if !certutil.HasKeyUsage(crt) {
		return ErrNoKeyUsage
	}
	for _, m := range signingKeyUsage {
		if crt.KeyUsage&m.ku == 0 {
			return m.err
		}
	}
	return nil
}

// IsSigningCertificate returns true if CheckSigning passes
func IsSigningCertificate(crt *x509.Certificate) bool {
	return CheckSigning(crt) == nil
}
