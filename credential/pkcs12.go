package credential

import (
	"crypto/x509"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/certinfo"
	"github.com/effective-security/xcard/x/fileutil"
	"software.sslmate.com/src/go-pkcs12"
)

// ErrPKCS12PasswordRequired is returned when the PKCS#12 file
// can not be opened with the given password
var ErrPKCS12PasswordRequired = errors.New("PKCS#12 password required")

// PKCS12Info describes the content of a PKCS#12 file
type PKCS12Info struct {
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	Identity    *certinfo.Identity
	// Signing is nil if the certificate qualifies for signing,
	// or the reason it does not
	Signing error
}

// InspectPKCS12 decodes the PKCS#12 data and classifies its certificate
func InspectPKCS12(data []byte, password string) (*PKCS12Info, error) {
	_, crt, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		if isPKCS12PasswordError(err) {
			return nil, errors.WithStack(ErrPKCS12PasswordRequired)
		}
		return nil, errors.WithMessagef(err, "unable to decode PKCS#12")
	}

	return &PKCS12Info{
		Certificate: crt,
		Chain:       chain,
		Identity:    certinfo.Extract(crt),
		Signing:     certinfo.CheckSigning(crt),
	}, nil
}

// LoadPKCS12 reads and inspects the PKCS#12 file
func LoadPKCS12(file, password string) (*PKCS12Info, error) {
	data, err := fileutil.ReadFile(file)
	if err != nil {
		return nil, err
	}
	info, err := InspectPKCS12(data, password)
	if err != nil {
		return nil, errors.WithMessagef(err, "file: %s", file)
	}
	return info, nil
}

// Credential returns software credential for the file,
// populated from the certificate identity
func (i *PKCS12Info) Credential(path string) *Credential {
	c := FromIdentity(i.Identity, SoftwareFile, path, NoSlot)
	if c.Identification == "" {
		c.Identification = NewSoftware(path).Identification
	}
	return c
}

func isPKCS12PasswordError(err error) bool {
	if errors.Is(err, pkcs12.ErrIncorrectPassword) || errors.Is(err, pkcs12.ErrDecryption) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "mac could not be verified")
}
