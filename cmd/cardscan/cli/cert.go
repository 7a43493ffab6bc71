package cli

import (
	"crypto/x509"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/certinfo"
	"github.com/effective-security/xcard/certutil"
	"github.com/effective-security/xcard/x/print"
)

// CertCmd prints certificate info and signing capability
type CertCmd struct {
	In        string `kong:"arg" required:"" help:"PEM or DER file with certificates, or - for stdin"`
	NoExpired *bool  `help:"optional, filter non-expired certificates"`
	Verbose   bool   `short:"V" help:"print key usage and names"`
	JSON      bool   `help:"print identities as JSON"`
}

// CertInfo is the JSON output of cert command
type CertInfo struct {
	Subject  string             `json:"subject"`
	Signing  bool               `json:"signing"`
	Reason   string             `json:"reason,omitempty"`
	Identity *certinfo.Identity `json:"identity"`
}

// Run the command
func (a *CertCmd) Run(ctx *Cli) error {
	raw, err := ctx.ReadFile(a.In)
	if err != nil {
		return errors.WithMessage(err, "unable to load certificates")
	}

	list, err := certutil.ParseCertificates(raw)
	if err != nil {
		return errors.WithMessage(err, "unable to parse certificates")
	}

	if a.NoExpired != nil && *a.NoExpired {
		list = filterByNotAfter(list, time.Now().UTC())
	}

	if !a.JSON {
		print.Certificates(ctx.Writer(), list, a.Verbose)
		return nil
	}

	res := make([]*CertInfo, 0, len(list))
	for _, crt := range list {
		ci := &CertInfo{
			Subject:  crt.Subject.String(),
			Identity: certinfo.Extract(crt),
		}
		if err := certinfo.CheckSigning(crt); err != nil {
			ci.Reason = err.Error()
		} else {
			ci.Signing = true
		}
		res = append(res, ci)
	}
	return ctx.WriteJSON(res)
}

func filterByNotAfter(list []*x509.Certificate, notAfter time.Time) []*x509.Certificate {
	filtered := make([]*x509.Certificate, 0, len(list))
	for _, c := range list {
		if c.NotAfter.After(notAfter) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
