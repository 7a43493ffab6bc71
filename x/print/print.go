// Package print provides helpers to print certificates, credentials and tokens
package print

import (
	"crypto/x509"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xcard/certinfo"
	"github.com/effective-security/xcard/certutil"
	"github.com/effective-security/xcard/credential"
	"github.com/effective-security/xcard/oid"
	"github.com/effective-security/xcard/token"
	"github.com/ugorji/go/codec"
)

var (
	// jsonEncPPHandle is used to encode json with a human readable pretty printed out put, as well as
	// line breaks/indents, fields are serialized in a canonical order everytime
	jsonEncPPHandle codec.JsonHandle
)

func init() {
	jsonEncPPHandle.BasicHandle.EncodeOptions.Canonical = true
	jsonEncPPHandle.Indent = -1
}

var newLine = []byte("\n")

// JSON prints value to out
func JSON(w io.Writer, value any) error {
	var json []byte
	err := codec.NewEncoderBytes(&json, &jsonEncPPHandle).Encode(value)
	if err != nil {
		return errors.WithMessage(err, "failed to encode")
	}

	_, _ = w.Write(json)
	_, _ = w.Write(newLine)
	return nil
}

// Certificates prints list of cert details
func Certificates(w io.Writer, list []*x509.Certificate, verbose bool) {
	for idx, crt := range list {
		fmt.Fprintf(w, "==================================== %d ====================================\n", 1+idx)
		Certificate(w, crt, verbose)
	}
}

// Certificate prints cert details
func Certificate(w io.Writer, crt *x509.Certificate, verbose bool) {
	now := time.Now()
	issuedIn := now.Sub(crt.NotBefore) / time.Minute * time.Minute
	expiresIn := crt.NotAfter.Sub(now) / time.Minute * time.Minute

	fmt.Fprintf(w, "Subject: %s\n", certutil.NameToString(&crt.Subject))
	fmt.Fprintf(w, "  Serial: %s\n", crt.SerialNumber.Text(16))
	fmt.Fprintf(w, "  Issuer: %s\n", certutil.NameToString(&crt.Issuer))
	if len(crt.SubjectKeyId) > 0 {
		fmt.Fprintf(w, "  SKID: %x\n", crt.SubjectKeyId)
	}
	if len(crt.AuthorityKeyId) > 0 {
		fmt.Fprintf(w, "  IKID: %x\n", crt.AuthorityKeyId)
	}
	fmt.Fprintf(w, "  Issued: %s (%s ago)\n", crt.NotBefore.Local().String(), issuedIn.String())
	fmt.Fprintf(w, "  Expires: %s (in %s)\n", crt.NotAfter.Local().String(), expiresIn.String())
	fmt.Fprintf(w, "  CA: %t\n", certutil.IsCA(crt))

	if verbose {
		if certutil.HasKeyUsage(crt) {
			fmt.Fprintf(w, "  Key usage: %s\n", strings.Join(oid.KeyUsages(crt.KeyUsage), ", "))
		}
		if len(crt.DNSNames) > 0 {
			fmt.Fprintf(w, "  DNS Names: %s\n", strings.Join(crt.DNSNames, ", "))
		}
	}

	err := certinfo.CheckSigning(crt)
	fmt.Fprintf(w, "  Signing: %s\n", values.Select(err == nil, "yes", "no"))
	if err != nil {
		fmt.Fprintf(w, "  Reason: %s\n", err.Error())
	} else {
		Identity(w, certinfo.Extract(crt))
	}
}

// Identity prints the certificate holder
func Identity(w io.Writer, id *certinfo.Identity) {
	fmt.Fprintf(w, "  Identification: %s\n", id.Identification)
	if id.FirstName != "" || id.LastName != "" {
		fmt.Fprintf(w, "  Name: %s %s\n", id.FirstName, id.LastName)
	}
	if id.Organization != "" {
		fmt.Fprintf(w, "  Organization: %s\n", id.Organization)
	}
	fmt.Fprintf(w, "  Valid until: %s\n", id.Expires)
}

// Credentials prints the signing credentials
func Credentials(w io.Writer, list []*credential.Credential) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no credentials found")
		return
	}
	for idx, c := range list {
		fmt.Fprintf(w, "[%d] %s\n", 1+idx, c.DisplayInfo())
		fmt.Fprintf(w, "    Kind: %s\n", c.Kind)
		if c.Kind.IsHardware() {
			fmt.Fprintf(w, "    Token: %s, slot %d\n", c.TokenSerial, c.SlotID)
		} else {
			fmt.Fprintf(w, "    File: %s\n", c.Path())
		}
	}
}

// Tokens prints the tokens info
func Tokens(w io.Writer, list []*token.Info) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no tokens found")
		return
	}
	for _, ti := range list {
		fmt.Fprintf(w, "Slot: %d\n", ti.SlotID)
		fmt.Fprintf(w, "  Description:  %s\n", ti.Label)
		fmt.Fprintf(w, "  Manufacturer: %s\n", ti.Manufacturer)
		fmt.Fprintf(w, "  Model:        %s\n", ti.Model)
		fmt.Fprintf(w, "  Serial:       %s\n", ti.Serial)
		fmt.Fprintf(w, "  Versions:     hardware %s, firmware %s\n", ti.HardwareVersion, ti.FirmwareVersion)
	}
}
