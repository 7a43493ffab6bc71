package cli

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/credential"
	"github.com/effective-security/xcard/x/print"
)

// P12Cmd prints the content of PKCS#12 file
type P12Cmd struct {
	In            string `kong:"arg" required:"" help:"PKCS#12 file"`
	PasswordFile  string `help:"file with the password"`
	PasswordStdin bool   `help:"read the password from stdin"`
	JSON          bool   `help:"print the credential as JSON"`
}

// Run the command
func (a *P12Cmd) Run(ctx *Cli) error {
	pwd, err := ctx.ReadSecret(a.PasswordFile, a.PasswordStdin)
	if err != nil {
		return errors.WithMessagef(err, "unable to read password")
	}
	defer credential.WipePIN(pwd)

	info, err := credential.LoadPKCS12(a.In, string(pwd))
	if err != nil {
		return err
	}

	c := info.Credential(a.In)
	if a.JSON {
		return ctx.WriteJSON(c)
	}

	w := ctx.Writer()
	fmt.Fprintf(w, "Credential: %s\n", c.DisplayInfo())
	fmt.Fprintf(w, "Chain: %d certificates\n", len(info.Chain)+1)
	print.Certificate(w, info.Certificate, true)
	return nil
}
