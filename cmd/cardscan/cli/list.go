package cli

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/credential"
	"github.com/effective-security/xcard/x/print"
)

// ListCmd prints the signing credentials
type ListCmd struct {
	PinFile  string   `help:"file with the token PIN, the certificates are read with login"`
	PinStdin bool     `help:"read the token PIN from stdin"`
	NoPin    bool     `help:"read public certificates without login, even if PIN is configured"`
	P12      []string `help:"PKCS#12 files to include, in addition to configured files"`
	JSON     bool     `help:"print as JSON"`
}

// Run the command
func (a *ListCmd) Run(ctx *Cli) error {
	cfg, err := ctx.TokenConfig()
	if err != nil {
		return err
	}
	cfg.Files = append(cfg.Files, a.P12...)

	var pin []byte
	if !a.NoPin {
		pin, err = ctx.ReadSecret(a.PinFile, a.PinStdin)
		if err != nil {
			return errors.WithMessagef(err, "unable to read PIN")
		}
		if len(pin) == 0 && cfg.Pwd != "" {
			pin = []byte(cfg.Pwd)
		}
	}
	defer credential.WipePIN(pin)

	d, err := ctx.Detector()
	if err != nil {
		return err
	}
	defer d.Close()

	list, err := d.Discover(ctx.Context(), pin)
	if err != nil {
		return errors.WithMessagef(err, "failed to discover credentials")
	}

	if a.JSON {
		if list == nil {
			list = []*credential.Credential{}
		}
		return ctx.WriteJSON(list)
	}
	print.Credentials(ctx.Writer(), list)
	return nil
}
