package cli

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/token"
	"github.com/effective-security/xcard/x/print"
)

// SlotsCmd prints the slots with a token present
type SlotsCmd struct {
	JSON bool `help:"print as JSON"`
}

// Run the command
func (a *SlotsCmd) Run(ctx *Cli) error {
	mod, err := ctx.Module()
	if err != nil {
		return err
	}
	if lib, ok := mod.(interface{ Destroy() }); ok {
		defer lib.Destroy()
	}

	mgr := token.NewManager(mod)
	var tokens []*token.Info
	err = mgr.Run(func() (err error) {
		tokens, err = mgr.Tokens()
		return err
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to list tokens")
	}

	if a.JSON {
		if tokens == nil {
			tokens = []*token.Info{}
		}
		return ctx.WriteJSON(tokens)
	}
	print.Tokens(ctx.Writer(), tokens)
	return nil
}
