package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/effective-security/x/ctl"
	"github.com/effective-security/xcard/cmd/cardscan/cli"
	"github.com/effective-security/xcard/internal/version"
)

type app struct {
	cli.Cli

	Slots   cli.SlotsCmd   `cmd:"" help:"list slots with a token present"`
	List    cli.ListCmd    `cmd:"" help:"list signing credentials"`
	Cert    cli.CertCmd    `cmd:"" help:"print certificate info and signing capability"`
	P12     cli.P12Cmd     `cmd:"" help:"print PKCS#12 file info"`
	Version cli.VersionCmd `cmd:"" help:"print version"`
}

func main() {
	realMain(os.Args, os.Stdout, os.Stderr, os.Exit)
}

func realMain(args []string, out io.Writer, errout io.Writer, exit func(int)) {
	cl := app{
		Cli: cli.Cli{},
	}
	cl.Cli.WithErrWriter(errout).
		WithWriter(out)

	parser, err := kong.New(&cl,
		kong.Name("cardscan"),
		kong.Description("CLI tool to discover signing credentials on smart cards"),
		kong.Writers(out, errout),
		kong.Exit(exit),
		ctl.BoolPtrMapper,
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version.Current().String(),
		})
	if err != nil {
		panic(err)
	}

	ctx, err := parser.Parse(args[1:])
	parser.FatalIfErrorf(err)

	if ctx != nil {
		if cl.Debug {
			// in DEBUG more print command line
			_, _ = fmt.Fprintf(ctx.Stdout, "#\n# %s\n#\n", strings.Join(args, " "))
		}
		err = ctx.Run(&cl.Cli)
		ctx.FatalIfErrorf(err)
	}
}
