package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/cryptoprov"
	"github.com/effective-security/xcard/discovery"
	"github.com/effective-security/xcard/p11"
	"github.com/effective-security/xcard/x/fileutil"
	"github.com/effective-security/xcard/x/print"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcard", "cli")

// Cli provides CLI context to run commands
type Cli struct {
	Cfg      string `help:"Location of token config file" type:"path"`
	Debug    bool   `short:"D" help:"Enable debug mode"`
	LogLevel string `short:"l" help:"Set the logging level (debug|info|warn|error)" default:"error"`
	Library  string `help:"Location of PKCS#11 library, overrides the path in config"`

	// Stdin is the source to read from, typically set to os.Stdin
	stdin io.Reader
	// Output is the destination for all output from the command, typically set to os.Stdout
	output io.Writer
	// ErrOutput is the destinaton for errors.
	// If not set, errors will be written to os.StdError
	errOutput io.Writer

	ctx        context.Context
	cfg        *cryptoprov.Config
	loadModule discovery.ModuleLoader
	opts       []discovery.Option
}

// Context for requests
func (c *Cli) Context() context.Context {
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	return c.ctx
}

// Reader is the source to read from, typically set to os.Stdin
func (c *Cli) Reader() io.Reader {
	if c.stdin != nil {
		return c.stdin
	}
	return os.Stdin
}

// WithReader allows to specify a custom reader
func (c *Cli) WithReader(reader io.Reader) *Cli {
	c.stdin = reader
	return c
}

// Writer returns a writer for control output
func (c *Cli) Writer() io.Writer {
	if c.output != nil {
		return c.output
	}
	return os.Stdout
}

// WithWriter allows to specify a custom writer
func (c *Cli) WithWriter(out io.Writer) *Cli {
	c.output = out
	return c
}

// ErrWriter returns a writer for control output
func (c *Cli) ErrWriter() io.Writer {
	if c.errOutput != nil {
		return c.errOutput
	}
	return os.Stderr
}

// WithErrWriter allows to specify a custom error writer
func (c *Cli) WithErrWriter(out io.Writer) *Cli {
	c.errOutput = out
	return c
}

// WithModuleLoader allows to specify a custom PKCS#11 library loader
func (c *Cli) WithModuleLoader(loader discovery.ModuleLoader) *Cli {
	c.loadModule = loader
	return c
}

// WithDiscoveryOptions allows to specify options for the detector
func (c *Cli) WithDiscoveryOptions(opts ...discovery.Option) *Cli {
	c.opts = opts
	return c
}

// AfterApply hook loads config
func (c *Cli) AfterApply(app *kong.Kong, vars kong.Vars) error {
	if c.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		val := strings.TrimLeft(c.LogLevel, "=")
		l, err := xlog.ParseLevel(strings.ToUpper(val))
		if err != nil {
			return errors.WithStack(err)
		}
		xlog.SetGlobalLogLevel(l)
	}

	return nil
}

// WriteJSON prints response to out
func (c *Cli) WriteJSON(value any) error {
	return print.JSON(c.Writer(), value)
}

// TokenConfig returns the token configuration,
// loaded from --cfg file if specified
func (c *Cli) TokenConfig() (*cryptoprov.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}

	cfg := &cryptoprov.Config{}
	if c.Cfg != "" {
		var err error
		cfg, err = cryptoprov.LoadTokenConfig(c.Cfg)
		if err != nil {
			return nil, errors.WithMessagef(err, "unable to load config")
		}
	}
	if c.Library != "" {
		cfg.Dir = c.Library
	}

	c.cfg = cfg
	return cfg, nil
}

// Detector returns credential detector for the token configuration
func (c *Cli) Detector() (*discovery.Detector, error) {
	cfg, err := c.TokenConfig()
	if err != nil {
		return nil, err
	}
	opts := c.opts
	if c.loadModule != nil {
		opts = append([]discovery.Option{discovery.WithModuleLoader(c.loadModule)}, opts...)
	}
	return discovery.New(cfg, opts...), nil
}

// Module loads the PKCS#11 library
func (c *Cli) Module() (p11.Module, error) {
	d, err := c.Detector()
	if err != nil {
		return nil, err
	}
	path := d.LibraryPath()
	logger.KV(xlog.DEBUG, "library", path)

	loader := c.loadModule
	if loader == nil {
		loader = discovery.LoadModule
	}
	mod, err := loader(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to load library")
	}
	return mod, nil
}

// ReadFile reads from stdin if the file is "-"
func (c *Cli) ReadFile(filename string) ([]byte, error) {
	if filename == "" {
		return nil, errors.New("empty file name")
	}
	if filename == "-" {
		b, err := io.ReadAll(c.Reader())
		return b, errors.WithStack(err)
	}
	return fileutil.ReadFile(filename)
}

// ReadSecret returns the secret from the file, or the first line of stdin.
// Surrounding white space is removed.
func (c *Cli) ReadSecret(filename string, stdin bool) ([]byte, error) {
	if stdin {
		line, err := bufio.NewReader(c.Reader()).ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, errors.WithStack(err)
		}
		return []byte(strings.TrimSpace(line)), nil
	}
	if filename == "" {
		return nil, nil
	}
	b, err := fileutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSpace(string(b))), nil
}
