// Package discovery finds the signing credentials available to the user:
// certificates on PKCS#11 smart cards, and configured PKCS#12 files.
//
// With a PIN, every token is opened through the registered keystore
// provider and its paired certificates are listed.
// Without a PIN, the public certificate objects are read from every token.
// In both modes only certificates that qualify for signing are returned,
// followed by the configured PKCS#12 files that exist.
package discovery

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/guid"
	"github.com/effective-security/xcard/credential"
	"github.com/effective-security/xcard/crypto11"
	"github.com/effective-security/xcard/cryptoprov"
	"github.com/effective-security/xcard/metricskey"
	"github.com/effective-security/xcard/p11"
	"github.com/effective-security/xcard/token"
	"github.com/effective-security/xcard/x/fileutil"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcard", "discovery")

// ModuleLoader loads the PKCS#11 library
type ModuleLoader func(path string) (p11.Module, error)

// LoadModule is the default ModuleLoader
func LoadModule(path string) (p11.Module, error) {
	lib, err := p11.Load(path)
	if err != nil {
		return nil, err
	}
	return lib, nil
}

type options struct {
	loadModule   ModuleLoader
	loadProvider cryptoprov.ProviderLoader
}

var defaultOptions = options{
	loadModule:   LoadModule,
	loadProvider: crypto11.LoadProvider,
}

// An Option sets options such as the library loader
type Option func(*options)

// WithModuleLoader lets to specify the loader of the PKCS#11 library,
// used in anonymous mode and to list the tokens.
func WithModuleLoader(loader ModuleLoader) Option {
	return func(o *options) {
		o.loadModule = loader
	}
}

// WithProviderLoader lets to specify the keystore provider used when
// a PIN is supplied. By default crypto11.LoadProvider is used.
func WithProviderLoader(loader cryptoprov.ProviderLoader) Option {
	return func(o *options) {
		o.loadProvider = loader
	}
}

// Detector discovers signing credentials.
// Concurrent calls to Discover are serialized.
type Detector struct {
	cfg  *cryptoprov.Config
	opts options

	lock  sync.Mutex
	owned bool
}

// New returns Detector for the token configuration.
// If cfg is nil, or does not specify the library path,
// the default library of the platform is used.
func New(cfg cryptoprov.TokenConfig, opt ...Option) *Detector {
	opts := defaultOptions
	for _, o := range opt {
		o(&opts)
	}

	c := &cryptoprov.Config{}
	if cfg != nil {
		c = &cryptoprov.Config{
			Man:    cfg.Manufacturer(),
			Mod:    cfg.Model(),
			Dir:    cfg.Path(),
			Serial: cfg.TokenSerial(),
			Label:  cfg.TokenLabel(),
			SlotID: cfg.Slot(),
			Files:  cfg.PKCS12Files(),
		}
	}
	if c.Dir == "" {
		c.Dir = cryptoprov.DefaultLibraryPath(runtime.GOOS, os.Getenv)
	}

	return &Detector{
		cfg:  c,
		opts: opts,
	}
}

// LibraryPath returns the path of the PKCS#11 library
func (d *Detector) LibraryPath() string {
	return d.cfg.Dir
}

// Discover returns the signing credentials on the tokens, followed by
// the configured PKCS#12 files.
//
// A non-empty pin selects the keystore mode, otherwise the public
// certificates are read without login. The caller owns the pin buffer,
// see credential.WipePIN.
//
// Hardware failures are logged and only software credentials are returned,
// except for a missing library, an unsupported library architecture or
// a cancelled context.
func (d *Detector) Discover(ctx context.Context, pin []byte) ([]*credential.Credential, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	mode := d.mode(pin)
	runID := guid.MustCreate()
	result := "ok"
	defer func(start time.Time) {
		metricskey.PerfDiscovery.MeasureSince(start, mode.Name(), result)
	}(time.Now())

	logger.KV(xlog.DEBUG, "run", runID, "mode", mode.Name(), "library", d.cfg.Dir)

	list, err := d.hardware(ctx, mode)
	if err != nil {
		if IsFatal(err) {
			result = "failed"
			logger.KV(xlog.ERROR, "run", runID, "reason", "hardware", "err", err.Error())
			return nil, err
		}
		result = "software_only"
		logger.KV(xlog.WARNING, "run", runID, "reason", "hardware", "err", err.Error())
	}

	list = append(list, d.software(runID)...)
	logger.KV(xlog.INFO, "run", runID, "mode", mode.Name(), "credentials", len(list))
	return list, nil
}

// Close releases the keystore provider registered by the detector
func (d *Detector) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.owned {
		return nil
	}
	d.owned = false
	if _, err := cryptoprov.Unregister(d.cfg.Manufacturer()); err != nil {
		logger.KV(xlog.DEBUG, "reason", "unregistered", "manufacturer", d.cfg.Manufacturer(), "err", err.Error())
	}
	return nil
}

func (d *Detector) mode(pin []byte) Mode {
	if len(pin) == 0 {
		return &anonymousMode{cfg: d.cfg}
	}

	// the registration may have been released by another detector
	manufacturer := d.cfg.Manufacturer()
	if !cryptoprov.IsRegistered(manufacturer) {
		if err := cryptoprov.Register(manufacturer, d.opts.loadProvider); err == nil {
			d.owned = true
		} else {
			logger.KV(xlog.DEBUG, "reason", "registered", "manufacturer", manufacturer)
		}
	}

	return &keystoreMode{
		cfg:  d.cfg,
		pin:  pin,
		open: cryptoprov.LoadProvider,
	}
}

func (d *Detector) hardware(ctx context.Context, mode Mode) ([]*credential.Credential, error) {
	if err := p11.Probe(d.cfg.Dir); err != nil {
		return nil, classify(err)
	}

	mod, err := d.opts.loadModule(d.cfg.Dir)
	if err != nil {
		return nil, classify(errors.WithMessagef(err, "unable to load library"))
	}
	if lib, ok := mod.(interface{ Destroy() }); ok {
		defer lib.Destroy()
	}

	list, err := mode.Credentials(ctx, token.NewManager(mod))
	if err != nil {
		return nil, classify(err)
	}
	return list, nil
}

func (d *Detector) software(runID string) []*credential.Credential {
	var list []*credential.Credential
	for _, path := range d.cfg.Files {
		if path == "" {
			continue
		}
		if err := fileutil.FileExists(path); err != nil {
			logger.KV(xlog.DEBUG, "run", runID, "reason", "not_found", "file", path)
			continue
		}
		list = append(list, credential.NewSoftware(path))
	}
	return list
}
