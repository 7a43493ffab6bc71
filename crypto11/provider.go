package crypto11

import (
	"crypto/tls"
	"crypto/x509"

	thales "github.com/ThalesGroup/crypto11"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/cryptoprov"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcard", "crypto11")

// keystore is the part of *crypto11.Context used by the provider
type keystore interface {
	FindAllPairedCertificates() ([]tls.Certificate, error)
	Close() error
}

// Ensure compiles
var (
	_ keystore                  = (*thales.Context)(nil)
	_ cryptoprov.Provider       = (*Provider)(nil)
	_ cryptoprov.ProviderLoader = LoadProvider
)

// configure opens the keystore, replaced in tests
var configure = func(cfg *thales.Config) (keystore, error) {
	ctx, err := thales.Configure(cfg)
	if err != nil {
		return nil, err
	}
	return ctx, nil
}

// Provider is a token opened with the user PIN
type Provider struct {
	manufacturer string
	model        string
	token        string
	ctx          keystore
}

// LoadProvider provides loader for crypto11 provider
func LoadProvider(cfg cryptoprov.TokenConfig) (cryptoprov.Provider, error) {
	p, err := Init(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Init opens the token and logs in with the configured PIN
func Init(cfg cryptoprov.TokenConfig) (*Provider, error) {
	tcfg, err := thalesConfig(cfg)
	if err != nil {
		return nil, err
	}

	ctx, err := configure(tcfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to open token %s", describe(cfg))
	}

	logger.KV(xlog.DEBUG, "status", "opened", "token", describe(cfg))

	return &Provider{
		manufacturer: cfg.Manufacturer(),
		model:        cfg.Model(),
		token:        describe(cfg),
		ctx:          ctx,
	}, nil
}

// Manufacturer returns manufacturer for the provider
func (p *Provider) Manufacturer() string {
	return p.manufacturer
}

// Model returns model for the provider
func (p *Provider) Model() string {
	return p.model
}

// Certificates returns the certificates paired with a private key.
// Entries that fail to parse are logged and skipped.
func (p *Provider) Certificates() ([]*x509.Certificate, error) {
	pairs, err := p.ctx.FindAllPairedCertificates()
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to list certificates on %s", p.token)
	}
	return leafCertificates(pairs), nil
}

// Close logs out and finalizes the token
func (p *Provider) Close() error {
	if p.ctx == nil {
		return nil
	}
	err := p.ctx.Close()
	p.ctx = nil
	return errors.WithStack(err)
}
