package cryptoprov

import (
	"crypto/x509"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcard", "cryptoprov")

// Provider is a keystore opened over a token with the PIN
type Provider interface {
	// Manufacturer name of the manufacturer
	Manufacturer() string
	// Model name of the device
	Model() string
	// Certificates returns the certificates that have a private key on the token
	Certificates() ([]*x509.Certificate, error)
	// Close logs out and releases the token
	Close() error
}

// ProviderLoader is interface for loading provider by manufacturer
type ProviderLoader func(cfg TokenConfig) (Provider, error)

var (
	lockLoaders sync.RWMutex
	loaders     = make(map[string]ProviderLoader)
)

// Register provider loader by manufacturer
func Register(manufacturer string, loader ProviderLoader) error {
	lockLoaders.Lock()
	defer lockLoaders.Unlock()

	if _, ok := loaders[manufacturer]; ok {
		return errors.Errorf("already registered: %s", manufacturer)
	}

	loaders[manufacturer] = loader

	return nil
}

// Unregister provider loader by manufacturer
func Unregister(manufacturer string) (ProviderLoader, error) {
	lockLoaders.Lock()
	defer lockLoaders.Unlock()

	if loader, ok := loaders[manufacturer]; ok {
		delete(loaders, manufacturer)
		return loader, nil
	}

	return nil, errors.Errorf("not registered: %s", manufacturer)
}

// IsRegistered returns true if a loader is registered for the manufacturer
func IsRegistered(manufacturer string) bool {
	lockLoaders.RLock()
	defer lockLoaders.RUnlock()
	_, ok := loaders[manufacturer]
	return ok
}

// LoadProvider opens a provider for the configuration
func LoadProvider(cfg TokenConfig) (Provider, error) {
	manufacturer := cfg.Manufacturer()

	lockLoaders.RLock()
	loader, ok := loaders[manufacturer]
	lockLoaders.RUnlock()

	if !ok {
		return nil, errors.Errorf("provider not registered: %s", manufacturer)
	}

	prov, err := loader(cfg)
	if err != nil {
		return nil, err
	}
	logger.KV(xlog.DEBUG, "manufacturer", prov.Manufacturer(), "model", prov.Model())
	return prov, nil
}
