package cryptoprov_test

import (
	"crypto/x509"
	"testing"

	"github.com/effective-security/xcard/cryptoprov"
	"github.com/effective-security/xcard/testca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProvider struct {
	cfg    cryptoprov.TokenConfig
	certs  []*x509.Certificate
	closed bool
}

func (p *testProvider) Manufacturer() string { return p.cfg.Manufacturer() }
func (p *testProvider) Model() string        { return p.cfg.Model() }
func (p *testProvider) Certificates() ([]*x509.Certificate, error) {
	return p.certs, nil
}
func (p *testProvider) Close() error {
	p.closed = true
	return nil
}

func Test_LoadProvider(t *testing.T) {
	const manufacturer = "TestHSM"
	_, _ = cryptoprov.Unregister(manufacturer)

	cfg := &cryptoprov.Config{Man: manufacturer, Mod: "v1"}
	_, err := cryptoprov.LoadProvider(cfg)
	require.Error(t, err)
	assert.Equal(t, "provider not registered: TestHSM", err.Error())

	crt := testca.NewEntity().Certificate
	loader := func(cfg cryptoprov.TokenConfig) (cryptoprov.Provider, error) {
		return &testProvider{cfg: cfg, certs: []*x509.Certificate{crt}}, nil
	}

	err = cryptoprov.Register(manufacturer, loader)
	require.NoError(t, err)
	defer func() {
		_, _ = cryptoprov.Unregister(manufacturer)
	}()

	err = cryptoprov.Register(manufacturer, loader)
	require.Error(t, err)
	assert.Equal(t, "already registered: TestHSM", err.Error())
	assert.True(t, cryptoprov.IsRegistered(manufacturer))

	p, err := cryptoprov.LoadProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, manufacturer, p.Manufacturer())
	assert.Equal(t, "v1", p.Model())

	list, err := p.Certificates()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NoError(t, p.Close())

	l, err := cryptoprov.Unregister(manufacturer)
	require.NoError(t, err)
	assert.NotNil(t, l)
	assert.False(t, cryptoprov.IsRegistered(manufacturer))

	_, err = cryptoprov.Unregister(manufacturer)
	require.Error(t, err)
	assert.Equal(t, "not registered: TestHSM", err.Error())
}
