package discovery_test

import (
	"bytes"
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/credential"
	"github.com/effective-security/xcard/cryptoprov"
	"github.com/effective-security/xcard/discovery"
	"github.com/effective-security/xcard/p11"
	"github.com/effective-security/xcard/p11/p11test"
	"github.com/effective-security/xcard/testca"
	"github.com/effective-security/xcard/x/fileutil"
	"github.com/effective-security/xlog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const libPath = "/usr/lib/x64-athena/libASEP11.so"

var (
	ca = testca.NewEntity(
		testca.Authority,
		testca.Subject(pkix.Name{CommonName: "CA SINPE - PERSONA FISICA v2"}),
	)
	janeDoe = ca.Issue(
		testca.Subject(pkix.Name{
			CommonName:   "Jane Doe",
			Organization: []string{"ACME"},
			SerialNumber: "1-2345-6789",
			Country:      []string{"CR"},
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: asn1.ObjectIdentifier{2, 5, 4, 42}, Value: "Jane"},
				{Type: asn1.ObjectIdentifier{2, 5, 4, 4}, Value: "Doe"},
			},
		}),
		testca.KeyUsage(testca.Signing),
		testca.NotAfter(time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)),
	)
	authentication = ca.Issue(
		testca.Subject(pkix.Name{CommonName: "JANE DOE (AUTENTICACION)", SerialNumber: "1-2345-6789"}),
		testca.KeyUsage(x509.KeyUsageDigitalSignature),
	)
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Manufacturer() string { return "Athena" }
func (m *mockProvider) Model() string        { return "IDProtect" }

func (m *mockProvider) Certificates() ([]*x509.Certificate, error) {
	args := m.Called()
	list, _ := args.Get(0).([]*x509.Certificate)
	return list, args.Error(1)
}

func (m *mockProvider) Close() error {
	return m.Called().Error(0)
}

// withMemFs installs in-memory filesystem with the vendor library
func withMemFs(t *testing.T) {
	saved := fileutil.Vfs
	fileutil.Vfs = afero.NewMemMapFs()
	t.Cleanup(func() { fileutil.Vfs = saved })
	require.NoError(t, afero.WriteFile(fileutil.Vfs, libPath, []byte("athena"), 0o644))
}

// captureLogs redirects the logs to the returned buffer
func captureLogs(t *testing.T) *bytes.Buffer {
	saved := xlog.GetFormatter()
	var buf bytes.Buffer
	xlog.SetFormatter(xlog.NewStringFormatter(&buf))
	t.Cleanup(func() { xlog.SetFormatter(saved) })
	return &buf
}

func moduleLoader(mod *p11test.Module) discovery.Option {
	return discovery.WithModuleLoader(func(path string) (p11.Module, error) {
		return mod, nil
	})
}

func card(id p11.SlotID, serial string, certs ...*x509.Certificate) p11test.Slot {
	tok := &p11test.Token{
		Label:        "ACME ID",
		Manufacturer: "Athena",
		Model:        "IDProtect",
		Serial:       serial,
	}
	for _, crt := range certs {
		tok.Objects = append(tok.Objects, p11test.Certificate(crt.Raw))
	}
	return p11test.Slot{ID: id, Token: tok}
}

func TestDiscover_Keystore(t *testing.T) {
	withMemFs(t)
	mod := p11test.New(card(1, "0001"), p11test.Slot{ID: 2})

	prov := &mockProvider{}
	prov.On("Certificates").Times(1).Return([]*x509.Certificate{ca.Certificate, janeDoe.Certificate, authentication.Certificate}, nil)
	prov.On("Close").Times(1).Return(nil)

	var opened []cryptoprov.TokenConfig
	loader := func(cfg cryptoprov.TokenConfig) (cryptoprov.Provider, error) {
		opened = append(opened, cfg)
		return prov, nil
	}

	cfg := &cryptoprov.Config{Man: "Athena Keystore", Dir: libPath}
	d := discovery.New(cfg, moduleLoader(mod), discovery.WithProviderLoader(loader))

	list, err := d.Discover(context.Background(), []byte("1234"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, &credential.Credential{
		Identification: "1-2345-6789",
		FirstName:      "Jane",
		LastName:       "Doe",
		CommonName:     "Jane Doe",
		Organization:   "ACME",
		Expires:        "01/01/2030",
		SerialHex:      janeDoe.Certificate.SerialNumber.Text(16),
		TokenSerial:    "0001",
		SlotID:         1,
		Kind:           credential.HardwareTokenPrivate,
	}, list[0])
	assert.Equal(t, "Jane Doe (1-2345-6789) (Expira: 01/01/2030)", list[0].DisplayInfo())
	prov.AssertExpectations(t)

	require.Len(t, opened, 1)
	require.NotNil(t, opened[0].Slot())
	assert.Equal(t, 1, *opened[0].Slot())
	assert.Equal(t, "1234", opened[0].Pin())
	assert.Equal(t, libPath, opened[0].Path())

	assert.Equal(t, 1, mod.Calls("C_Initialize"))
	assert.Equal(t, 1, mod.Calls("C_Finalize"))
	assert.Equal(t, 0, mod.OpenSessions())

	assert.True(t, cryptoprov.IsRegistered("Athena Keystore"))
	require.NoError(t, d.Close())
	assert.False(t, cryptoprov.IsRegistered("Athena Keystore"))
	require.NoError(t, d.Close())
}

func TestDiscover_NoNonRepudiation(t *testing.T) {
	withMemFs(t)
	mod := p11test.New(card(1, "0001"))

	prov := &mockProvider{}
	prov.On("Certificates").Return([]*x509.Certificate{authentication.Certificate}, nil)
	prov.On("Close").Return(nil)

	d := discovery.New(&cryptoprov.Config{Man: "Athena NR", Dir: libPath},
		moduleLoader(mod),
		discovery.WithProviderLoader(func(cryptoprov.TokenConfig) (cryptoprov.Provider, error) {
			return prov, nil
		}))
	defer d.Close()

	list, err := d.Discover(context.Background(), []byte("1234"))
	require.NoError(t, err)
	assert.Empty(t, list)
	prov.AssertNumberOfCalls(t, "Close", 1)
}

func TestDiscover_PinRequired(t *testing.T) {
	withMemFs(t)
	require.NoError(t, afero.WriteFile(fileutil.Vfs, "/home/jane/firma.p12", janeDoe.PFX("1234"), 0o600))

	mod := p11test.New(card(1, "0001"), card(3, "0003"))
	var opened int
	d := discovery.New(
		&cryptoprov.Config{Man: "Athena PIN", Dir: libPath},
		moduleLoader(mod),
		discovery.WithProviderLoader(func(cryptoprov.TokenConfig) (cryptoprov.Provider, error) {
			opened++
			return nil, errors.New("unable to open token slot 1: pkcs11: 0x101: CKR_USER_NOT_LOGGED_IN")
		}))
	defer d.Close()

	list, err := d.Discover(context.Background(), []byte("1234"))
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 2, opened)

	t.Run("other_failure", func(t *testing.T) {
		d := discovery.New(
			&cryptoprov.Config{Man: "Athena Failure", Dir: libPath, Files: []string{"/home/jane/firma.p12"}},
			moduleLoader(mod),
			discovery.WithProviderLoader(func(cryptoprov.TokenConfig) (cryptoprov.Provider, error) {
				return nil, errors.New("pkcs11: 0xA0: CKR_PIN_INCORRECT")
			}))
		defer d.Close()

		logs := captureLogs(t)
		list, err := d.Discover(context.Background(), []byte("0000"))
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, credential.SoftwareFile, list[0].Kind)
		assert.Contains(t, logs.String(), `level=W`)
		assert.Contains(t, logs.String(), `reason="keystore" slot=1 serial="0001" err="pkcs11: 0xA0: CKR_PIN_INCORRECT"`)
		assert.Contains(t, logs.String(), `err="slot 1: pkcs11: 0xA0: CKR_PIN_INCORRECT"`)
	})
}

func TestDiscover_SoftwareOnly(t *testing.T) {
	withMemFs(t)
	require.NoError(t, afero.WriteFile(fileutil.Vfs, "/home/jane/firma.p12", janeDoe.PFX("1234"), 0o600))

	cfg := &cryptoprov.Config{
		Dir:   libPath,
		Files: []string{"/home/jane/firma.p12", "/home/jane/missing.p12", ""},
	}
	mod := p11test.New()
	d := discovery.New(cfg, moduleLoader(mod))

	list, err := d.Discover(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, credential.SoftwareFile, list[0].Kind)
	assert.Equal(t, "firma.p12", list[0].Identification)
	assert.Equal(t, "/home/jane/firma.p12", list[0].TokenSerial)
	assert.Equal(t, credential.NoSlot, list[0].SlotID)
	assert.Equal(t, credential.PlaceholderFirstName, list[0].FirstName)
	assert.Equal(t, 1, mod.Calls("C_Finalize"))

	t.Run("hardware_failure", func(t *testing.T) {
		mod := p11test.New(card(1, "0001", janeDoe.Certificate))
		mod.InitStatus = p11.CKR_GENERAL_ERROR
		d := discovery.New(cfg, moduleLoader(mod))

		list, err := d.Discover(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, credential.SoftwareFile, list[0].Kind)
		assert.Equal(t, 1, mod.Calls("C_Finalize"))
	})
}

func TestDiscover_Anonymous(t *testing.T) {
	withMemFs(t)

	broken := card(3, "0003", janeDoe.Certificate)
	broken.Token.OpenStatus = p11.CKR_GENERAL_ERROR

	mod := p11test.New(
		card(1, "0001", ca.Certificate, janeDoe.Certificate, authentication.Certificate),
		p11test.Slot{ID: 2},
		broken,
		card(4, "0004", janeDoe.Certificate),
	)
	d := discovery.New(&cryptoprov.Config{Dir: libPath}, moduleLoader(mod))

	list, err := d.Discover(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for i, exp := range []struct {
		serial string
		slot   int
	}{{"0001", 1}, {"0004", 4}} {
		assert.Equal(t, credential.HardwareTokenPublic, list[i].Kind)
		assert.Equal(t, exp.serial, list[i].TokenSerial)
		assert.Equal(t, exp.slot, list[i].SlotID)
		assert.Equal(t, "1-2345-6789", list[i].Identification)
		assert.Equal(t, "01/01/2030", list[i].Expires)
	}

	assert.False(t, mod.Initialized())
	assert.Equal(t, 0, mod.OpenSessions())
	assert.Equal(t, mod.Calls("C_FindObjectsInit"), mod.Calls("C_FindObjectsFinal"))

	t.Run("selected", func(t *testing.T) {
		slot := 4
		d := discovery.New(&cryptoprov.Config{Dir: libPath, SlotID: &slot}, moduleLoader(mod))
		list, err := d.Discover(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "0004", list[0].TokenSerial)

		d = discovery.New(&cryptoprov.Config{Dir: libPath, Serial: "0001", Label: "other"}, moduleLoader(mod))
		list, err = d.Discover(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		list, err := d.Discover(ctx, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, list)
	})
}

func TestDiscover_Escalated(t *testing.T) {
	withMemFs(t)
	require.NoError(t, afero.WriteFile(fileutil.Vfs, "/home/jane/firma.p12", janeDoe.PFX("1234"), 0o600))
	files := []string{"/home/jane/firma.p12"}

	t.Run("library_not_found", func(t *testing.T) {
		d := discovery.New(&cryptoprov.Config{Dir: "/usr/lib/missing.so", Files: files})
		list, err := d.Discover(context.Background(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, p11.ErrLibraryNotFound)
		assert.Nil(t, list)
	})

	t.Run("architecture", func(t *testing.T) {
		d := discovery.New(&cryptoprov.Config{Dir: libPath, Files: files},
			discovery.WithModuleLoader(func(path string) (p11.Module, error) {
				return nil, errors.Errorf("%s: wrong ELF class: incompatible architecture (64-bit)", path)
			}))
		list, err := d.Discover(context.Background(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, discovery.ErrUnsupportedArchitecture)
		assert.Contains(t, err.Error(), "unable to load library")
		assert.Nil(t, list)
	})
}

func TestDetector_Close(t *testing.T) {
	withMemFs(t)

	const man = "Athena Shared"
	shared := func(cryptoprov.TokenConfig) (cryptoprov.Provider, error) {
		return nil, errors.New("token login required")
	}
	require.NoError(t, cryptoprov.Register(man, shared))
	defer cryptoprov.Unregister(man)

	d := discovery.New(&cryptoprov.Config{Man: man, Dir: libPath}, moduleLoader(p11test.New(card(1, "0001"))))
	list, err := d.Discover(context.Background(), []byte("1234"))
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, d.Close())
	assert.True(t, cryptoprov.IsRegistered(man))
}

func TestDetector_SharedRegistration(t *testing.T) {
	withMemFs(t)
	mod := p11test.New(card(1, "0001"))

	prov := &mockProvider{}
	prov.On("Certificates").Return([]*x509.Certificate{janeDoe.Certificate}, nil)
	prov.On("Close").Return(nil)
	loader := discovery.WithProviderLoader(func(cryptoprov.TokenConfig) (cryptoprov.Provider, error) {
		return prov, nil
	})

	cfg := &cryptoprov.Config{Dir: libPath}
	d1 := discovery.New(cfg, moduleLoader(mod), loader)
	d2 := discovery.New(cfg, moduleLoader(mod), loader)

	for _, d := range []*discovery.Detector{d1, d2} {
		list, err := d.Discover(context.Background(), []byte("1234"))
		require.NoError(t, err)
		require.Len(t, list, 1)
	}

	require.NoError(t, d1.Close())
	assert.False(t, cryptoprov.IsRegistered(cryptoprov.DefaultManufacturer))

	list, err := d2.Discover(context.Background(), []byte("1234"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, credential.HardwareTokenPrivate, list[0].Kind)
	assert.True(t, cryptoprov.IsRegistered(cryptoprov.DefaultManufacturer))

	require.NoError(t, d2.Close())
	assert.False(t, cryptoprov.IsRegistered(cryptoprov.DefaultManufacturer))
	require.NoError(t, d1.Close())
}

func TestNew_Defaults(t *testing.T) {
	d := discovery.New(nil)
	assert.NotEmpty(t, d.LibraryPath())

	d = discovery.New(&cryptoprov.Config{Dir: "/opt/lib.so"})
	assert.Equal(t, "/opt/lib.so", d.LibraryPath())
}
