package cli

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"time"

	"github.com/alecthomas/kong"
	"github.com/effective-security/x/ctl"
	"github.com/effective-security/xcard/p11"
	"github.com/effective-security/xcard/p11/p11test"
	"github.com/effective-security/xcard/testca"
	"github.com/effective-security/xcard/x/fileutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"
)

const libPath = "/usr/lib/x64-athena/libASEP11.so"

var (
	ca = testca.NewEntity(
		testca.Authority,
		testca.Subject(pkix.Name{CommonName: "CA SINPE - PERSONA FISICA v2"}),
	)
	janeDoe = ca.Issue(
		testca.Subject(pkix.Name{
			CommonName:   "JANE DOE (FIRMA)",
			Organization: []string{"PERSONA FISICA"},
			SerialNumber: "1-2345-6789",
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: asn1.ObjectIdentifier{2, 5, 4, 42}, Value: "JANE"},
				{Type: asn1.ObjectIdentifier{2, 5, 4, 4}, Value: "DOE"},
			},
		}),
		testca.KeyUsage(testca.Signing),
		testca.NotAfter(time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)),
	)
)

type testSuite struct {
	suite.Suite

	ctl *Cli
	mod *p11test.Module
	vfs afero.Fs
	// Out is the outpub buffer
	Out bytes.Buffer
}

func (s *testSuite) SetupTest() {
	s.vfs = fileutil.Vfs
	fileutil.Vfs = afero.NewMemMapFs()
	s.WriteFile(libPath, []byte("athena"))

	s.mod = p11test.New(
		p11test.Slot{ID: 1, Token: &p11test.Token{
			Label:        "ACME ID",
			Manufacturer: "Athena",
			Model:        "IDProtect",
			Serial:       "0001",
			Objects: []p11test.Object{
				p11test.Certificate(ca.Certificate.Raw),
				p11test.Certificate(janeDoe.Certificate.Raw),
			},
		}},
		p11test.Slot{ID: 2},
	)

	s.Out.Reset()
	s.ctl = &Cli{}
	s.ctl.WithErrWriter(&s.Out).
		WithWriter(&s.Out).
		WithModuleLoader(func(string) (p11.Module, error) {
			return s.mod, nil
		})

	parser, err := kong.New(s.ctl,
		kong.Name("cardscan"),
		kong.Description("CLI tool to discover signing credentials on smart cards"),
		kong.Writers(&s.Out, &s.Out),
		ctl.BoolPtrMapper,
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{})
	if err != nil {
		s.FailNow("unexpected error constructing Kong: %+v", err)
	}

	_, err = parser.Parse([]string{"--library=" + libPath})
	if err != nil {
		s.FailNow("unexpected error parsing: %+v", err)
	}
}

func (s *testSuite) TearDownTest() {
	fileutil.Vfs = s.vfs
}

// WriteFile creates file in the in-memory file system
func (s *testSuite) WriteFile(name string, data []byte) {
	s.Require().NoError(afero.WriteFile(fileutil.Vfs, name, data, 0o600))
}

// WritePEM creates PEM file with the certificates
func (s *testSuite) WritePEM(name string, certs ...*x509.Certificate) {
	var b bytes.Buffer
	for _, crt := range certs {
		s.Require().NoError(pemEncode(&b, crt))
	}
	s.WriteFile(name, b.Bytes())
}

// HasText is a helper method to assert that the out stream contains the supplied
// text somewhere
func (s *testSuite) HasText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.Contains(outStr, t)
	}
}

// HasNoText is a helper method to assert that the out stream does not contain the supplied
// text anywhere
func (s *testSuite) HasNoText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.NotContains(outStr, t)
	}
}

// HasEmptyJSONList asserts the output is an empty JSON array
func (s *testSuite) HasEmptyJSONList() {
	var list []any
	s.Require().NoError(json.Unmarshal(s.Out.Bytes(), &list), s.Out.String())
	s.NotNil(list)
	s.Empty(list)
}
