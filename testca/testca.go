// Package testca issues certificates for tests.
//
//	root := testca.NewEntity(testca.Authority)
//	leaf := root.Issue(testca.Subject(pkix.Name{CommonName: "Jane Doe"}))
package testca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync/atomic"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// Entity is a certificate and its private key
type Entity struct {
	Subject            pkix.Name
	Issuer             *Entity
	PrivateKey         crypto.Signer
	Certificate        *x509.Certificate
	NextSN             int64
	IsCA               bool
	NoBasicConstraints bool
	NotBefore          time.Time
	NotAfter           time.Time
	KeyUsage           x509.KeyUsage
	ExtKeyUsage        []x509.ExtKeyUsage
	Extensions         []pkix.Extension
	DNSNames           []string
	SerialNumber       *big.Int
}

// Option configures an Entity
type Option func(*Entity)

var serial atomic.Int64

// NewEntity creates and signs a new certificate.
// Without Issuer option the certificate is self-signed.
func NewEntity(opts ...Option) *Entity {
	e := &Entity{
		Subject:   pkix.Name{CommonName: "[TEST] Entity"},
		NextSN:    1,
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(24 * time.Hour),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.PrivateKey == nil {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			panic(err)
		}
		e.PrivateKey = key
	}

	sn := e.SerialNumber
	if sn == nil {
		if e.Issuer != nil {
			sn = big.NewInt(e.Issuer.NextSN)
			e.Issuer.NextSN++
		} else {
			sn = big.NewInt(serial.Add(1))
		}
	}

	template := &x509.Certificate{
		SerialNumber:          sn,
		Subject:               e.Subject,
		NotBefore:             e.NotBefore,
		NotAfter:              e.NotAfter,
		KeyUsage:              e.KeyUsage,
		ExtKeyUsage:           e.ExtKeyUsage,
		ExtraExtensions:       e.Extensions,
		DNSNames:              e.DNSNames,
		BasicConstraintsValid: !e.NoBasicConstraints,
		IsCA:                  e.IsCA,
	}

	parent, signer := template, e.PrivateKey
	if e.Issuer != nil {
		parent, signer = e.Issuer.Certificate, e.Issuer.PrivateKey
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, e.PrivateKey.Public(), signer)
	if err != nil {
		panic(err)
	}
	e.Certificate, err = x509.ParseCertificate(der)
	if err != nil {
		panic(err)
	}
	return e
}

// Issue creates a new certificate signed by the entity
func (e *Entity) Issue(opts ...Option) *Entity {
	opts = append(opts, Issuer(e))
	return NewEntity(opts...)
}

// Chain returns the certificate and its issuers
func (e *Entity) Chain() []*x509.Certificate {
	var list []*x509.Certificate
	for c := e; c != nil; c = c.Issuer {
		list = append(list, c.Certificate)
	}
	return list
}

// ChainPool returns pool of the certificate and its issuers
func (e *Entity) ChainPool() *x509.CertPool {
	pool := x509.NewCertPool()
	for c := e; c != nil; c = c.Issuer {
		pool.AddCert(c.Certificate)
	}
	return pool
}

// PFX returns PKCS#12 encoded key and certificate chain
func (e *Entity) PFX(password string) []byte {
	chain := e.Chain()
	pfx, err := pkcs12.Modern.Encode(e.PrivateKey, e.Certificate, chain[1:], password)
	if err != nil {
		panic(err)
	}
	return pfx
}

// Authority marks the certificate as CA
func Authority(e *Entity) {
	e.IsCA = true
	if e.KeyUsage == 0 {
		e.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}
}

// NoBasicConstraints omits the basic constraints extension
func NoBasicConstraints(e *Entity) {
	e.NoBasicConstraints = true
}

// Subject sets the subject
func Subject(s pkix.Name) Option {
	return func(e *Entity) {
		e.Subject = s
	}
}

// Issuer sets the issuing entity
func Issuer(issuer *Entity) Option {
	return func(e *Entity) {
		e.Issuer = issuer
	}
}

// PrivateKey sets the key of the entity
func PrivateKey(k crypto.Signer) Option {
	return func(e *Entity) {
		e.PrivateKey = k
	}
}

// NextSerialNumber sets the serial number of the next issued certificate
func NextSerialNumber(n int64) Option {
	return func(e *Entity) {
		e.NextSN = n
	}
}

// SerialNumber sets the serial number of the certificate
func SerialNumber(n *big.Int) Option {
	return func(e *Entity) {
		e.SerialNumber = n
	}
}

// NotBefore sets the start of validity
func NotBefore(t time.Time) Option {
	return func(e *Entity) {
		e.NotBefore = t
	}
}

// NotAfter sets the end of validity
func NotAfter(t time.Time) Option {
	return func(e *Entity) {
		e.NotAfter = t
	}
}

// KeyUsage sets the key usage
func KeyUsage(ku x509.KeyUsage) Option {
	return func(e *Entity) {
		e.KeyUsage = ku
	}
}

// ExtKeyUsage sets the extended key usage
func ExtKeyUsage(eku ...x509.ExtKeyUsage) Option {
	return func(e *Entity) {
		e.ExtKeyUsage = append(e.ExtKeyUsage, eku...)
	}
}

// Extensions adds extra extensions
func Extensions(list []pkix.Extension) Option {
	return func(e *Entity) {
		e.Extensions = append(e.Extensions, list...)
	}
}

// DNSName adds DNS names
func DNSName(names ...string) Option {
	return func(e *Entity) {
		e.DNSNames = append(e.DNSNames, names...)
	}
}

// Signing is a key usage of a qualified signing certificate
const Signing = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment
