package crypto11

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	thales "github.com/ThalesGroup/crypto11"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/cryptoprov"
	"github.com/effective-security/xlog"
)

// thalesConfig returns the keystore configuration.
// Exactly one token selector is used: serial, then label, then slot.
func thalesConfig(cfg cryptoprov.TokenConfig) (*thales.Config, error) {
	if cfg.Path() == "" {
		return nil, errors.New("missing PKCS#11 library path")
	}

	c := &thales.Config{
		Path: cfg.Path(),
		Pin:  cfg.Pin(),
	}
	switch {
	case cfg.TokenSerial() != "":
		c.TokenSerial = cfg.TokenSerial()
	case cfg.TokenLabel() != "":
		c.TokenLabel = cfg.TokenLabel()
	case cfg.Slot() != nil:
		slot := *cfg.Slot()
		c.SlotNumber = &slot
	default:
		return nil, errors.New("missing token serial, label or slot")
	}
	return c, nil
}

// describe returns token selector for logs and errors
func describe(cfg cryptoprov.TokenConfig) string {
	switch {
	case cfg.TokenSerial() != "":
		return fmt.Sprintf("serial %q", cfg.TokenSerial())
	case cfg.TokenLabel() != "":
		return fmt.Sprintf("label %q", cfg.TokenLabel())
	case cfg.Slot() != nil:
		return fmt.Sprintf("slot %d", *cfg.Slot())
	default:
		return "<unspecified>"
	}
}

// leafCertificates returns the leaf certificate of each pair
func leafCertificates(pairs []tls.Certificate) []*x509.Certificate {
	list := make([]*x509.Certificate, 0, len(pairs))
	for idx, pair := range pairs {
		if pair.Leaf != nil {
			list = append(list, pair.Leaf)
			continue
		}
		if len(pair.Certificate) == 0 {
			logger.KV(xlog.WARNING, "reason", "no_certificate", "entry", idx)
			continue
		}
		crt, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			logger.KV(xlog.WARNING, "reason", "parse", "entry", idx, "err", err.Error())
			continue
		}
		list = append(list, crt)
	}
	return list
}
