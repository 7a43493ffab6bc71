package discovery

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/certinfo"
	"github.com/effective-security/xcard/credential"
	"github.com/effective-security/xcard/cryptoprov"
	"github.com/effective-security/xcard/metricskey"
	"github.com/effective-security/xcard/p11"
	"github.com/effective-security/xcard/token"
	"github.com/effective-security/xlog"
)

// Mode is a strategy to read signing credentials from the tokens
type Mode interface {
	// Name of the mode, used in logs and metrics
	Name() string
	// Credentials returns signing credentials found on the tokens of the module
	Credentials(ctx context.Context, mgr *token.Manager) ([]*credential.Credential, error)
}

// Mode names
const (
	ModeKeystore  = "keystore"
	ModeAnonymous = "anonymous"
)

// keystoreMode opens every token with the user PIN through the
// registered keystore provider, and reads paired certificates
type keystoreMode struct {
	cfg  *cryptoprov.Config
	pin  []byte
	open func(cfg cryptoprov.TokenConfig) (cryptoprov.Provider, error)
}

func (m *keystoreMode) Name() string {
	return ModeKeystore
}

func (m *keystoreMode) Credentials(ctx context.Context, mgr *token.Manager) ([]*credential.Credential, error) {
	var tokens []*token.Info
	// the keystore initializes the library itself,
	// so the slots are listed in their own bracket
	err := mgr.Run(func() (err error) {
		tokens, err = mgr.Tokens()
		return err
	})
	if err != nil {
		return nil, err
	}

	var list []*credential.Credential
	for _, ti := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		if !selected(m.cfg, ti) {
			logger.KV(xlog.DEBUG, "reason", "not_selected", "slot", ti.SlotID, "serial", ti.Serial)
			continue
		}

		certs, err := m.certificates(ti)
		if err != nil {
			if IsPinRequired(err) {
				logger.KV(xlog.WARNING, "reason", "pin_required", "slot", ti.SlotID, "serial", ti.Serial)
				continue
			}
			logger.KV(xlog.WARNING, "reason", "keystore", "slot", int(ti.SlotID), "serial", ti.Serial, "err", err.Error())
			return nil, errors.WithMessagef(err, "slot %d", ti.SlotID)
		}
		list = append(list, signingCredentials(certs, credential.HardwareTokenPrivate, ti)...)
	}
	return list, nil
}

func (m *keystoreMode) certificates(ti *token.Info) ([]*x509.Certificate, error) {
	defer metricskey.PerfSlotScan.MeasureSince(time.Now(), ModeKeystore, "certificates")

	// the provider takes the PIN as string, which can not be wiped
	prov, err := m.open(cryptoprov.ForSlot(m.cfg, int(ti.SlotID), string(m.pin)))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := prov.Close(); err != nil {
			logger.KV(xlog.WARNING, "reason", "close", "slot", ti.SlotID, "err", err.Error())
		}
	}()
	return prov.Certificates()
}

// anonymousMode reads public certificate objects of every token
// without login
type anonymousMode struct {
	cfg *cryptoprov.Config
}

func (m *anonymousMode) Name() string {
	return ModeAnonymous
}

func (m *anonymousMode) Credentials(ctx context.Context, mgr *token.Manager) ([]*credential.Credential, error) {
	var list []*credential.Credential
	err := mgr.Run(func() error {
		return mgr.ForEachSlot(ctx, func(ti *token.Info, sh p11.SessionHandle) error {
			if !selected(m.cfg, ti) {
				logger.KV(xlog.DEBUG, "reason", "not_selected", "slot", ti.SlotID, "serial", ti.Serial)
				return nil
			}
			defer metricskey.PerfSlotScan.MeasureSince(time.Now(), ModeAnonymous, "certificates")

			certs, err := mgr.Certificates(sh)
			if err != nil {
				return err
			}
			list = append(list, signingCredentials(certs, credential.HardwareTokenPublic, ti)...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// selected returns true if the token matches the configured
// serial, label and slot
func selected(cfg *cryptoprov.Config, ti *token.Info) bool {
	if cfg.Serial != "" && cfg.Serial != ti.Serial {
		return false
	}
	if cfg.Label != "" && cfg.Label != ti.Label {
		return false
	}
	if cfg.SlotID != nil && p11.SlotID(*cfg.SlotID) != ti.SlotID {
		return false
	}
	return true
}

func signingCredentials(certs []*x509.Certificate, kind credential.Kind, ti *token.Info) []*credential.Credential {
	var list []*credential.Credential
	for _, crt := range certs {
		if err := certinfo.CheckSigning(crt); err != nil {
			logger.KV(xlog.DEBUG,
				"reason", "not_signing",
				"slot", ti.SlotID,
				"subject", crt.Subject.String(),
				"err", err.Error())
			continue
		}
		id := certinfo.Extract(crt)
		list = append(list, credential.FromIdentity(id, kind, ti.Serial, int(ti.SlotID)))
	}
	return list
}
