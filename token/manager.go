// Package token enumerates PKCS#11 slots and reads certificate objects
// from the tokens without login.
//
// Every native resource is scoped: Run brackets the library between
// C_Initialize and C_Finalize, WithSession closes the session on every exit
// path, and FindObjects always terminates the find operation.
package token

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/p11"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcard", "token")

// Info describes the token in a slot
type Info struct {
	SlotID          p11.SlotID `json:"slot_id" yaml:"slot_id"`
	Label           string     `json:"label,omitempty" yaml:"label,omitempty"`
	Manufacturer    string     `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Model           string     `json:"model,omitempty" yaml:"model,omitempty"`
	Serial          string     `json:"serial,omitempty" yaml:"serial,omitempty"`
	Flags           uint       `json:"flags" yaml:"flags"`
	HardwareVersion string     `json:"hardware_version,omitempty" yaml:"hardware_version,omitempty"`
	FirmwareVersion string     `json:"firmware_version,omitempty" yaml:"firmware_version,omitempty"`
}

// Manager owns one native module for the duration of a discovery run
type Manager struct {
	mod p11.Module
}

// NewManager returns Manager for the module
func NewManager(mod p11.Module) *Manager {
	return &Manager{
		mod: mod,
	}
}

// Initialize calls C_Initialize
func (m *Manager) Initialize() error {
	return errors.WithStack(m.mod.Initialize().Err("C_Initialize"))
}

// Finalize calls C_Finalize
func (m *Manager) Finalize() error {
	return errors.WithStack(m.mod.Finalize().Err("C_Finalize"))
}

// Run initializes the library, calls fn and finalizes the library.
// C_Finalize is called on every exit path, including a failed C_Initialize.
func (m *Manager) Run(fn func() error) (err error) {
	defer func() {
		ferr := m.Finalize()
		if ferr == nil {
			return
		}
		if err == nil {
			err = ferr
		} else {
			logger.KV(xlog.DEBUG, "reason", "finalize", "err", ferr.Error())
		}
	}()

	if err = m.Initialize(); err != nil {
		return err
	}
	return fn()
}

// ListTokenSlots returns slots with a token present
func (m *Manager) ListTokenSlots() ([]p11.SlotID, error) {
	var count uint
	if err := m.mod.GetSlotList(true, nil, &count).Err("C_GetSlotList"); err != nil {
		return nil, errors.WithStack(err)
	}
	if count == 0 {
		return nil, nil
	}

	slots := make([]p11.SlotID, count)
	if err := m.mod.GetSlotList(true, slots, &count).Err("C_GetSlotList"); err != nil {
		return nil, errors.WithStack(err)
	}
	logger.KV(xlog.DEBUG, "slots", count)
	return slots[:count], nil
}

// TokenInfo returns the token information in the slot
func (m *Manager) TokenInfo(slot p11.SlotID) (*Info, error) {
	var ti p11.TokenInfo
	if err := m.mod.GetTokenInfo(slot, &ti).Err("C_GetTokenInfo"); err != nil {
		return nil, errors.WithMessagef(err, "slot %d", slot)
	}
	return &Info{
		SlotID:          slot,
		Label:           ti.LabelString(),
		Manufacturer:    ti.ManufacturerString(),
		Model:           ti.ModelString(),
		Serial:          ti.SerialString(),
		Flags:           ti.Flags,
		HardwareVersion: ti.HardwareVersion.String(),
		FirmwareVersion: ti.FirmwareVersion.String(),
	}, nil
}

// Tokens returns information for the slots with a token present.
// Slots that fail to report token info are skipped.
func (m *Manager) Tokens() ([]*Info, error) {
	slots, err := m.ListTokenSlots()
	if err != nil {
		return nil, err
	}
	var list []*Info
	for _, slot := range slots {
		ti, err := m.TokenInfo(slot)
		if err != nil {
			logger.KV(xlog.WARNING, "reason", "token_info", "slot", slot, "err", err.Error())
			continue
		}
		list = append(list, ti)
	}
	return list, nil
}

// WithSession opens a serial session on the slot, calls fn and closes the session.
// The session is closed on every exit path, including a panic in fn.
func (m *Manager) WithSession(slot p11.SlotID, fn func(sh p11.SessionHandle) error) error {
	var sh p11.SessionHandle
	if err := m.mod.OpenSession(slot, p11.CKF_SERIAL_SESSION, &sh).Err("C_OpenSession"); err != nil {
		return errors.WithMessagef(err, "slot %d", slot)
	}
	defer func() {
		if err := m.mod.CloseSession(sh).Err("C_CloseSession"); err != nil {
			logger.KV(xlog.WARNING, "reason", "close_session", "slot", slot, "err", err.Error())
		}
	}()

	return fn(sh)
}

// ForEachSlot calls fn in a session for every slot with a token present.
//
// A slot is skipped, and the failure logged, when its token info cannot be read,
// the session cannot be opened, or fn returns an error.
// Only a failure to list the slots, or a cancelled context, is returned.
func (m *Manager) ForEachSlot(ctx context.Context, fn func(ti *Info, sh p11.SessionHandle) error) error {
	slots, err := m.ListTokenSlots()
	if err != nil {
		return err
	}

	for _, slot := range slots {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}

		ti, err := m.TokenInfo(slot)
		if err != nil {
			logger.KV(xlog.WARNING, "reason", "token_info", "slot", slot, "err", err.Error())
			continue
		}

		err = m.WithSession(slot, func(sh p11.SessionHandle) error {
			return fn(ti, sh)
		})
		if err != nil {
			logger.KV(xlog.WARNING, "reason", "skip_slot", "slot", slot, "serial", ti.Serial, "err", err.Error())
		}
	}
	return nil
}

// String returns a short token description
func (i *Info) String() string {
	return fmt.Sprintf("slot %d: %s %s %s (%s)", i.SlotID, i.Manufacturer, i.Model, i.Label, i.Serial)
}
