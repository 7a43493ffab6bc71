// Package credential defines the signing credentials returned by discovery.
package credential

import (
	"fmt"
	"path/filepath"

	"github.com/effective-security/xcard/certinfo"
)

// Kind of the credential
type Kind string

// Kinds
const (
	// HardwareTokenPrivate is found on a token after login
	HardwareTokenPrivate Kind = "hardware_private"
	// HardwareTokenPublic is found on a token without login
	HardwareTokenPublic Kind = "hardware_public"
	// SoftwareFile is a configured PKCS#12 file
	SoftwareFile Kind = "software_file"
)

// IsHardware returns true for token credentials
func (k Kind) IsHardware() bool {
	return k == HardwareTokenPrivate || k == HardwareTokenPublic
}

// NoSlot is the SlotID of credentials not bound to a slot
const NoSlot = -1

// Placeholders of software credentials, whose holder is unknown until
// the file is opened with its password
const (
	PlaceholderFirstName    = "NOMBRE"
	PlaceholderLastName     = "DE LA PERSONA"
	PlaceholderCommonName   = "NOMBRE DE LA PERSONA (TIPO DE CERTIFICADO)"
	PlaceholderOrganization = "TIPO DE PERSONA"
)

// Credential is a signing credential
type Credential struct {
	Identification string `json:"identification" yaml:"identification"`
	FirstName      string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	CommonName     string `json:"common_name,omitempty" yaml:"common_name,omitempty"`
	Organization   string `json:"organization,omitempty" yaml:"organization,omitempty"`
	Expires        string `json:"expires,omitempty" yaml:"expires,omitempty"`
	SerialHex      string `json:"serial,omitempty" yaml:"serial,omitempty"`
	// TokenSerial is the token serial number for hardware credentials,
	// or the file path for software credentials
	TokenSerial string `json:"token_serial,omitempty" yaml:"token_serial,omitempty"`
	SlotID      int    `json:"slot_id" yaml:"slot_id"`
	Kind        Kind   `json:"kind" yaml:"kind"`
}

// FromIdentity returns hardware credential for the certificate identity
func FromIdentity(id *certinfo.Identity, kind Kind, tokenSerial string, slot int) *Credential {
	return &Credential{
		Identification: id.Identification,
		FirstName:      id.FirstName,
		LastName:       id.LastName,
		CommonName:     id.CommonName,
		Organization:   id.Organization,
		Expires:        id.Expires,
		SerialHex:      id.SerialHex,
		TokenSerial:    tokenSerial,
		SlotID:         slot,
		Kind:           kind,
	}
}

// NewSoftware returns credential for PKCS#12 file,
// identified by the file name
func NewSoftware(path string) *Credential {
	return &Credential{
		Identification: filepath.Base(path),
		FirstName:      PlaceholderFirstName,
		LastName:       PlaceholderLastName,
		CommonName:     PlaceholderCommonName,
		Organization:   PlaceholderOrganization,
		TokenSerial:    path,
		SlotID:         NoSlot,
		Kind:           SoftwareFile,
	}
}

// Path returns the file path of a software credential
func (c *Credential) Path() string {
	if c.Kind == SoftwareFile {
		return c.TokenSerial
	}
	return ""
}

// DisplayInfo returns the text shown to the user when choosing a credential
func (c *Credential) DisplayInfo() string {
	if !c.Kind.IsHardware() {
		return c.Identification
	}
	return fmt.Sprintf("%s %s (%s) (Expira: %s)", c.FirstName, c.LastName, c.Identification, c.Expires)
}

// IsValid returns true if the credential can be opened by a signer
func (c *Credential) IsValid() bool {
	if c == nil || c.Identification == "" {
		return false
	}
	if c.Kind.IsHardware() {
		return c.TokenSerial != "" || c.SlotID >= 0
	}
	return c.Kind == SoftwareFile && c.TokenSerial != ""
}

func (c *Credential) String() string {
	return c.DisplayInfo()
}

// WipePIN zeroes the PIN buffer
func WipePIN(pin []byte) {
	clear(pin)
}
