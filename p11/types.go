package p11

import (
	"fmt"
	"strings"

	"github.com/miekg/pkcs11"
)

// Status is the PKCS#11 return value, CK_RV
type Status uint

// Return values checked by discovery
const (
	CKR_OK                     Status = pkcs11.CKR_OK
	CKR_GENERAL_ERROR          Status = pkcs11.CKR_GENERAL_ERROR
	CKR_SLOT_ID_INVALID        Status = pkcs11.CKR_SLOT_ID_INVALID
	CKR_ATTRIBUTE_TYPE_INVALID Status = pkcs11.CKR_ATTRIBUTE_TYPE_INVALID
	CKR_ATTRIBUTE_SENSITIVE    Status = pkcs11.CKR_ATTRIBUTE_SENSITIVE
	CKR_BUFFER_TOO_SMALL       Status = pkcs11.CKR_BUFFER_TOO_SMALL
	CKR_TOKEN_NOT_PRESENT      Status = pkcs11.CKR_TOKEN_NOT_PRESENT
	CKR_SESSION_HANDLE_INVALID Status = pkcs11.CKR_SESSION_HANDLE_INVALID
	CKR_OBJECT_HANDLE_INVALID  Status = pkcs11.CKR_OBJECT_HANDLE_INVALID
	CKR_USER_NOT_LOGGED_IN     Status = pkcs11.CKR_USER_NOT_LOGGED_IN
	CKR_OPERATION_NOT_INIT     Status = pkcs11.CKR_OPERATION_NOT_INITIALIZED

	CKR_CRYPTOKI_NOT_INITIALIZED     Status = pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED
	CKR_CRYPTOKI_ALREADY_INITIALIZED Status = pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED
)

// OK returns true for CKR_OK
func (s Status) OK() bool {
	return s == CKR_OK
}

// String returns the CKR name of the status
func (s Status) String() string {
	return pkcs11.Error(s).Error()
}

// Err returns nil for CKR_OK, or NativeCallError for the operation
func (s Status) Err(op string) error {
	if s.OK() {
		return nil
	}
	return &NativeCallError{Op: op, Status: s}
}

// NativeCallError is returned when a PKCS#11 call completes with non-zero status
type NativeCallError struct {
	Op     string
	Status Status
}

func (e *NativeCallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status.String())
}

// SlotID identifies a slot, CK_SLOT_ID
type SlotID uint

// SessionHandle is an opaque session handle, CK_SESSION_HANDLE
type SessionHandle uint

// ObjectHandle is an opaque object handle, valid only in its session
type ObjectHandle uint

// AttributeType is CK_ATTRIBUTE_TYPE
type AttributeType uint

// Attribute and object types used for certificate discovery
const (
	CKA_CLASS            AttributeType = pkcs11.CKA_CLASS
	CKA_LABEL            AttributeType = pkcs11.CKA_LABEL
	CKA_ID               AttributeType = pkcs11.CKA_ID
	CKA_VALUE            AttributeType = pkcs11.CKA_VALUE
	CKA_CERTIFICATE_TYPE AttributeType = pkcs11.CKA_CERTIFICATE_TYPE

	CKO_CERTIFICATE = pkcs11.CKO_CERTIFICATE
	CKC_X_509       = pkcs11.CKC_X_509
)

// Session flags
const (
	CKF_RW_SESSION     uint = pkcs11.CKF_RW_SESSION
	CKF_SERIAL_SESSION uint = pkcs11.CKF_SERIAL_SESSION
)

// Unavailable is the length reported for an attribute that cannot be read
const Unavailable = ^uint(0)

// Attribute is a template entry, CK_ATTRIBUTE.
//
// With nil Value, GetAttributeValue only reports ValueLen.
// Otherwise Value must hold at least ValueLen bytes.
type Attribute struct {
	Type     AttributeType
	Value    []byte
	ValueLen uint
}

// NewAttribute returns an attribute with the value encoded
// the way the native library expects it, e.g. uint as CK_ULONG
func NewAttribute(typ AttributeType, x any) Attribute {
	a := pkcs11.NewAttribute(uint(typ), x)
	return Attribute{
		Type:     typ,
		Value:    a.Value,
		ValueLen: uint(len(a.Value)),
	}
}

// Version is CK_VERSION
type Version struct {
	Major byte
	Minor byte
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// TokenInfo is CK_TOKEN_INFO.
// The string fields are space padded, use the accessors to read them.
type TokenInfo struct {
	Label              [32]byte
	ManufacturerID     [32]byte
	Model              [16]byte
	SerialNumber       [16]byte
	Flags              uint
	MaxSessionCount    uint
	SessionCount       uint
	MaxRwSessionCount  uint
	RwSessionCount     uint
	MaxPinLen          uint
	MinPinLen          uint
	TotalPublicMemory  uint
	FreePublicMemory   uint
	TotalPrivateMemory uint
	FreePrivateMemory  uint
	HardwareVersion    Version
	FirmwareVersion    Version
	UTCTime            [16]byte
}

// LabelString returns the trimmed label
func (t *TokenInfo) LabelString() string {
	return trim(t.Label[:])
}

// ManufacturerString returns the trimmed manufacturer ID
func (t *TokenInfo) ManufacturerString() string {
	return trim(t.ManufacturerID[:])
}

// ModelString returns the trimmed model
func (t *TokenInfo) ModelString() string {
	return trim(t.Model[:])
}

// SerialString returns the trimmed serial number
func (t *TokenInfo) SerialString() string {
	return trim(t.SerialNumber[:])
}

// UTCTimeString returns the trimmed token time
func (t *TokenInfo) UTCTimeString() string {
	return trim(t.UTCTime[:])
}

// SetString copies s into the fixed width field dst, padding with spaces
func SetString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}

func trim(b []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(b), "\x00"))
}
