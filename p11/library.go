package p11

import (
	"github.com/cockroachdb/errors"
	"github.com/miekg/pkcs11"
)

// nativeContext is the part of *pkcs11.Ctx used by Library
type nativeContext interface {
	Initialize(opts ...pkcs11.InitializeOption) error
	Finalize() error
	GetSlotList(tokenPresent bool) ([]uint, error)
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error
	FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error)
	FindObjectsFinal(sh pkcs11.SessionHandle) error
	GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error)
	Destroy()
}

// Ensure compiles
var _ Module = (*Library)(nil)
var _ nativeContext = (*pkcs11.Ctx)(nil)

// Library is a loaded vendor PKCS#11 module
type Library struct {
	path string
	ctx  nativeContext
}

// Path returns the location the library was loaded from
func (l *Library) Path() string {
	return l.path
}

// Destroy unloads the library.
// The library must be finalized before.
func (l *Library) Destroy() {
	if l.ctx != nil {
		l.ctx.Destroy()
		l.ctx = nil
	}
}

// Initialize is C_Initialize
func (l *Library) Initialize() Status {
	return statusOf(l.ctx.Initialize())
}

// Finalize is C_Finalize
func (l *Library) Finalize() Status {
	return statusOf(l.ctx.Finalize())
}

// GetSlotList is C_GetSlotList
func (l *Library) GetSlotList(tokenPresent bool, slots []SlotID, count *uint) Status {
	list, err := l.ctx.GetSlotList(tokenPresent)
	if err != nil {
		return statusOf(err)
	}
	if slots == nil {
		*count = uint(len(list))
		return CKR_OK
	}
	if len(slots) < len(list) {
		*count = uint(len(list))
		return CKR_BUFFER_TOO_SMALL
	}
	for i, id := range list {
		slots[i] = SlotID(id)
	}
	*count = uint(len(list))
	return CKR_OK
}

// GetTokenInfo is C_GetTokenInfo
func (l *Library) GetTokenInfo(slot SlotID, info *TokenInfo) Status {
	ti, err := l.ctx.GetTokenInfo(uint(slot))
	if err != nil {
		return statusOf(err)
	}

	SetString(info.Label[:], ti.Label)
	SetString(info.ManufacturerID[:], ti.ManufacturerID)
	SetString(info.Model[:], ti.Model)
	SetString(info.SerialNumber[:], ti.SerialNumber)
	SetString(info.UTCTime[:], ti.UTCTime)
	info.Flags = ti.Flags
	info.MaxSessionCount = ti.MaxSessionCount
	info.SessionCount = ti.SessionCount
	info.MaxRwSessionCount = ti.MaxRwSessionCount
	info.RwSessionCount = ti.RwSessionCount
	info.MaxPinLen = ti.MaxPinLen
	info.MinPinLen = ti.MinPinLen
	info.TotalPublicMemory = ti.TotalPublicMemory
	info.FreePublicMemory = ti.FreePublicMemory
	info.TotalPrivateMemory = ti.TotalPrivateMemory
	info.FreePrivateMemory = ti.FreePrivateMemory
	info.HardwareVersion = Version{Major: ti.HardwareVersion.Major, Minor: ti.HardwareVersion.Minor}
	info.FirmwareVersion = Version{Major: ti.FirmwareVersion.Major, Minor: ti.FirmwareVersion.Minor}
	return CKR_OK
}

// OpenSession is C_OpenSession
func (l *Library) OpenSession(slot SlotID, flags uint, session *SessionHandle) Status {
	sh, err := l.ctx.OpenSession(uint(slot), flags)
	if err != nil {
		return statusOf(err)
	}
	*session = SessionHandle(sh)
	return CKR_OK
}

// CloseSession is C_CloseSession
func (l *Library) CloseSession(session SessionHandle) Status {
	return statusOf(l.ctx.CloseSession(pkcs11.SessionHandle(session)))
}

// FindObjectsInit is C_FindObjectsInit
func (l *Library) FindObjectsInit(session SessionHandle, template []Attribute) Status {
	temp := make([]*pkcs11.Attribute, len(template))
	for i, a := range template {
		temp[i] = &pkcs11.Attribute{Type: uint(a.Type), Value: a.Value}
	}
	return statusOf(l.ctx.FindObjectsInit(pkcs11.SessionHandle(session), temp))
}

// FindObjects is C_FindObjects
func (l *Library) FindObjects(session SessionHandle, objects []ObjectHandle, count *uint) Status {
	*count = 0
	if len(objects) == 0 {
		return CKR_OK
	}
	list, _, err := l.ctx.FindObjects(pkcs11.SessionHandle(session), len(objects))
	if err != nil {
		return statusOf(err)
	}
	n := copy(objects, toObjectHandles(list))
	*count = uint(n)
	return CKR_OK
}

// FindObjectsFinal is C_FindObjectsFinal
func (l *Library) FindObjectsFinal(session SessionHandle) Status {
	return statusOf(l.ctx.FindObjectsFinal(pkcs11.SessionHandle(session)))
}

// GetAttributeValue is C_GetAttributeValue.
//
// For entries with nil Value only ValueLen is reported,
// entries with a short buffer report the required ValueLen and
// CKR_BUFFER_TOO_SMALL is returned.
func (l *Library) GetAttributeValue(session SessionHandle, object ObjectHandle, template []Attribute) Status {
	temp := make([]*pkcs11.Attribute, len(template))
	for i, a := range template {
		temp[i] = pkcs11.NewAttribute(uint(a.Type), nil)
	}

	res, err := l.ctx.GetAttributeValue(pkcs11.SessionHandle(session), pkcs11.ObjectHandle(object), temp)
	if err != nil {
		for i := range template {
			template[i].ValueLen = Unavailable
		}
		return statusOf(err)
	}

	rv := CKR_OK
	for i := range template {
		if i >= len(res) {
			template[i].ValueLen = Unavailable
			rv = CKR_ATTRIBUTE_TYPE_INVALID
			continue
		}
		val := res[i].Value
		switch {
		case template[i].Value == nil:
			template[i].ValueLen = uint(len(val))
		case len(template[i].Value) < len(val):
			template[i].ValueLen = uint(len(val))
			rv = CKR_BUFFER_TOO_SMALL
		default:
			template[i].ValueLen = uint(copy(template[i].Value, val))
		}
	}
	return rv
}

func toObjectHandles(list []pkcs11.ObjectHandle) []ObjectHandle {
	res := make([]ObjectHandle, len(list))
	for i, h := range list {
		res[i] = ObjectHandle(h)
	}
	return res
}

func statusOf(err error) Status {
	if err == nil {
		return CKR_OK
	}
	var perr pkcs11.Error
	if errors.As(err, &perr) {
		return Status(perr)
	}
	return CKR_GENERAL_ERROR
}
