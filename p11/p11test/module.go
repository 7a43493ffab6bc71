// Package p11test provides an in-memory PKCS#11 module for tests.
//
// The module counts every call so tests can assert that sessions and
// find operations are released, and lets a test inject failure statuses
// per call or per object.
package p11test

import (
	"bytes"
	"sync"

	"github.com/effective-security/xcard/p11"
)

// Object is a token object
type Object struct {
	Class    uint
	CertType uint
	Value    []byte
	// ValueStatus fails the CKA_VALUE retrieval when set
	ValueStatus p11.Status
	// FetchStatus fails only the second, fetch phase when set
	FetchStatus p11.Status
}

// Certificate returns X.509 certificate object for DER bytes
func Certificate(der []byte) Object {
	return Object{
		Class:    p11.CKO_CERTIFICATE,
		CertType: p11.CKC_X_509,
		Value:    der,
	}
}

// Token is inserted in a slot
type Token struct {
	Label        string
	Manufacturer string
	Model        string
	Serial       string
	Objects      []Object
	// InfoStatus fails C_GetTokenInfo when set
	InfoStatus p11.Status
	// OpenStatus fails C_OpenSession when set
	OpenStatus p11.Status
}

// Slot is a reader, Token is nil when no card is inserted
type Slot struct {
	ID    p11.SlotID
	Token *Token
}

type session struct {
	slot    p11.SlotID
	token   *Token
	found   []p11.ObjectHandle
	finding bool
}

// Module implements p11.Module
type Module struct {
	Slots []Slot

	InitStatus      p11.Status
	FinalizeStatus  p11.Status
	SlotListStatus  p11.Status
	FindInitStatus  p11.Status
	FindStatus      p11.Status
	FindFinalStatus p11.Status
	CloseStatus     p11.Status

	lock        sync.Mutex
	calls       map[string]int
	sessions    map[p11.SessionHandle]*session
	nextSession p11.SessionHandle
	initialized bool
}

// Ensure compiles
var _ p11.Module = (*Module)(nil)

// New returns module with the slots
func New(slots ...Slot) *Module {
	return &Module{
		Slots: slots,
	}
}

// Calls returns the number of calls for the function name, e.g. "C_CloseSession"
func (m *Module) Calls(name string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.calls[name]
}

// OpenSessions returns the number of sessions that were not closed
func (m *Module) OpenSessions() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.sessions)
}

// Initialized returns true between C_Initialize and C_Finalize
func (m *Module) Initialized() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.initialized
}

func (m *Module) called(name string) {
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[name]++
}

// Initialize is C_Initialize
func (m *Module) Initialize() p11.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.called("C_Initialize")
	if !m.InitStatus.OK() {
		return m.InitStatus
	}
	if m.initialized {
		return p11.CKR_CRYPTOKI_ALREADY_INITIALIZED
	}
	m.initialized = true
	m.sessions = map[p11.SessionHandle]*session{}
	return p11.CKR_OK
}

// Finalize is C_Finalize
func (m *Module) Finalize() p11.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.called("C_Finalize")
	if !m.initialized {
		return p11.CKR_CRYPTOKI_NOT_INITIALIZED
	}
	if !m.FinalizeStatus.OK() {
		return m.FinalizeStatus
	}
	m.initialized = false
	return p11.CKR_OK
}

// GetSlotList is C_GetSlotList
func (m *Module) GetSlotList(tokenPresent bool, slots []p11.SlotID, count *uint) p11.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.called("C_GetSlotList")
	if !m.initialized {
		return p11.CKR_CRYPTOKI_NOT_INITIALIZED
	}
	if !m.SlotListStatus.OK() {
		return m.SlotListStatus
	}

	var list []p11.SlotID
	for _, s := range m.Slots {
		if !tokenPresent || s.Token != nil {
			list = append(list, s.ID)
		}
	}
	if slots == nil {
		*count = uint(len(list))
		return p11.CKR_OK
	}
	if len(slots) < len(list) {
		*count = uint(len(list))
		return p11.CKR_BUFFER_TOO_SMALL
	}
	*count = uint(copy(slots, list))
	return p11.CKR_OK
}

func (m *Module) token(slot p11.SlotID) (*Token, p11.Status) {
	for _, s := range m.Slots {
		if s.ID == slot {
			if s.Token == nil {
				return nil, p11.CKR_TOKEN_NOT_PRESENT
			}
			return s.Token, p11.CKR_OK
		}
	}
	return nil, p11.CKR_SLOT_ID_INVALID
}

// GetTokenInfo is C_GetTokenInfo
func (m *Module) GetTokenInfo(slot p11.SlotID, info *p11.TokenInfo) p11.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.called("C_GetTokenInfo")

	t, rv := m.token(slot)
	if !rv.OK() {
		return rv
	}
	if !t.InfoStatus.OK() {
		return t.InfoStatus
	}
	p11.SetString(info.Label[:], t.Label)
	p11.SetString(info.ManufacturerID[:], t.Manufacturer)
	p11.SetString(info.Model[:], t.Model)
	p11.SetString(info.SerialNumber[:], t.Serial)
	info.HardwareVersion = p11.Version{Major: 1}
	info.FirmwareVersion = p11.Version{Major: 1}
	return p11.CKR_OK
}

// OpenSession is C_OpenSession
func (m *Module) OpenSession(slot p11.SlotID, flags uint, sh *p11.SessionHandle) p11.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.called("C_OpenSession")
	if !m.initialized {
		return p11.CKR_CRYPTOKI_NOT_INITIALIZED
	}

	t, rv := m.token(slot)
	if !rv.OK() {
		return rv
	}
	if !t.OpenStatus.OK() {
		return t.OpenStatus
	}
	m.nextSession++
	m.sessions[m.nextSession] = &session{slot: slot, token: t}
	*sh = m.nextSession
	return p11.CKR_OK
}

// CloseSession is C_CloseSession
func (m *Module) CloseSession(sh p11.SessionHandle) p11.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.called("C_CloseSession")
	if _, ok := m.sessions[sh]; !ok {
		return p11.CKR_SESSION_HANDLE_INVALID
	}
	delete(m.sessions, sh)
	return m.CloseStatus
}

// FindObjectsInit is C_FindObjectsInit
func (m *Module) FindObjectsInit(sh p11.SessionHandle, template []p11.Attribute) p11.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.called("C_FindObjectsInit")

	s, ok := m.sessions[sh]
	if !ok {
		return p11.CKR_SESSION_HANDLE_INVALID
	}
	if !m.FindInitStatus.OK() {
		return m.FindInitStatus
	}

	s.found = nil
	for idx, o := range s.token.Objects {
		if matches(o, template) {
			s.found = append(s.found, p11.ObjectHandle(idx+1))
		}
	}
	s.finding = true
	return p11.CKR_OK
}

// FindObjects is C_FindObjects
func (m *Module) FindObjects(sh p11.SessionHandle, objects []p11.ObjectHandle, count *uint) p11.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.called("C_FindObjects")

	s, ok := m.sessions[sh]
	if !ok {
		return p11.CKR_SESSION_HANDLE_INVALID
	}
	if !s.finding {
		return p11.CKR_OPERATION_NOT_INIT
	}
	if !m.FindStatus.OK() {
		return m.FindStatus
	}
	n := copy(objects, s.found)
	s.found = s.found[n:]
	*count = uint(n)
	return p11.CKR_OK
}

// FindObjectsFinal is C_FindObjectsFinal
func (m *Module) FindObjectsFinal(sh p11.SessionHandle) p11.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.called("C_FindObjectsFinal")

	s, ok := m.sessions[sh]
	if !ok {
		return p11.CKR_SESSION_HANDLE_INVALID
	}
	if !s.finding {
		return p11.CKR_OPERATION_NOT_INIT
	}
	s.finding = false
	s.found = nil
	return m.FindFinalStatus
}

// GetAttributeValue is C_GetAttributeValue
func (m *Module) GetAttributeValue(sh p11.SessionHandle, oh p11.ObjectHandle, template []p11.Attribute) p11.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.called("C_GetAttributeValue")

	s, ok := m.sessions[sh]
	if !ok {
		return p11.CKR_SESSION_HANDLE_INVALID
	}
	idx := int(oh) - 1
	if idx < 0 || idx >= len(s.token.Objects) {
		return p11.CKR_OBJECT_HANDLE_INVALID
	}
	o := s.token.Objects[idx]

	rv := p11.CKR_OK
	for i := range template {
		var val []byte
		switch template[i].Type {
		case p11.CKA_CLASS:
			val = p11.NewAttribute(p11.CKA_CLASS, o.Class).Value
		case p11.CKA_CERTIFICATE_TYPE:
			val = p11.NewAttribute(p11.CKA_CERTIFICATE_TYPE, o.CertType).Value
		case p11.CKA_VALUE:
			if !o.ValueStatus.OK() {
				template[i].ValueLen = p11.Unavailable
				rv = o.ValueStatus
				continue
			}
			if template[i].Value != nil && !o.FetchStatus.OK() {
				rv = o.FetchStatus
				continue
			}
			val = o.Value
		default:
			template[i].ValueLen = p11.Unavailable
			rv = p11.CKR_ATTRIBUTE_TYPE_INVALID
			continue
		}

		switch {
		case template[i].Value == nil:
			template[i].ValueLen = uint(len(val))
		case len(template[i].Value) < len(val):
			template[i].ValueLen = uint(len(val))
			rv = p11.CKR_BUFFER_TOO_SMALL
		default:
			template[i].ValueLen = uint(copy(template[i].Value, val))
		}
	}
	return rv
}

func matches(o Object, template []p11.Attribute) bool {
	for _, a := range template {
		var val []byte
		switch a.Type {
		case p11.CKA_CLASS:
			val = p11.NewAttribute(p11.CKA_CLASS, o.Class).Value
		case p11.CKA_CERTIFICATE_TYPE:
			val = p11.NewAttribute(p11.CKA_CERTIFICATE_TYPE, o.CertType).Value
		default:
			return false
		}
		if !bytes.Equal(val, a.Value) {
			return false
		}
	}
	return true
}
