package token_test

import (
	"crypto/x509/pkix"
	"testing"

	"github.com/effective-security/xcard/p11"
	"github.com/effective-security/xcard/p11/p11test"
	"github.com/effective-security/xcard/testca"
	"github.com/effective-security/xcard/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ckoPrivateKey is CKO_PRIVATE_KEY
const ckoPrivateKey = 3

func inSession(t *testing.T, mod p11.Module, slot p11.SlotID, fn func(m *token.Manager, sh p11.SessionHandle)) {
	m := token.NewManager(mod)
	err := m.Run(func() error {
		return m.WithSession(slot, func(sh p11.SessionHandle) error {
			fn(m, sh)
			return nil
		})
	})
	require.NoError(t, err)
}

func TestCertificates(t *testing.T) {
	ca := testca.NewEntity(testca.Authority)
	jane := ca.Issue(testca.Subject(pkix.Name{CommonName: "Jane Doe"}), testca.KeyUsage(testca.Signing))
	john := ca.Issue(testca.Subject(pkix.Name{CommonName: "John Doe"}))

	noValue := p11test.Certificate(jane.Certificate.Raw)
	noValue.ValueStatus = p11.CKR_ATTRIBUTE_SENSITIVE
	noFetch := p11test.Certificate(jane.Certificate.Raw)
	noFetch.FetchStatus = p11.CKR_GENERAL_ERROR

	mod := p11test.New(p11test.Slot{ID: 1, Token: newCard("0001",
		p11test.Certificate(jane.Certificate.Raw),
		p11test.Object{Class: ckoPrivateKey},
		noValue,
		p11test.Certificate([]byte("not a certificate")),
		noFetch,
		p11test.Certificate(john.Certificate.Raw),
	)})

	inSession(t, mod, 1, func(m *token.Manager, sh p11.SessionHandle) {
		list, err := m.Certificates(sh)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "Jane Doe", list[0].Subject.CommonName)
		assert.Equal(t, "John Doe", list[1].Subject.CommonName)
	})

	assert.Equal(t, 1, mod.Calls("C_FindObjectsInit"))
	assert.Equal(t, 1, mod.Calls("C_FindObjectsFinal"))
	assert.Equal(t, 0, mod.OpenSessions())
}

func TestFindObjects_Batches(t *testing.T) {
	crt := testca.NewEntity().Certificate.Raw

	var objects []p11test.Object
	for range 40 {
		objects = append(objects, p11test.Certificate(crt))
	}
	mod := p11test.New(p11test.Slot{ID: 1, Token: newCard("0001", objects...)})

	inSession(t, mod, 1, func(m *token.Manager, sh p11.SessionHandle) {
		list, err := m.FindObjects(sh, token.CertificateTemplate())
		require.NoError(t, err)
		assert.Len(t, list, 40)
		assert.Equal(t, p11.ObjectHandle(1), list[0])
		assert.Equal(t, p11.ObjectHandle(40), list[39])
	})

	// 32, 8, then the empty batch
	assert.Equal(t, 3, mod.Calls("C_FindObjects"))
	assert.Equal(t, 1, mod.Calls("C_FindObjectsFinal"))
}

func TestFindObjects_FinalOnFailure(t *testing.T) {
	crt := testca.NewEntity().Certificate.Raw

	t.Run("init", func(t *testing.T) {
		mod := p11test.New(p11test.Slot{ID: 1, Token: newCard("0001", p11test.Certificate(crt))})
		mod.FindInitStatus = p11.CKR_GENERAL_ERROR

		inSession(t, mod, 1, func(m *token.Manager, sh p11.SessionHandle) {
			_, err := m.Certificates(sh)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "C_FindObjectsInit")
		})
		assert.Equal(t, 1, mod.Calls("C_FindObjectsInit"))
		assert.Equal(t, 1, mod.Calls("C_FindObjectsFinal"))
	})

	t.Run("find", func(t *testing.T) {
		mod := p11test.New(p11test.Slot{ID: 1, Token: newCard("0001", p11test.Certificate(crt))})
		mod.FindStatus = p11.CKR_GENERAL_ERROR

		inSession(t, mod, 1, func(m *token.Manager, sh p11.SessionHandle) {
			_, err := m.FindObjects(sh, token.CertificateTemplate())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "C_FindObjects")
		})
		assert.Equal(t, 1, mod.Calls("C_FindObjectsInit"))
		assert.Equal(t, 1, mod.Calls("C_FindObjectsFinal"))
	})

	t.Run("final", func(t *testing.T) {
		mod := p11test.New(p11test.Slot{ID: 1, Token: newCard("0001", p11test.Certificate(crt))})
		mod.FindFinalStatus = p11.CKR_GENERAL_ERROR

		inSession(t, mod, 1, func(m *token.Manager, sh p11.SessionHandle) {
			list, err := m.FindObjects(sh, token.CertificateTemplate())
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
		assert.Equal(t, 1, mod.Calls("C_FindObjectsFinal"))
	})
}

func TestFindObjects_Mocked(t *testing.T) {
	t.Run("find_error", func(t *testing.T) {
		mocked := &mockedModule{}
		mocked.On("FindObjectsInit", p11.SessionHandle(7), mock.Anything).Times(1).Return(p11.CKR_OK)
		mocked.On("FindObjects", p11.SessionHandle(7), mock.Anything, mock.Anything).Times(1).Return(p11.CKR_SESSION_HANDLE_INVALID)
		mocked.On("FindObjectsFinal", p11.SessionHandle(7)).Times(1).Return(p11.CKR_OK)

		_, err := token.NewManager(mocked).FindObjects(7, token.CertificateTemplate())
		require.Error(t, err)
		mocked.AssertExpectations(t)
	})

	t.Run("init_error", func(t *testing.T) {
		mocked := &mockedModule{}
		mocked.On("FindObjectsInit", p11.SessionHandle(7), mock.Anything).Times(1).Return(p11.CKR_OPERATION_NOT_INIT)
		mocked.On("FindObjectsFinal", p11.SessionHandle(7)).Times(1).Return(p11.CKR_OPERATION_NOT_INIT)

		_, err := token.NewManager(mocked).FindObjects(7, token.CertificateTemplate())
		require.Error(t, err)
		mocked.AssertExpectations(t)
		mocked.AssertNotCalled(t, "FindObjects", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("batches", func(t *testing.T) {
		mocked := &mockedModule{}
		mocked.On("FindObjectsInit", p11.SessionHandle(7), mock.Anything).Times(1).Return(p11.CKR_OK)
		mocked.On("FindObjects", p11.SessionHandle(7), mock.Anything, mock.Anything).Times(1).
			Run(func(args mock.Arguments) {
				batch := args.Get(1).([]p11.ObjectHandle)
				batch[0], batch[1] = 11, 12
				*args.Get(2).(*uint) = 2
			}).Return(p11.CKR_OK)
		mocked.On("FindObjects", p11.SessionHandle(7), mock.Anything, mock.Anything).Times(1).
			Run(func(args mock.Arguments) {
				*args.Get(2).(*uint) = 0
			}).Return(p11.CKR_OK)
		mocked.On("FindObjectsFinal", p11.SessionHandle(7)).Times(1).Return(p11.CKR_OK)

		list, err := token.NewManager(mocked).FindObjects(7, token.CertificateTemplate())
		require.NoError(t, err)
		assert.Equal(t, []p11.ObjectHandle{11, 12}, list)
		mocked.AssertExpectations(t)
	})
}

func TestGetAttribute(t *testing.T) {
	crt := testca.NewEntity().Certificate

	noValue := p11test.Certificate(crt.Raw)
	noValue.ValueStatus = p11.CKR_ATTRIBUTE_SENSITIVE
	noFetch := p11test.Certificate(crt.Raw)
	noFetch.FetchStatus = p11.CKR_GENERAL_ERROR

	mod := p11test.New(p11test.Slot{ID: 1, Token: newCard("0001",
		p11test.Certificate(crt.Raw),
		noValue,
		noFetch,
	)})

	inSession(t, mod, 1, func(m *token.Manager, sh p11.SessionHandle) {
		der, err := m.GetAttribute(sh, 1, p11.CKA_VALUE)
		require.NoError(t, err)
		assert.Equal(t, crt.Raw, der)

		c, err := m.Certificate(sh, 1)
		require.NoError(t, err)
		assert.True(t, c.Equal(crt))

		var aerr *token.AttributeError

		_, err = m.GetAttribute(sh, 2, p11.CKA_VALUE)
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, "size", aerr.Phase)
		assert.Equal(t, p11.CKR_ATTRIBUTE_SENSITIVE, aerr.Status)
		assert.Equal(t, p11.ObjectHandle(2), aerr.Object)

		_, err = m.GetAttribute(sh, 3, p11.CKA_VALUE)
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, "fetch", aerr.Phase)
		assert.Contains(t, err.Error(), "C_GetAttributeValue: object 3, attribute 0x11, fetch")

		_, err = m.GetAttribute(sh, 1, p11.CKA_LABEL)
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, p11.CKR_ATTRIBUTE_TYPE_INVALID, aerr.Status)

		_, err = m.Certificate(sh, 99)
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, p11.CKR_OBJECT_HANDLE_INVALID, aerr.Status)
	})

	// size and fetch for each successful read
	assert.GreaterOrEqual(t, mod.Calls("C_GetAttributeValue"), 4)
}

func TestCertificateTemplate(t *testing.T) {
	tmpl := token.CertificateTemplate()
	require.Len(t, tmpl, 2)
	assert.Equal(t, p11.AttributeType(p11.CKA_CLASS), tmpl[0].Type)
	assert.Equal(t, p11.AttributeType(p11.CKA_CERTIFICATE_TYPE), tmpl[1].Type)
	assert.Equal(t, p11.NewAttribute(p11.CKA_CLASS, p11.CKO_CERTIFICATE).Value, tmpl[0].Value)
}

//
// Mock
//
type mockedModule struct {
	mock.Mock
}

func (m *mockedModule) Initialize() p11.Status {
	args := m.Called()
	return args.Get(0).(p11.Status)
}

func (m *mockedModule) Finalize() p11.Status {
	args := m.Called()
	return args.Get(0).(p11.Status)
}

func (m *mockedModule) GetSlotList(tokenPresent bool, slots []p11.SlotID, count *uint) p11.Status {
	args := m.Called(tokenPresent, slots, count)
	return args.Get(0).(p11.Status)
}

func (m *mockedModule) GetTokenInfo(slot p11.SlotID, info *p11.TokenInfo) p11.Status {
	args := m.Called(slot, info)
	return args.Get(0).(p11.Status)
}

func (m *mockedModule) OpenSession(slot p11.SlotID, flags uint, sh *p11.SessionHandle) p11.Status {
	args := m.Called(slot, flags, sh)
	return args.Get(0).(p11.Status)
}

func (m *mockedModule) CloseSession(sh p11.SessionHandle) p11.Status {
	args := m.Called(sh)
	return args.Get(0).(p11.Status)
}

func (m *mockedModule) FindObjectsInit(sh p11.SessionHandle, template []p11.Attribute) p11.Status {
	args := m.Called(sh, template)
	return args.Get(0).(p11.Status)
}

func (m *mockedModule) FindObjects(sh p11.SessionHandle, objects []p11.ObjectHandle, count *uint) p11.Status {
	args := m.Called(sh, objects, count)
	return args.Get(0).(p11.Status)
}

func (m *mockedModule) FindObjectsFinal(sh p11.SessionHandle) p11.Status {
	args := m.Called(sh)
	return args.Get(0).(p11.Status)
}

func (m *mockedModule) GetAttributeValue(sh p11.SessionHandle, oh p11.ObjectHandle, template []p11.Attribute) p11.Status {
	args := m.Called(sh, oh, template)
	return args.Get(0).(p11.Status)
}
