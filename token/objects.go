package token

import (
	"crypto/x509"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/p11"
	"github.com/effective-security/xlog"
)

const (
	// findBatchSize is the number of handles requested per C_FindObjects
	findBatchSize = 32
	// maxObjects bounds a find operation on misbehaving drivers
	maxObjects = 4096
)

// AttributeError is returned when the two-phase attribute retrieval fails
type AttributeError struct {
	Object p11.ObjectHandle
	Type   p11.AttributeType
	// Phase is "size" or "fetch"
	Phase  string
	Status p11.Status
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("C_GetAttributeValue: object %d, attribute 0x%X, %s: %s",
		e.Object, uint(e.Type), e.Phase, e.Status.String())
}

// CertificateTemplate returns the search template for X.509 certificates
func CertificateTemplate() []p11.Attribute {
	return []p11.Attribute{
		p11.NewAttribute(p11.CKA_CLASS, p11.CKO_CERTIFICATE),
		p11.NewAttribute(p11.CKA_CERTIFICATE_TYPE, p11.CKC_X_509),
	}
}

// FindObjects returns handles of objects matching the template.
// C_FindObjectsFinal is called exactly once for the C_FindObjectsInit call,
// regardless of the outcome of C_FindObjectsInit or C_FindObjects.
func (m *Manager) FindObjects(sh p11.SessionHandle, template []p11.Attribute) (list []p11.ObjectHandle, err error) {
	rv := m.mod.FindObjectsInit(sh, template)
	defer func() {
		if ferr := m.mod.FindObjectsFinal(sh).Err("C_FindObjectsFinal"); ferr != nil && rv.OK() {
			logger.KV(xlog.WARNING, "reason", "find_final", "session", sh, "err", ferr.Error())
		}
	}()
	if err = rv.Err("C_FindObjectsInit"); err != nil {
		return nil, errors.WithStack(err)
	}

	batch := make([]p11.ObjectHandle, findBatchSize)
	for len(list) < maxObjects {
		var count uint
		if err = m.mod.FindObjects(sh, batch, &count).Err("C_FindObjects"); err != nil {
			return nil, errors.WithStack(err)
		}
		if count == 0 {
			break
		}
		list = append(list, batch[:count]...)
	}
	return list, nil
}

// GetAttribute returns the attribute value of the object.
//
// The first call learns the value length, the second call
// reads the value into a buffer of exactly that length.
func (m *Manager) GetAttribute(sh p11.SessionHandle, oh p11.ObjectHandle, typ p11.AttributeType) ([]byte, error) {
	template := []p11.Attribute{{Type: typ}}
	rv := m.mod.GetAttributeValue(sh, oh, template)
	if !rv.OK() {
		return nil, &AttributeError{Object: oh, Type: typ, Phase: "size", Status: rv}
	}
	size := template[0].ValueLen
	if size == p11.Unavailable {
		return nil, &AttributeError{Object: oh, Type: typ, Phase: "size", Status: p11.CKR_ATTRIBUTE_TYPE_INVALID}
	}

	template = []p11.Attribute{{Type: typ, Value: make([]byte, size), ValueLen: size}}
	rv = m.mod.GetAttributeValue(sh, oh, template)
	if !rv.OK() {
		return nil, &AttributeError{Object: oh, Type: typ, Phase: "fetch", Status: rv}
	}
	return template[0].Value[:template[0].ValueLen], nil
}

// Certificate reads and parses the X.509 certificate object
func (m *Manager) Certificate(sh p11.SessionHandle, oh p11.ObjectHandle) (*x509.Certificate, error) {
	der, err := m.GetAttribute(sh, oh, p11.CKA_VALUE)
	if err != nil {
		return nil, err
	}
	crt, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.WithMessagef(err, "object %d", oh)
	}
	return crt, nil
}

// Certificates returns X.509 certificates readable in the session.
// Objects whose value cannot be read or parsed are logged and skipped.
func (m *Manager) Certificates(sh p11.SessionHandle) ([]*x509.Certificate, error) {
	handles, err := m.FindObjects(sh, CertificateTemplate())
	if err != nil {
		return nil, err
	}

	var list []*x509.Certificate
	for _, oh := range handles {
		crt, err := m.Certificate(sh, oh)
		if err != nil {
			logger.KV(xlog.WARNING, "reason", "skip_object", "object", oh, "err", err.Error())
			continue
		}
		list = append(list, crt)
	}
	logger.KV(xlog.DEBUG, "session", sh, "objects", len(handles), "certificates", len(list))
	return list, nil
}
