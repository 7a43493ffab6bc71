package discovery

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/p11"
)

// ErrUnsupportedArchitecture is returned when the PKCS#11 library
// can not be loaded by the running process
var ErrUnsupportedArchitecture = errors.New("unsupported architecture")

// failures of a keystore opened with a PIN that mean the token
// requires a login the caller did not provide
var pinRequiredText = []string{
	"CKR_PIN_REQUIRED",
	"token login required",
	"CKR_USER_NOT_LOGGED_IN",
}

// IsPinRequired returns true if the error means that the token
// requires a login
func IsPinRequired(err error) bool {
	if err == nil {
		return false
	}
	var nerr *p11.NativeCallError
	if errors.As(err, &nerr) && nerr.Status == p11.CKR_USER_NOT_LOGGED_IN {
		return true
	}
	msg := err.Error()
	for _, s := range pinRequiredText {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsFatal returns true if hardware discovery failed in a way
// that must be returned to the caller instead of falling back
// to software credentials
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnsupportedArchitecture) ||
		errors.Is(err, p11.ErrLibraryNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// archError keeps the loader failure and ErrUnsupportedArchitecture
// in the error chain
type archError struct {
	cause error
}

func (e *archError) Error() string {
	return e.cause.Error()
}

func (e *archError) Unwrap() []error {
	return []error{e.cause, ErrUnsupportedArchitecture}
}

// classify reports architecture failures of the loader
// or the native library as ErrUnsupportedArchitecture
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, p11.ErrIncompatibleArchitecture) ||
		strings.Contains(strings.ToLower(err.Error()), "incompatible architecture") {
		return &archError{cause: err}
	}
	return err
}
