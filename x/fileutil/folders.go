// Package fileutil provides file system checks over a replaceable
// virtual file system.
package fileutil

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
)

// Vfs is the file system used by the package,
// tests may replace it with afero.NewMemMapFs()
var Vfs = afero.NewOsFs()

// FileExists ensures that file exists
func FileExists(file string) error {
	if file == "" {
		return errors.Errorf("invalid parameter: file")
	}

	stat, err := Vfs.Stat(file)
	if err != nil {
		return errors.WithStack(err)
	}

	if stat.IsDir() {
		return errors.Errorf("not a file: %q", file)
	}

	return nil
}

// ReadFile returns the content of the file
func ReadFile(file string) ([]byte, error) {
	b, err := afero.ReadFile(Vfs, file)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}
