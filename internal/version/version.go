// Package version provides the build version, set by the linker:
//
//	go build -ldflags "-X github.com/effective-security/xcard/internal/version.version=v0.1.3 -X github.com/effective-security/xcard/internal/version.commit=abcdef0"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	version = ""
	commit  = ""
)

// Info describes the build
type Info struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit,omitempty" yaml:"commit,omitempty"`
	Runtime string `json:"runtime" yaml:"runtime"`
}

// Current returns the build info
func Current() Info {
	v := Info{
		Version: version,
		Commit:  commit,
		Runtime: runtime.Version(),
	}
	if v.Version == "" {
		v.Version = "v0.0.0-dev"
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			v.Version = bi.Main.Version
		}
	}
	return v
}

func (v Info) String() string {
	if v.Commit == "" {
		return fmt.Sprintf("%s (%s)", v.Version, v.Runtime)
	}
	return fmt.Sprintf("%s+%s (%s)", v.Version, v.Commit, v.Runtime)
}
