package cryptoprov

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/xcard/x/fileutil"
	"github.com/effective-security/xlog"
	"gopkg.in/yaml.v3"
)

// DefaultManufacturer is used when the configuration does not name one
const DefaultManufacturer = "PKCS11"

// TokenConfig holds PKCS#11 configuration information.
//
// A token may be identified by serial number, label or slot.  If
// more than one is specified then the first match wins.
type TokenConfig interface {
	// Manufacturer name of the manufacturer
	Manufacturer() string

	// Model name of the device
	Model() string

	// Full path to PKCS#11 library
	Path() string

	// Token serial number
	TokenSerial() string

	// Token label
	TokenLabel() string

	// Slot returns the slot number, or nil
	Slot() *int

	// Pin is a secret to access the token.
	// If it's prefixed with `file:`, then it will be loaded from the file.
	Pin() string

	// PKCS12Files is the list of software credential files
	PKCS12Files() []string
}

// Config implements TokenConfig
type Config struct {
	Man    string   `json:"Manufacturer" yaml:"manufacturer"`
	Mod    string   `json:"Model"        yaml:"model"`
	Dir    string   `json:"Path"         yaml:"path"`
	Serial string   `json:"TokenSerial"  yaml:"token_serial"`
	Label  string   `json:"TokenLabel"   yaml:"token_label"`
	SlotID *int     `json:"Slot"         yaml:"slot"`
	Pwd    string   `json:"Pin"          yaml:"pin"`
	Files  []string `json:"PKCS12Files"  yaml:"pkcs12_files"`
}

// Manufacturer name of the manufacturer
func (c *Config) Manufacturer() string {
	if c.Man == "" {
		return DefaultManufacturer
	}
	return c.Man
}

// Model name of the device
func (c *Config) Model() string {
	return c.Mod
}

// Path to PKCS#11 library
func (c *Config) Path() string {
	return c.Dir
}

// TokenSerial number
func (c *Config) TokenSerial() string {
	return c.Serial
}

// TokenLabel of the token
func (c *Config) TokenLabel() string {
	return c.Label
}

// Slot number, or nil
func (c *Config) Slot() *int {
	return c.SlotID
}

// Pin is a secret to access the token
func (c *Config) Pin() string {
	return c.Pwd
}

// PKCS12Files is the list of software credential files
func (c *Config) PKCS12Files() []string {
	return c.Files
}

// ForSlot returns a copy of the configuration bound to the slot,
// with the PIN replaced
func ForSlot(cfg TokenConfig, slot int, pin string) *Config {
	return &Config{
		Man:    cfg.Manufacturer(),
		Mod:    cfg.Model(),
		Dir:    cfg.Path(),
		SlotID: &slot,
		Pwd:    pin,
		Files:  cfg.PKCS12Files(),
	}
}

// LoadTokenConfig loads PKCS#11 token configuration
func LoadTokenConfig(filename string) (*Config, error) {
	raw, err := fileutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	tokenConfig := new(Config)

	if strings.HasSuffix(filename, ".json") {
		err = json.Unmarshal(raw, tokenConfig)
	} else {
		err = yaml.Unmarshal(raw, tokenConfig)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to decode file: %s", filename)
	}

	pin := tokenConfig.Pwd
	if strings.HasPrefix(pin, "file:") && !strings.HasPrefix(pin, "file://") {
		pinfile := pin[5:]

		// try to resolve pin file
		cwd, _ := os.Getwd()
		folders := []string{
			"",
			cwd,
			filepath.Dir(filename),
		}

		for _, folder := range folders {
			if resolved, err := resolve(pinfile, folder); err == nil {
				pinfile = resolved
				break
			}
			logger.KV(xlog.DEBUG, "reason", "resolve", "pinfile", pinfile, "basedir", folder)
		}

		pb, err := fileutil.ReadFile(pinfile)
		if err != nil {
			return nil, errors.WithMessagef(err, "unable to load PIN for configuration: %s", filename)
		}
		tokenConfig.Pwd = strings.TrimSpace(string(pb))
	} else if pin != "" {
		tokenConfig.Pwd, err = configloader.ResolveValue(pin)
		if err != nil {
			return nil, errors.WithMessagef(err, "unable to load PIN for configuration: %s", filename)
		}
	}

	return tokenConfig, nil
}

// resolve returns absolute file name relative to baseDir,
// or NotFound error.
func resolve(file string, baseDir string) (resolved string, err error) {
	if file == "" {
		return file, nil
	}
	if filepath.IsAbs(file) {
		resolved = file
	} else if baseDir != "" {
		resolved = filepath.Join(baseDir, file)
	} else {
		resolved = file
	}
	if err := fileutil.FileExists(resolved); err != nil {
		return resolved, errors.WithMessagef(err, "not found: %v", resolved)
	}
	return resolved, nil
}

// DefaultLibraryPath returns the default location of the vendor
// PKCS#11 library for the operating system
func DefaultLibraryPath(goos string, getenv func(string) string) string {
	switch goos {
	case "darwin":
		return "/Library/Application Support/Athena/libASEP11.dylib"
	case "linux":
		return "/usr/lib/x64-athena/libASEP11.so"
	case "windows":
		root := getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return root + `\System32\asepkcs.dll`
	default:
		return ""
	}
}
