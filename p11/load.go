package p11

import (
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"io"
	"runtime"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcard/x/fileutil"
	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcard", "p11")

var (
	// ErrLibraryNotFound is returned when the PKCS#11 library does not exist
	ErrLibraryNotFound = errors.New("pkcs11 library not found")
	// ErrIncompatibleArchitecture is returned when the PKCS#11 library
	// is built for a different CPU architecture than the running process
	ErrIncompatibleArchitecture = errors.New("incompatible architecture")
)

// Load loads the vendor library from path
func Load(path string) (*Library, error) {
	if err := Probe(path); err != nil {
		return nil, err
	}

	ctx := pkcs11.New(path)
	if ctx == nil {
		return nil, errors.Errorf("unable to load PKCS#11 library: %s", path)
	}

	logger.KV(xlog.DEBUG, "status", "loaded", "path", path)
	return &Library{
		path: path,
		ctx:  ctx,
	}, nil
}

// Probe checks that the library exists and that its binary format
// matches the architecture of the running process.
// Unknown binary formats are left to the loader.
func Probe(path string) error {
	if path == "" {
		return errors.WithStack(ErrLibraryNotFound)
	}
	if err := fileutil.FileExists(path); err != nil {
		return errors.Wrapf(ErrLibraryNotFound, "%s", path)
	}

	f, err := fileutil.Vfs.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	archs := binaryArch(f)
	if len(archs) == 0 {
		logger.KV(xlog.DEBUG, "reason", "unknown_format", "path", path)
		return nil
	}
	if !slices.Contains(archs, runtime.GOARCH) {
		return errors.Wrapf(ErrIncompatibleArchitecture,
			"%s is built for %s, process is %s",
			path, strings.Join(archs, ","), runtime.GOARCH)
	}
	return nil
}

var elfArch = map[elf.Machine]string{
	elf.EM_386:     "386",
	elf.EM_X86_64:  "amd64",
	elf.EM_ARM:     "arm",
	elf.EM_AARCH64: "arm64",
	elf.EM_PPC64:   "ppc64le",
	elf.EM_S390:    "s390x",
	elf.EM_RISCV:   "riscv64",
}

var machoArch = map[macho.Cpu]string{
	macho.Cpu386:   "386",
	macho.CpuAmd64: "amd64",
	macho.CpuArm:   "arm",
	macho.CpuArm64: "arm64",
	macho.CpuPpc64: "ppc64",
}

var peArch = map[uint16]string{
	pe.IMAGE_FILE_MACHINE_I386:  "386",
	pe.IMAGE_FILE_MACHINE_AMD64: "amd64",
	pe.IMAGE_FILE_MACHINE_ARMNT: "arm",
	pe.IMAGE_FILE_MACHINE_ARM64: "arm64",
}

// binaryArch returns GOARCH names the binary is built for
func binaryArch(r io.ReaderAt) []string {
	if f, err := elf.NewFile(r); err == nil {
		return known(elfArch[f.Machine])
	}
	if f, err := macho.NewFile(r); err == nil {
		return known(machoArch[f.Cpu])
	}
	if f, err := macho.NewFatFile(r); err == nil {
		var list []string
		for _, a := range f.Arches {
			list = append(list, known(machoArch[a.Cpu])...)
		}
		return list
	}
	if f, err := pe.NewFile(r); err == nil {
		return known(peArch[f.Machine])
	}
	return nil
}

func known(arch string) []string {
	if arch == "" {
		return nil
	}
	return []string{arch}
}
