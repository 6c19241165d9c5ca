package zapp

import (
	"debug/elf"
	"runtime"

	"golang.org/x/xerrors"
)

// Architectures maps each supported GOARCH to the ELF machine of executables
// which can be bundled on a host of that architecture.
var Architectures = map[string]elf.Machine{
	"amd64":   elf.EM_X86_64,
	"386":     elf.EM_386,
	"arm64":   elf.EM_AARCH64,
	"arm":     elf.EM_ARM,
	"riscv64": elf.EM_RISCV,
	"ppc64le": elf.EM_PPC64,
	"s390x":   elf.EM_S390,
}

// HostMachine returns the ELF machine of the running host, or EM_NONE if the
// architecture is not known.
func HostMachine() elf.Machine {
	return Architectures[runtime.GOARCH]
}

// CheckMachine returns ErrWrongArchitecture if f was built for a different
// machine than the host. Bundling for other architectures is not supported:
// the host's ldd(1) cannot resolve their dependencies.
func CheckMachine(f *elf.File) error {
	host := HostMachine()
	if host == elf.EM_NONE {
		return xerrors.Errorf("unknown host architecture %s: %w", runtime.GOARCH, ErrWrongArchitecture)
	}
	if f.Machine != host {
		return xerrors.Errorf("got %v, want %v: %w", f.Machine, host, ErrWrongArchitecture)
	}
	return nil
}
