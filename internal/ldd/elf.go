package ldd

import (
	"bytes"
	"debug/elf"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/distr1/zapp"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Interpreter returns the PT_INTERP path of f, or "" if f has no program
// interpreter (i.e. it is statically linked).
func Interpreter(f *elf.File) (string, error) {
	for _, p := range f.Progs {
		if p.Type != elf.PT_INTERP {
			continue
		}
		b, err := ioutil.ReadAll(p.Open())
		if err != nil {
			return "", err
		}
		// The string is NUL-terminated within the segment.
		if idx := bytes.IndexByte(b, 0); idx > -1 {
			b = b[:idx]
		}
		return string(b), nil
	}
	return "", nil
}

// IsDynamic reports whether the ELF file fn declares a program interpreter.
func IsDynamic(fn string) (bool, error) {
	f, err := elf.Open(fn)
	if err != nil {
		return false, err
	}
	defer f.Close()
	interp, err := Interpreter(f)
	if err != nil {
		return false, err
	}
	return interp != "", nil
}

// Executable describes a SourceExecutable which passed all checks.
type Executable struct {
	Path        string   // as given by the caller
	Interpreter string   // PT_INTERP, as declared in the file
	Needed      []string // DT_NEEDED entries
}

// Inspect verifies that fn is an executable, dynamically linked ELF file for
// the host architecture and that its interpreter exists on the host.
func Inspect(fn string) (*Executable, error) {
	st, err := os.Stat(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Errorf("%s: %w", fn, zapp.ErrInputNotFound)
		}
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, xerrors.Errorf("%s: not a regular file: %w", fn, zapp.ErrInputNotFound)
	}
	if err := unix.Access(fn, unix.R_OK|unix.X_OK); err != nil {
		return nil, xerrors.Errorf("%s: not an executable file (%v): %w", fn, err, zapp.ErrInputNotFound)
	}

	f, err := elf.Open(fn)
	if err != nil {
		return nil, xerrors.Errorf("%s: %v: %w", fn, err, zapp.ErrNotDynamicallyLinked)
	}
	defer f.Close()
	if err := zapp.CheckMachine(f); err != nil {
		return nil, xerrors.Errorf("%s: %w", fn, err)
	}

	needed, err := f.ImportedLibraries()
	if err != nil {
		return nil, xerrors.Errorf("%s: reading DT_NEEDED: %v: %w", fn, err, zapp.ErrNotDynamicallyLinked)
	}
	if len(needed) == 0 {
		return nil, xerrors.Errorf("%s: no runtime dependencies declared: %w", fn, zapp.ErrNotDynamicallyLinked)
	}

	interp, err := Interpreter(f)
	if err != nil {
		return nil, xerrors.Errorf("%s: reading PT_INTERP: %v: %w", fn, err, zapp.ErrInterpreterNotFound)
	}
	if interp == "" {
		return nil, xerrors.Errorf("%s: no PT_INTERP program header: %w", fn, zapp.ErrInterpreterNotFound)
	}
	if err := regularFile(interp); err != nil {
		return nil, xerrors.Errorf("%s: interpreter %s: %v: %w", fn, interp, err, zapp.ErrInterpreterNotFound)
	}

	return &Executable{
		Path:        fn,
		Interpreter: interp,
		Needed:      needed,
	}, nil
}

// regularFile returns an error unless path resolves (following symlinks) to
// an existing regular file.
func regularFile(path string) error {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return err
	}
	st, err := os.Stat(real)
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return xerrors.Errorf("%s is not a regular file", real)
	}
	return nil
}
