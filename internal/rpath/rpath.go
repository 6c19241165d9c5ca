// Package rpath rewrites the library search path (DT_RPATH/DT_RUNPATH) of an
// ELF executable so that the dynamic linker looks for libraries relative to
// the executable's own location.
package rpath

import (
	"bytes"
	"context"
	"debug/elf"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/distr1/zapp"
	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

const (
	// Marker is expanded by the dynamic linker to the directory containing
	// the executable, at every execution.
	Marker = "$ORIGIN"

	// Placeholder stands in for Marker when the search path cannot be set to
	// Marker directly. It must have the same length as Marker.
	Placeholder = "XORIGIN"

	// SearchPath is the search path of an executable in dynbin/.
	SearchPath = Marker + "/../lib"
)

// placeholderSearchPath is SearchPath with Marker replaced by Placeholder.
var placeholderSearchPath = strings.Replace(SearchPath, Marker, Placeholder, 1)

func init() {
	if len(Placeholder) != len(Marker) {
		panic("BUG: len(Placeholder) != len(Marker)")
	}
}

// ReplaceFirst replaces the first occurrence of old in b with new, in place.
// Both must have the same length: ELF string tables are addressed by offset,
// so growing or shrinking any string corrupts the file. Calling ReplaceFirst
// with differently sized arguments is a programming error and panics.
func ReplaceFirst(b, old, new []byte) error {
	if len(old) != len(new) {
		panic("BUG: ReplaceFirst: len(old) != len(new)")
	}
	idx := bytes.Index(b, old)
	if idx == -1 {
		return xerrors.Errorf("%q not found", old)
	}
	copy(b[idx:], new)
	return nil
}

// Read returns the library search path of the ELF file fn: DT_RUNPATH if
// present, DT_RPATH otherwise, "" if neither is set.
func Read(fn string) (string, error) {
	f, err := elf.Open(fn)
	if err != nil {
		return "", err
	}
	defer f.Close()
	for _, tag := range []elf.DynTag{elf.DT_RUNPATH, elf.DT_RPATH} {
		vals, err := f.DynString(tag)
		if err != nil {
			return "", err
		}
		if len(vals) > 0 {
			return vals[0], nil
		}
	}
	return "", nil
}

// Setter sets the library search path of an ELF file.
type Setter interface {
	SetSearchPath(ctx context.Context, fn, value string) error
}

// Patcher sets SearchPath on executables using Setter. If that fails, it
// falls back to setting a placeholder of the same length and substituting
// Marker for it in the file contents.
type Patcher struct {
	Setter Setter
}

func verify(fn, want string) error {
	got, err := Read(fn)
	if err != nil {
		return err
	}
	if got != want {
		return xerrors.Errorf("search path of %s is %q, want %q", fn, got, want)
	}
	return nil
}

// Patch sets the search path of fn to SearchPath. On failure, fn is left in
// whatever state the failing step left it in.
func (p *Patcher) Patch(ctx context.Context, fn string) error {
	err := p.Setter.SetSearchPath(ctx, fn, SearchPath)
	if err == nil {
		err = verify(fn, SearchPath)
	}
	if err == nil {
		return nil
	}
	log.Printf("setting search path of %s failed (%v), falling back to placeholder substitution", fn, err)
	if ferr := p.fallback(ctx, fn); ferr != nil {
		return xerrors.Errorf("%s: %v; fallback: %v: %w", fn, err, ferr, zapp.ErrPatchFailed)
	}
	return nil
}

func (p *Patcher) fallback(ctx context.Context, fn string) error {
	if err := p.Setter.SetSearchPath(ctx, fn, placeholderSearchPath); err != nil {
		return err
	}
	st, err := os.Stat(fn)
	if err != nil {
		return err
	}
	b, err := ioutil.ReadFile(fn)
	if err != nil {
		return err
	}
	if err := ReplaceFirst(b, []byte(placeholderSearchPath), []byte(SearchPath)); err != nil {
		return xerrors.Errorf("%s: %v", fn, err)
	}
	if err := renameio.WriteFile(fn, b, st.Mode().Perm()); err != nil {
		return err
	}
	return verify(fn, SearchPath)
}
