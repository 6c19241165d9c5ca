// Package bundle creates the on-disk layout of a relocatable bundle:
//
//	<dir>/bin/<name>     locator program (see package locator)
//	<dir>/dynbin/<name>  copy of the executable, search path patched
//	<dir>/lib/           program interpreter and shared library closure
package bundle

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/distr1/zapp"
	"github.com/distr1/zapp/internal/ldd"
	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// Layout locates the directories of a bundle rooted at Dir.
type Layout struct {
	Dir string
}

func (l Layout) Bin() string    { return filepath.Join(l.Dir, "bin") }
func (l Layout) Dynbin() string { return filepath.Join(l.Dir, "dynbin") }
func (l Layout) Lib() string    { return filepath.Join(l.Dir, "lib") }

// Entry returns the path of the locator program for the executable name.
func (l Layout) Entry(name string) string { return filepath.Join(l.Bin(), name) }

// Executable returns the path of the bundled copy of the executable name.
func (l Layout) Executable(name string) string { return filepath.Join(l.Dynbin(), name) }

// Create creates the bundle directories. Existing directories are fine.
func (l Layout) Create() error {
	for _, dir := range []string{l.Bin(), l.Dynbin(), l.Lib()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return xerrors.Errorf("%v: %w", err, zapp.ErrIO)
		}
	}
	return nil
}

// copyFile copies src to dest, preserving the permission bits of src. dest is
// replaced atomically.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := renameio.TempFile("", dest)
	if err != nil {
		return err
	}
	defer out.Cleanup()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Chmod(st.Mode().Perm()); err != nil {
		return err
	}
	return out.CloseAtomicallyReplace()
}

func (l Layout) copy(src, dest string) error {
	if err := copyFile(src, dest); err != nil {
		return xerrors.Errorf("copy %s to %s: %v: %w", src, dest, err, zapp.ErrIO)
	}
	return nil
}

// Materialize creates the bundle directories and copies the interpreter, the
// closure and the executable exe into them. The executable is copied verbatim;
// patching its search path is left to the caller.
//
// Libraries are stored flat in lib/ by name. If two different libraries share
// a name, the one appearing later in c.Libs wins.
func Materialize(l Layout, exe string, c *ldd.Closure) error {
	if err := l.Create(); err != nil {
		return err
	}

	owner := make(map[string]string) // name → source path
	install := func(name, src string) error {
		if prev, ok := owner[name]; ok && prev != src {
			log.Printf("warning: lib/%s: %s overwrites %s", name, src, prev)
		}
		owner[name] = src
		return l.copy(src, filepath.Join(l.Lib(), name))
	}

	if err := install(filepath.Base(c.Interpreter), c.Interpreter); err != nil {
		return err
	}
	for _, lib := range c.Libs {
		if err := install(lib.Name, lib.Path); err != nil {
			return err
		}
	}
	log.Printf("copied interpreter and %d libraries to %s", len(c.Libs), l.Lib())

	return l.copy(exe, l.Executable(filepath.Base(exe)))
}
