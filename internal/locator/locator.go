// Package locator generates the entry point of a bundle: a small, statically
// linked C program which finds its own location and starts the bundled
// executable through the bundled program interpreter.
package locator

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"strings"
	"text/template"

	"github.com/distr1/zapp"
	"github.com/distr1/zapp/internal/bundle"
	"github.com/distr1/zapp/internal/ldd"
	"golang.org/x/xerrors"
)

// cstring quotes s as a C string literal. Bytes outside of printable ASCII are
// emitted as octal escapes, which (unlike hex escapes) have a fixed length.
func cstring(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '?':
			b.WriteString(`\?`) // avoid trigraphs
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(&b, `\%03o`, c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Exit codes 126 and 127 follow the shell convention for “found but could not
// be executed” and “could not be found”.
var locatorTmpl = template.Must(template.New("").Funcs(template.FuncMap{
	"cstring": cstring,
}).Parse(`
#define _GNU_SOURCE
#include <err.h>
#include <libgen.h>
#include <limits.h>
#include <stdio.h>
#include <stdlib.h>
#include <unistd.h>

static const char name[] = {{ cstring .Name }};
static const char loader[] = {{ cstring .Loader }};

int main(int argc, char *argv[]) {
  char self[PATH_MAX];
  ssize_t n = readlink("/proc/self/exe", self, sizeof(self) - 1);
  if (n == -1) {
    err(126, "cannot determine own location: readlink(/proc/self/exe)");
  }
  self[n] = '\0';
  char *dir = dirname(self);

  char *interp;
  if (asprintf(&interp, "%s/../lib/%s", dir, loader) == -1) {
    err(126, "asprintf");
  }
  char *bin;
  if (asprintf(&bin, "%s/../dynbin/%s", dir, name) == -1) {
    err(126, "asprintf");
  }

  // interp bin argv[1] … argv[argc-1] NULL
  int nargs = argc > 0 ? argc - 1 : 0;
  char **args = calloc(nargs + 3, sizeof(char *));
  if (args == NULL) {
    err(126, "calloc");
  }
  args[0] = interp;
  args[1] = bin;
  for (int i = 0; i < nargs; i++) {
    args[i + 2] = argv[i + 1];
  }
  args[nargs + 2] = NULL;

  execv(interp, args);
  err(127, "execv(%s)", interp);
}
`))

// Source returns the C source of the locator program for the executable name
// whose program interpreter is stored as lib/<loader>.
func Source(name, loader string) ([]byte, error) {
	if name == "" || strings.ContainsRune(name, '/') {
		return nil, xerrors.Errorf("invalid executable name %q", name)
	}
	if loader == "" || strings.ContainsRune(loader, '/') {
		return nil, xerrors.Errorf("invalid loader name %q", loader)
	}
	var buf bytes.Buffer
	if err := locatorTmpl.Execute(&buf, struct {
		Name   string
		Loader string
	}{
		Name:   name,
		Loader: loader,
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compiler compiles a C source file into a statically linked executable.
type Compiler interface {
	Compile(ctx context.Context, src, dest string) error
}

// CC is a Compiler which runs a C compiler driver.
type CC struct {
	// Path is the compiler to run. If empty, the first of musl-gcc, cc and gcc
	// found in $PATH is used.
	Path string
}

var defaultCompilers = []string{"musl-gcc", "cc", "gcc"}

func (c *CC) path() (string, error) {
	if c.Path != "" {
		return c.Path, nil
	}
	for _, name := range defaultCompilers {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", xerrors.Errorf("none of %v found in $PATH", defaultCompilers)
}

func (c *CC) Compile(ctx context.Context, src, dest string) error {
	path, err := c.path()
	if err != nil {
		return err
	}
	cc := exec.CommandContext(ctx, path,
		"-O2",   // optimize
		"-s",    // strip
		"-Wall", // enable all warnings
		"-static",
		"-o", dest,
		src)
	cc.Stdout = os.Stdout
	cc.Stderr = os.Stderr
	log.Printf("compiling locator program: %v", cc.Args)
	if err := cc.Run(); err != nil {
		return xerrors.Errorf("%v: %v", cc.Args, err)
	}
	return nil
}

// Generate writes the locator program for the executable name to
// bin/<name> of the bundle and returns its path. loader is the base name of
// the program interpreter in lib/.
func Generate(ctx context.Context, cc Compiler, l bundle.Layout, name, loader string) (string, error) {
	src, err := Source(name, loader)
	if err != nil {
		return "", xerrors.Errorf("%v: %w", err, zapp.ErrCompileFailed)
	}
	f, err := ioutil.TempFile("", "zapp-locator.*.c")
	if err != nil {
		return "", xerrors.Errorf("%v: %w", err, zapp.ErrIO)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(src); err != nil {
		f.Close()
		return "", xerrors.Errorf("%v: %w", err, zapp.ErrIO)
	}
	if err := f.Close(); err != nil {
		return "", xerrors.Errorf("%v: %w", err, zapp.ErrIO)
	}

	dest := l.Entry(name)
	if err := cc.Compile(ctx, f.Name(), dest); err != nil {
		return "", xerrors.Errorf("%v: %w", err, zapp.ErrCompileFailed)
	}
	dynamic, err := ldd.IsDynamic(dest)
	if err != nil {
		return "", xerrors.Errorf("%s: %v: %w", dest, err, zapp.ErrCompileFailed)
	}
	if dynamic {
		return "", xerrors.Errorf("%s is dynamically linked: %w", dest, zapp.ErrCompileFailed)
	}
	if err := os.Chmod(dest, 0755); err != nil {
		return "", xerrors.Errorf("%v: %w", err, zapp.ErrIO)
	}
	return dest, nil
}
