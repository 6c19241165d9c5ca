package locator

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/distr1/zapp"
	"github.com/distr1/zapp/internal/bundle"
	"github.com/distr1/zapp/internal/zapptest"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/xerrors"
)

func TestCString(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want string
	}{
		{in: "true", want: `"true"`},
		{in: `a"b`, want: `"a\"b"`},
		{in: `a\b`, want: `"a\\b"`},
		{in: "what??=", want: `"what\?\?="`},
		{in: "tab\there", want: `"tab\011here"`},
		{in: "grüß", want: `"gr\303\274\303\237"`},
	} {
		if got := cstring(tt.in); got != tt.want {
			t.Errorf("cstring(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSource(t *testing.T) {
	src, err := Source("true", "ld-linux-x86-64.so.2")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`static const char name[] = "true";`,
		`static const char loader[] = "ld-linux-x86-64.so.2";`,
		`"%s/../lib/%s"`,
		`"%s/../dynbin/%s"`,
		`execv(interp, args);`,
	} {
		if !bytes.Contains(src, []byte(want)) {
			t.Errorf("Source() does not contain %q", want)
		}
	}

	for _, name := range []string{"", "../true", "bin/true"} {
		if _, err := Source(name, "ld.so"); err == nil {
			t.Errorf("Source(%q) unexpectedly succeeded", name)
		}
	}
}

// fakeCompiler writes the configured file contents instead of compiling.
type fakeCompiler struct {
	out []byte
	err error
	src []byte
}

func (f *fakeCompiler) Compile(ctx context.Context, src, dest string) error {
	b, err := ioutil.ReadFile(src)
	if err != nil {
		return err
	}
	f.src = b
	if f.err != nil {
		return f.err
	}
	return ioutil.WriteFile(dest, f.out, 0700)
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	l := bundle.Layout{Dir: zapptest.TempDir(t)}
	if err := l.Create(); err != nil {
		t.Fatal(err)
	}

	t.Run("static", func(t *testing.T) {
		cc := &fakeCompiler{out: zapptest.ELF{}.Bytes(t)}
		got, err := Generate(ctx, cc, l, "true", "ld.so")
		if err != nil {
			t.Fatal(err)
		}
		if want := l.Entry("true"); got != want {
			t.Errorf("Generate() = %q, want %q", got, want)
		}
		want, err := Source("true", "ld.so")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(string(want), string(cc.src)); diff != "" {
			t.Errorf("compiled source: diff (-want +got):\n%s", diff)
		}
		st, err := os.Stat(got)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := st.Mode().Perm(), os.FileMode(0755); got != want {
			t.Errorf("mode = %v, want %v", got, want)
		}
	})

	t.Run("dynamic", func(t *testing.T) {
		cc := &fakeCompiler{out: zapptest.ELF{Interp: "/lib/ld.so", Needed: []string{"libc.so.6"}}.Bytes(t)}
		if _, err := Generate(ctx, cc, l, "true", "ld.so"); !xerrors.Is(err, zapp.ErrCompileFailed) {
			t.Fatalf("Generate() = %v, want %v", err, zapp.ErrCompileFailed)
		}
	})

	t.Run("compiler error", func(t *testing.T) {
		cc := &fakeCompiler{err: xerrors.New("exit status 1")}
		if _, err := Generate(ctx, cc, l, "true", "ld.so"); !xerrors.Is(err, zapp.ErrCompileFailed) {
			t.Fatalf("Generate() = %v, want %v", err, zapp.ErrCompileFailed)
		}
	})
}

// TestLocatorArgv compiles a real locator program and substitutes a shell
// script for the program interpreter, which prints the arguments it receives.
func TestLocatorArgv(t *testing.T) {
	zapptest.LookPath(t, "sh")
	cc := &CC{}
	if _, err := cc.path(); err != nil {
		t.Skip(err)
	}
	ctx := context.Background()
	l := bundle.Layout{Dir: filepath.Join(zapptest.TempDir(t), "echo-zapp")}
	if err := l.Create(); err != nil {
		t.Fatal(err)
	}
	zapptest.WriteExecutable(t, filepath.Join(l.Lib(), "ld.sh"), []byte("#!/bin/sh\nfor arg in \"$0\" \"$@\"; do echo \"$arg\"; done\n"))

	entry, err := Generate(ctx, cc, l, "echo", "ld.sh")
	if err != nil {
		// e.g. no static C library installed
		t.Skipf("compiling the locator program failed: %v", err)
	}

	// Move the bundle to verify that nothing refers to the build location.
	moved := filepath.Join(zapptest.TempDir(t), "elsewhere")
	if err := os.Rename(l.Dir, moved); err != nil {
		t.Fatal(err)
	}
	entry = filepath.Join(moved, "bin", filepath.Base(entry))

	cmd := exec.Command(entry, "first arg", "--second")
	cmd.Dir = "/"
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("%v: %v", cmd.Args, err)
	}
	realMoved, err := filepath.EvalSymlinks(moved)
	if err != nil {
		t.Fatal(err)
	}
	// The locator does not clean its paths.
	want := []string{
		realMoved + "/bin/../lib/ld.sh",
		realMoved + "/bin/../dynbin/echo",
		"first arg",
		"--second",
	}
	got := strings.Split(strings.TrimSpace(string(out)), "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("locator argv: diff (-want +got):\n%s", diff)
	}
}
