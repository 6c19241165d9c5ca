package bundle

import (
	"archive/tar"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/zapp"
	"github.com/distr1/zapp/internal/ldd"
	"github.com/distr1/zapp/internal/zapptest"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"
)

func writeFile(t *testing.T, fn, content string, perm os.FileMode) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(fn, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
	return fn
}

func listDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	fis, err := ioutil.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	contents := make(map[string]string)
	for _, fi := range fis {
		b, err := ioutil.ReadFile(filepath.Join(dir, fi.Name()))
		if err != nil {
			t.Fatal(err)
		}
		contents[fi.Name()] = string(b)
	}
	return contents
}

type fixture struct {
	exe     string
	closure *ldd.Closure
}

func newFixture(t *testing.T) fixture {
	host := zapptest.TempDir(t)
	return fixture{
		exe: writeFile(t, filepath.Join(host, "usr", "bin", "hello"), "hello-binary", 0755),
		closure: &ldd.Closure{
			Interpreter: writeFile(t, filepath.Join(host, "lib64", "ld-linux-x86-64.so.2"), "interp", 0755),
			Libs: []ldd.Lib{
				{Name: "libc.so.6", Path: writeFile(t, filepath.Join(host, "lib", "libc-2.31.so"), "libc", 0755)},
				{Name: "libm.so.6", Path: writeFile(t, filepath.Join(host, "lib", "libm.so.6"), "libm", 0644)},
			},
		},
	}
}

func TestMaterialize(t *testing.T) {
	f := newFixture(t)
	l := Layout{Dir: filepath.Join(zapptest.TempDir(t), "hello-zapp")}

	// Running twice must succeed and yield the same bundle.
	for run := 0; run < 2; run++ {
		if err := Materialize(l, f.exe, f.closure); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}

		want := map[string]string{
			"ld-linux-x86-64.so.2": "interp",
			"libc.so.6":            "libc",
			"libm.so.6":            "libm",
		}
		if diff := cmp.Diff(want, listDir(t, l.Lib())); diff != "" {
			t.Errorf("run %d: lib/: diff (-want +got):\n%s", run, diff)
		}
		if diff := cmp.Diff(map[string]string{"hello": "hello-binary"}, listDir(t, l.Dynbin())); diff != "" {
			t.Errorf("run %d: dynbin/: diff (-want +got):\n%s", run, diff)
		}
		if diff := cmp.Diff(map[string]string{}, listDir(t, l.Bin())); diff != "" {
			t.Errorf("run %d: bin/: diff (-want +got):\n%s", run, diff)
		}
	}

	st, err := os.Stat(filepath.Join(l.Lib(), "libm.so.6"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := st.Mode().Perm(), os.FileMode(0644); got != want {
		t.Errorf("lib/libm.so.6 mode = %v, want %v", got, want)
	}
	st, err = os.Stat(l.Executable("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := st.Mode().Perm(), os.FileMode(0755); got != want {
		t.Errorf("dynbin/hello mode = %v, want %v", got, want)
	}
}

func TestMaterializeNameCollision(t *testing.T) {
	f := newFixture(t)
	other := writeFile(t, filepath.Join(zapptest.TempDir(t), "libm.so.6"), "other libm", 0644)
	f.closure.Libs = append(f.closure.Libs, ldd.Lib{Name: "libm.so.6", Path: other})

	l := Layout{Dir: zapptest.TempDir(t)}
	if err := Materialize(l, f.exe, f.closure); err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(filepath.Join(l.Lib(), "libm.so.6"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "other libm"; got != want {
		t.Errorf("lib/libm.so.6 = %q, want %q (last write wins)", got, want)
	}
}

func TestMaterializeMissingSource(t *testing.T) {
	f := newFixture(t)
	f.closure.Libs = append(f.closure.Libs, ldd.Lib{Name: "libgone.so", Path: "/nonexistent/libgone.so"})
	l := Layout{Dir: zapptest.TempDir(t)}
	if err := Materialize(l, f.exe, f.closure); !xerrors.Is(err, zapp.ErrIO) {
		t.Fatalf("Materialize = %v, want %v", err, zapp.ErrIO)
	}
}

func TestArchive(t *testing.T) {
	f := newFixture(t)
	l := Layout{Dir: filepath.Join(zapptest.TempDir(t), "hello-zapp")}
	if err := Materialize(l, f.exe, f.closure); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(zapptest.TempDir(t), "hello.tar.gz")
	if err := Archive(context.Background(), l, dest); err != nil {
		t.Fatal(err)
	}

	in, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	zr, err := pgzip.NewReader(in)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(zr)
	got := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		b, err := ioutil.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		got[hdr.Name] = string(b)
	}
	want := map[string]string{
		"hello-zapp/":                         "",
		"hello-zapp/bin/":                     "",
		"hello-zapp/dynbin/":                  "",
		"hello-zapp/dynbin/hello":             "hello-binary",
		"hello-zapp/lib/":                     "",
		"hello-zapp/lib/ld-linux-x86-64.so.2": "interp",
		"hello-zapp/lib/libc.so.6":            "libc",
		"hello-zapp/lib/libm.so.6":            "libm",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("archive contents: diff (-want +got):\n%s", diff)
	}
}
