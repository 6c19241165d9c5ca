// Package zapptest contains helpers shared by the zapp tests.
package zapptest

import (
	"io/ioutil"
	"os"
	"os/exec"
	"testing"
)

// RemoveAll wraps os.RemoveAll and fails the test on failure.
func RemoveAll(t testing.TB, path string) {
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}

// TempDir creates a temporary directory which is removed when the test ends.
func TempDir(t testing.TB) string {
	dir, err := ioutil.TempDir("", "zapptest")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { RemoveAll(t, dir) })
	return dir
}

// LookPath returns the path to the named program, skipping the test if it is
// not installed.
func LookPath(t testing.TB, name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not installed: %v", name, err)
	}
	return path
}

// WriteExecutable writes b to fn with mode 0755.
func WriteExecutable(t testing.TB, fn string, b []byte) {
	if err := ioutil.WriteFile(fn, b, 0755); err != nil {
		t.Fatal(err)
	}
}
