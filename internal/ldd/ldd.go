// Package ldd resolves the program interpreter and the transitive closure of
// shared libraries of a dynamically linked ELF executable, using the host
// dynamic linker (via ldd(1)) to resolve library names to paths.
package ldd

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/distr1/zapp"
	"golang.org/x/xerrors"
)

// From glibc elf/rtld.c:
//   _dl_printf ("\t%s => %s (0x%0*zx)\n", ...)
//   _dl_printf ("\t%s (0x%0*zx)\n", ...)
var (
	lddRe      = regexp.MustCompile(`^\s*(?:(\S+) => )?(\S+)(?: \(0x[0-9a-f]+\))?\s*$`)
	notFoundRe = regexp.MustCompile(`^\s*(\S+) => not found`)
)

// Lib is one shared library of the closure.
type Lib struct {
	// Name is the file name under which the dynamic linker looks the library
	// up, e.g. libc.so.6.
	Name string

	// Path is the fully resolved path of the library on the host,
	// e.g. /usr/lib/x86_64-linux-gnu/libc-2.31.so.
	Path string
}

// Closure is the result of resolving an executable.
type Closure struct {
	// Interpreter is the PT_INTERP path, e.g. /lib64/ld-linux-x86-64.so.2.
	Interpreter string

	// Libs are all shared libraries needed at load time, deduplicated by
	// Path and sorted by Name. The interpreter is never part of Libs.
	Libs []Lib
}

type entry struct {
	name string // DT_NEEDED name, empty for lines without "=>"
	path string
}

// parse extracts all entries which name a file system path from ldd output.
// Lines without a path (e.g. linux-vdso.so.1) are skipped.
func parse(r io.Reader) ([]entry, error) {
	var entries []entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if matches := notFoundRe.FindStringSubmatch(line); matches != nil {
			log.Printf("warning: %s could not be resolved by the dynamic linker, bundle will be incomplete", matches[1])
			continue
		}
		matches := lddRe.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		if !filepath.IsAbs(matches[2]) {
			continue // e.g. linux-vdso.so.1 (0x00007ffc8b5f1000)
		}
		entries = append(entries, entry{name: matches[1], path: matches[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// closure turns ldd entries into a deduplicated library set, dropping entries
// which do not resolve to regular files and the interpreter itself.
func closure(entries []entry, interp string) []Lib {
	interpReal, err := filepath.EvalSymlinks(interp)
	if err != nil {
		interpReal = interp
	}
	byPath := make(map[string]Lib)
	for _, e := range entries {
		real, err := filepath.EvalSymlinks(e.path)
		if err != nil {
			continue
		}
		if st, err := os.Stat(real); err != nil || !st.Mode().IsRegular() {
			continue
		}
		if real == interpReal || e.path == interp {
			continue // copied separately
		}
		if _, ok := byPath[real]; ok {
			continue
		}
		name := e.name
		if name == "" || strings.ContainsRune(name, '/') {
			name = filepath.Base(e.path)
		}
		byPath[real] = Lib{Name: name, Path: real}
	}
	libs := make([]Lib, 0, len(byPath))
	for _, l := range byPath {
		libs = append(libs, l)
	}
	sort.Slice(libs, func(i, j int) bool {
		if libs[i].Name != libs[j].Name {
			return libs[i].Name < libs[j].Name
		}
		return libs[i].Path < libs[j].Path
	})
	return libs
}

// Resolver resolves executables by running ldd(1).
type Resolver struct {
	// LDD is the ldd program to run. Defaults to ldd from $PATH.
	LDD string
}

func (r *Resolver) ldd() string {
	if r.LDD != "" {
		return r.LDD
	}
	return "ldd"
}

// lddEnv returns the environment for ldd without LD_PRELOAD, which would
// otherwise show up in (and pollute) the closure.
func lddEnv() []string {
	env := os.Environ()
	filtered := env[:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "LD_PRELOAD=") {
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered
}

// Resolve returns the interpreter and the shared library closure of exe. It
// does not modify the file system.
func (r *Resolver) Resolve(ctx context.Context, exe string) (*Closure, error) {
	x, err := Inspect(exe)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.ldd(), exe)
	cmd.Env = lddEnv()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stdout.String()+stderr.String(), "not a dynamic executable") {
			return nil, xerrors.Errorf("%s: %w", exe, zapp.ErrNotDynamicallyLinked)
		}
		return nil, xerrors.Errorf("%v: %v (stderr: %s)", cmd.Args, err, strings.TrimSpace(stderr.String()))
	}

	entries, err := parse(&stdout)
	if err != nil {
		return nil, xerrors.Errorf("parsing %v output: %w", cmd.Args, err)
	}
	return &Closure{
		Interpreter: x.Interpreter,
		Libs:        closure(entries, x.Interpreter),
	}, nil
}
