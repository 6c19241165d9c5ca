// Package build turns a dynamically linked executable into a relocatable
// bundle. See Ctx.Build for the individual steps.
package build

import (
	"context"
	"log"
	"path/filepath"

	"github.com/distr1/zapp"
	"github.com/distr1/zapp/internal/bundle"
	"github.com/distr1/zapp/internal/ldd"
	"github.com/distr1/zapp/internal/locator"
	"github.com/distr1/zapp/internal/rpath"
	"github.com/distr1/zapp/internal/trace"
	"golang.org/x/xerrors"
)

// Resolver determines the program interpreter and the shared library closure
// of an executable.
type Resolver interface {
	Resolve(ctx context.Context, exe string) (*ldd.Closure, error)
}

type Ctx struct {
	Exe    string // e.g. /usr/bin/true
	OutDir string // e.g. ./true-zapp

	Resolver Resolver
	Compiler locator.Compiler
	Setter   rpath.Setter
}

// NewCtx returns a Ctx which uses the host tools: ldd(1), a C compiler and
// patchelf(1).
func NewCtx(exe, outDir string) *Ctx {
	return &Ctx{
		Exe:      exe,
		OutDir:   outDir,
		Resolver: &ldd.Resolver{},
		Compiler: &locator.CC{},
		Setter:   &rpath.Patchelf{},
	}
}

func stage(s zapp.Stage, path string, fn func() error) error {
	ev := trace.Event(string(s), "path", path)
	defer ev.Done()
	if err := fn(); err != nil {
		return &zapp.StageError{Stage: s, Path: path, Err: err}
	}
	return nil
}

// Build creates the bundle and returns the path of its entry point,
// bin/<name>. Steps:
//
//  1. resolve the interpreter and library closure (no file system changes)
//  2. copy interpreter, closure and executable into the bundle
//  3. compile the locator program into bin/
//  4. point the search path of the copy in dynbin/ to lib/
//
// Build stops at the first error and leaves the bundle as is.
func (b *Ctx) Build(ctx context.Context) (string, error) {
	name := filepath.Base(b.Exe)
	l := bundle.Layout{Dir: b.OutDir}

	var c *ldd.Closure
	if err := stage(zapp.StageResolve, b.Exe, func() error {
		var err error
		c, err = b.Resolver.Resolve(ctx, b.Exe)
		return err
	}); err != nil {
		return "", err
	}
	log.Printf("%s: interpreter %s, %d libraries", b.Exe, c.Interpreter, len(c.Libs))

	if err := stage(zapp.StageLayout, l.Dir, func() error {
		return bundle.Materialize(l, b.Exe, c)
	}); err != nil {
		return "", err
	}

	var entry string
	if err := stage(zapp.StageLocator, l.Entry(name), func() error {
		var err error
		entry, err = locator.Generate(ctx, b.Compiler, l, name, filepath.Base(c.Interpreter))
		return err
	}); err != nil {
		return "", err
	}

	p := &rpath.Patcher{Setter: b.Setter}
	if err := stage(zapp.StagePatch, l.Executable(name), func() error {
		return p.Patch(ctx, l.Executable(name))
	}); err != nil {
		return "", err
	}

	log.Printf("bundle %s complete", l.Dir)
	return entry, nil
}

// Archive writes the bundle created by Build as a .tar.gz file to dest.
func (b *Ctx) Archive(ctx context.Context, dest string) error {
	return stage(zapp.StageArchive, dest, func() error {
		if err := bundle.Archive(ctx, bundle.Layout{Dir: b.OutDir}, dest); err != nil {
			return xerrors.Errorf("%v: %w", err, zapp.ErrIO)
		}
		return nil
	})
}
