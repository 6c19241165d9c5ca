package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/distr1/zapp/internal/build"
	"github.com/distr1/zapp/internal/ldd"
	"github.com/distr1/zapp/internal/locator"
	"github.com/distr1/zapp/internal/rpath"
	"golang.org/x/xerrors"
)

const bundleHelp = `zapp [bundle] [-flags] <executable> <output_dir>

Bundle a dynamically linked executable, its ELF interpreter and all shared
libraries it needs into output_dir:

  output_dir/bin/<name>     entry point, run this
  output_dir/dynbin/<name>  the executable, loading libraries from lib/
  output_dir/lib/           ELF interpreter and shared libraries

The bundle can be moved or copied to another machine of the same
architecture.

Example:
  % zapp /usr/bin/true ./true-zapp
  % ./true-zapp/bin/true
`

func setter(patcher, patchelf string) (rpath.Setter, error) {
	switch patcher {
	case "patchelf":
		return &rpath.Patchelf{Path: patchelf}, nil
	case "elf":
		return rpath.ELFWriter{}, nil
	default:
		return nil, xerrors.Errorf("unknown -patcher=%q, want patchelf or elf", patcher)
	}
}

// within reports whether path is inside of dir.
func within(path, dir string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(absPath, absDir+string(filepath.Separator)), nil
}

func bundle(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("bundle", flag.ExitOnError)
	var (
		patcher = fset.String("patcher",
			"patchelf",
			"how to set the library search path: patchelf (run patchelf(1)) or elf (rewrite the existing search path in place, no external tools)")
		patchelf = fset.String("patchelf", "", "patchelf program to run (default: patchelf from $PATH)")
		cc       = fset.String("cc", "", "C compiler for the entry point program (default: first of musl-gcc, cc, gcc from $PATH)")
		lddPath  = fset.String("ldd", "ldd", "ldd program to resolve shared libraries with")
		archive  = fset.String("archive", "", "if non-empty, additionally write the bundle as gzip-compressed tar file to this path")
	)
	parseFlags(fset, args)
	if fset.NArg() != 2 {
		return xerrors.Errorf("syntax: zapp [bundle] [-flags] <executable> <output_dir>")
	}
	exe, outDir := fset.Arg(0), fset.Arg(1)

	s, err := setter(*patcher, *patchelf)
	if err != nil {
		return err
	}
	if *archive != "" {
		inside, err := within(*archive, outDir)
		if err != nil {
			return err
		}
		if inside {
			return xerrors.Errorf("-archive=%s must not be inside of %s", *archive, outDir)
		}
	}

	b := build.NewCtx(exe, outDir)
	b.Resolver = &ldd.Resolver{LDD: *lddPath}
	b.Compiler = &locator.CC{Path: *cc}
	b.Setter = s
	entry, err := b.Build(ctx)
	if err != nil {
		return err
	}
	if *archive != "" {
		if err := b.Archive(ctx, *archive); err != nil {
			return err
		}
		fmt.Printf("bundle archive: %s\n", *archive)
	}
	fmt.Printf("bundle entry point: %s\n", entry)
	return nil
}
