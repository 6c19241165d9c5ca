package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/distr1/zapp/internal/rpath"
	"golang.org/x/xerrors"
)

const rpathHelp = `zapp rpath [-set=<value>] <elf-file>

Print the library search path (DT_RUNPATH, or DT_RPATH if unset) of an ELF
file. With -set, overwrite the existing search path in place; the new value
must not be longer than the existing one.

Example:
  % zapp rpath true-zapp/dynbin/true
  $ORIGIN/../lib
`

func printRpath(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("rpath", flag.ExitOnError)
	set := fset.String("set", "", "if non-empty, search path to write")
	parseFlags(fset, args)
	if fset.NArg() != 1 {
		return xerrors.Errorf("syntax: zapp rpath [-set=<value>] <elf-file>")
	}
	fn := fset.Arg(0)
	if *set != "" {
		if err := (rpath.ELFWriter{}).SetSearchPath(ctx, fn, *set); err != nil {
			return err
		}
	}
	p, err := rpath.Read(fn)
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}
