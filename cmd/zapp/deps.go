package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/distr1/zapp/internal/ldd"
	"golang.org/x/xerrors"
)

const depsHelp = `zapp deps [-flags] <executable>

Print the ELF interpreter and the shared libraries which would be bundled,
one per line: <name> <resolved path>.

Example:
  % zapp deps /bin/ls
`

func deps(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("deps", flag.ExitOnError)
	lddPath := fset.String("ldd", "ldd", "ldd program to resolve shared libraries with")
	parseFlags(fset, args)
	if fset.NArg() != 1 {
		return xerrors.Errorf("syntax: zapp deps [-flags] <executable>")
	}
	r := &ldd.Resolver{LDD: *lddPath}
	c, err := r.Resolve(ctx, fset.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("interpreter %s\n", c.Interpreter)
	for _, l := range c.Libs {
		fmt.Printf("%s %s\n", l.Name, l.Path)
	}
	return nil
}
