// Program zapp bundles a dynamically linked executable into a relocatable
// directory. Run zapp help <verb> for details.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/distr1/zapp"
	"github.com/distr1/zapp/internal/trace"
	"github.com/mattn/go-isatty"
)

// parseFlags adds the flags common to all verbs to fset and parses args.
func parseFlags(fset *flag.FlagSet, args []string) {
	tracefile := fset.String("tracefile", "", "path to store a Chrome trace event file at")
	fset.Parse(args)
	if *tracefile != "" {
		if err := trace.Enable(*tracefile); err != nil {
			log.Fatal(err)
		}
	}
}

type cmd struct {
	helpText string
	fn       func(ctx context.Context, args []string) error
}

var verbs = map[string]cmd{
	"bundle": {bundleHelp, bundle},
	"deps":   {depsHelp, deps},
	"rpath":  {rpathHelp, printRpath},
}

func usage() {
	fmt.Fprintf(os.Stderr, "syntax: zapp [<verb>] [options]\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Verbs:\n")
	fmt.Fprintf(os.Stderr, "\tbundle - bundle an executable (default)\n")
	fmt.Fprintf(os.Stderr, "\tdeps   - print the interpreter and library closure of an executable\n")
	fmt.Fprintf(os.Stderr, "\trpath  - print or set the library search path of an ELF file\n")
	fmt.Fprintf(os.Stderr, "\thelp   - print help for a verb\n")
}

func main() {
	// Without a terminal (e.g. in CI logs), timestamps help correlate output.
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(0)
	}

	ctx, canc := zapp.InterruptibleContext()
	defer canc()

	args := os.Args[1:]
	verb := "bundle"
	if len(args) > 0 {
		if _, ok := verbs[args[0]]; ok || args[0] == "help" {
			verb, args = args[0], args[1:]
		}
	}

	if verb == "help" {
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		verb = args[0]
		args = []string{"-help"}
	}
	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown verb %q\n", verb)
		usage()
		os.Exit(2)
	}
	if len(args) == 1 && (args[0] == "-help" || args[0] == "--help" || args[0] == "-h") {
		fmt.Fprintf(os.Stderr, "%s\n", v.helpText)
	}
	err := v.fn(ctx, args)
	if aerr := zapp.RunAtExit(); aerr != nil && err == nil {
		err = aerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %+v\n", verb, err)
		os.Exit(1)
	}
}
