package rpath

import (
	"context"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Patchelf is a Setter which runs patchelf(1).
type Patchelf struct {
	// Path is the patchelf program to run. Defaults to patchelf from $PATH.
	Path string
}

func (p *Patchelf) path() (string, error) {
	if p.Path == "" {
		return exec.LookPath("patchelf")
	}
	if err := unix.Access(p.Path, unix.X_OK); err != nil {
		return "", xerrors.Errorf("%s: %v", p.Path, err)
	}
	return p.Path, nil
}

// SetSearchPath sets DT_RPATH rather than DT_RUNPATH (--force-rpath): the
// dynamic linker consults an executable's DT_RUNPATH only for its direct
// dependencies, whereas DT_RPATH also applies to the libraries they load.
func (p *Patchelf) SetSearchPath(ctx context.Context, fn, value string) error {
	path, err := p.path()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, path, "--force-rpath", "--set-rpath", value, fn)
	if out, err := cmd.CombinedOutput(); err != nil {
		return xerrors.Errorf("%v: %v (output: %s)", cmd.Args, err, strings.TrimSpace(string(out)))
	}
	return nil
}
