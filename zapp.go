// Package zapp holds the types shared between the zapp packages: the error
// taxonomy of a bundle run and process-wide helpers used by cmd/zapp.
package zapp

import (
	"errors"
	"fmt"
)

// Sentinel errors. Match with errors.Is; the concrete error returned by a
// bundle run wraps one of these together with the offending path.
var (
	ErrInputNotFound        = errors.New("input not found")
	ErrNotDynamicallyLinked = errors.New("not a dynamically linked executable")
	ErrInterpreterNotFound  = errors.New("ELF interpreter not found")
	ErrWrongArchitecture    = errors.New("ELF machine does not match host architecture")
	ErrIO                   = errors.New("I/O error")
	ErrCompileFailed        = errors.New("compiling locator program failed")
	ErrPatchFailed          = errors.New("patching search path failed")
)

// Stage names a step of the bundle pipeline.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageLayout  Stage = "layout"
	StageLocator Stage = "locator"
	StagePatch   Stage = "patch"
	StageArchive Stage = "archive"
)

// StageError is returned by build.Ctx.Build. It names the pipeline stage and
// the path the stage was working on when it failed.
type StageError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
