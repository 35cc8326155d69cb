package nixbuild

import (
	"errors"
	"fmt"
)

var (
	// ErrBuildFailed matches every *BuildError.
	ErrBuildFailed = errors.New("build failed")

	// ErrNoOutput is returned when nix exits zero without printing a path.
	ErrNoOutput = errors.New("build printed no output path")
)

// BuildError reports that nix ran and exited non-zero.
type BuildError struct {
	Spec     string
	ExitCode int
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %q: exit status %d", e.Spec, e.ExitCode)
}

func (e *BuildError) Is(target error) bool { return target == ErrBuildFailed }

// SystemError reports a failure of the process plumbing itself: creating
// the pipe, starting the process, reading its output or reaping it.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *SystemError) Unwrap() error { return e.Err }
