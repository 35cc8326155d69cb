package nixbuild

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// DefaultMaxOutput matches PATH_MAX, the largest symlink target the
// kernel will accept.
const DefaultMaxOutput = 4096

// Builder resolves a request to an output path.
type Builder interface {
	Build(ctx context.Context, req Request) (string, error)
}

// Options configures an Invoker.
type Options struct {
	// Binary is the path of the nix executable.
	Binary string
	// MaxOutput is the capacity of the output buffer, including room for
	// a terminator. Output beyond MaxOutput-1 bytes is discarded.
	MaxOutput int
	// Stderr receives the child's standard error. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *slog.Logger
}

// Invoker runs nix builds as child processes.
type Invoker struct {
	binary    string
	maxOutput int
	stderr    io.Writer
	logger    *slog.Logger
}

// NewInvoker returns an Invoker for the given options.
func NewInvoker(opts Options) *Invoker {
	inv := &Invoker{
		binary:    opts.Binary,
		maxOutput: opts.MaxOutput,
		stderr:    opts.Stderr,
		logger:    opts.Logger,
	}
	if inv.binary == "" {
		inv.binary = "nix"
	}
	if inv.maxOutput < 2 {
		inv.maxOutput = DefaultMaxOutput
	}
	if inv.stderr == nil {
		inv.stderr = os.Stderr
	}
	if inv.logger == nil {
		inv.logger = slog.New(slog.DiscardHandler)
	}
	return inv
}

// Build runs nix for req and returns the first line of its standard
// output. The child is always reaped and both pipe ends are always closed
// before Build returns.
func (inv *Invoker) Build(ctx context.Context, req Request) (string, error) {
	args := req.Args()
	inv.logger.Debug("running build", "binary", inv.binary, "args", args)

	r, w, err := os.Pipe()
	if err != nil {
		return "", &SystemError{Op: "pipe", Err: err}
	}

	cmd := exec.CommandContext(ctx, inv.binary, args...)
	cmd.Stdout = w
	cmd.Stderr = inv.stderr
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return "", &SystemError{Op: "spawn", Err: err}
	}
	// The child holds its own copy of the write end.
	_ = w.Close()

	out, readErr := readOutput(r, inv.maxOutput)
	_ = r.Close()
	waitErr := cmd.Wait()

	if readErr != nil {
		inv.logger.Warn("reading build output failed", "spec", req.Spec, "error", readErr)
		return "", &SystemError{Op: "read", Err: readErr}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			inv.logger.Warn("build failed", "spec", req.Spec, "exit_code", exitErr.ExitCode())
			return "", &BuildError{Spec: req.Spec, ExitCode: exitErr.ExitCode()}
		}
		return "", &SystemError{Op: "wait", Err: waitErr}
	}

	path := firstLine(out)
	if path == "" {
		return "", ErrNoOutput
	}
	inv.logger.Debug("build finished", "spec", req.Spec, "path", path)
	return path, nil
}

// readOutput reads up to capacity-1 bytes from r, then drains the rest so
// a child writing more than that never blocks on a full pipe.
// EAGAIN and EINTR are retried for readers other than *os.File, whose
// reads the runtime poller already restarts.
func readOutput(r io.Reader, capacity int) ([]byte, error) {
	buf := make([]byte, capacity-1)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return buf[:n], nil
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		default:
			return nil, err
		}
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return buf, nil
}

func firstLine(out []byte) string {
	if i := bytes.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return string(out)
}
