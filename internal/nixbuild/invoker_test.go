package nixbuild

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentic-research/nixfs/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeNix writes a shell script standing in for the nix binary. It
// records its argv, one argument per line, to the returned file, then
// runs body.
func fakeNix(t *testing.T, body string) (binary, argsFile string) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	dir := t.TempDir()
	binary = filepath.Join(dir, "nix")
	argsFile = filepath.Join(dir, "args")
	script := "#!/bin/sh\n" +
		"for a in \"$@\"; do printf '%s\\n' \"$a\" >> '" + argsFile + "'; done\n" +
		body + "\n"
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))
	return binary, argsFile
}

func recordedArgs(t *testing.T, argsFile string) []string {
	t.Helper()
	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func newTestInvoker(binary string) *Invoker {
	return NewInvoker(Options{Binary: binary, Stderr: io.Discard})
}

func TestBuildSuccess(t *testing.T) {
	binary, argsFile := fakeNix(t, `echo /nix/store/abc`)

	path, err := newTestInvoker(binary).Build(context.Background(), Request{Root: api.Flake, Spec: "nixpkgs#hello"})
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/abc", path)

	args := recordedArgs(t, argsFile)
	assert.Equal(t, "nixpkgs#hello", args[len(args)-1])
	assert.NotContains(t, args, "--impure")
}

func TestBuildExpression(t *testing.T) {
	binary, argsFile := fakeNix(t, `echo /nix/store/expr`)

	path, err := newTestInvoker(binary).Build(context.Background(), Request{Root: api.Expr, Spec: "1 + 1"})
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/expr", path)

	args := recordedArgs(t, argsFile)
	assert.Contains(t, args, "--impure")
	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, []string{"--expr", "1 + 1"}, args[len(args)-2:])
}

func TestBuildKeepsOnlyFirstLine(t *testing.T) {
	binary, _ := fakeNix(t, `printf '/nix/store/one\n/nix/store/two\n'`)

	path, err := newTestInvoker(binary).Build(context.Background(), Request{Root: api.Flake, Spec: "x"})
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/one", path)
}

func TestBuildWithoutTrailingNewline(t *testing.T) {
	binary, _ := fakeNix(t, `printf '/nix/store/abc'`)

	path, err := newTestInvoker(binary).Build(context.Background(), Request{Root: api.Flake, Spec: "x"})
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/abc", path)
}

func TestBuildNonZeroExit(t *testing.T) {
	binary, _ := fakeNix(t, "echo /nix/store/partial\nexit 1")

	_, err := newTestInvoker(binary).Build(context.Background(), Request{Root: api.Flake, Spec: "broken"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailed)

	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, 1, buildErr.ExitCode)
	assert.Equal(t, "broken", buildErr.Spec)
}

func TestBuildEmptyOutput(t *testing.T) {
	binary, _ := fakeNix(t, `exit 0`)

	_, err := newTestInvoker(binary).Build(context.Background(), Request{Root: api.Flake, Spec: "x"})
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestBuildStderrIsNotCaptured(t *testing.T) {
	binary, _ := fakeNix(t, "echo 'warning: dirty tree' >&2\necho /nix/store/abc")

	var stderr bytes.Buffer
	inv := NewInvoker(Options{Binary: binary, Stderr: &stderr})
	path, err := inv.Build(context.Background(), Request{Root: api.Flake, Spec: "x"})
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/abc", path)
	assert.Contains(t, stderr.String(), "dirty tree")
}

func TestBuildOutputLargerThanBuffer(t *testing.T) {
	// 64 KiB exceeds the pipe buffer; the child must still be able to exit.
	binary, _ := fakeNix(t, `i=0; while [ $i -lt 1024 ]; do printf '%064d' 0; i=$((i+1)); done`)

	inv := NewInvoker(Options{Binary: binary, MaxOutput: 16, Stderr: io.Discard})
	path, err := inv.Build(context.Background(), Request{Root: api.Flake, Spec: "x"})
	require.NoError(t, err)
	assert.Len(t, path, 15)
}

func TestBuildSpawnFailure(t *testing.T) {
	inv := newTestInvoker(filepath.Join(t.TempDir(), "missing-nix"))

	_, err := inv.Build(context.Background(), Request{Root: api.Flake, Spec: "x"})
	require.Error(t, err)

	var sysErr *SystemError
	require.True(t, errors.As(err, &sysErr))
	assert.Equal(t, "spawn", sysErr.Op)
	assert.False(t, errors.Is(err, ErrBuildFailed))
}

func TestBuildConcurrent(t *testing.T) {
	// Each child waits until both have started, so the builds only finish
	// if they run side by side.
	dir := t.TempDir()
	binary, _ := fakeNix(t, `for a in "$@"; do last=$a; done
touch '`+dir+`'/"$last"
while [ ! -e '`+dir+`/one' ] || [ ! -e '`+dir+`/two' ]; do sleep 0.01; done
echo /nix/store/"$last"`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inv := newTestInvoker(binary)
	specs := []string{"one", "two"}
	paths := make([]string, len(specs))
	errs := make([]error, len(specs))

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = inv.Build(ctx, Request{Root: api.Flake, Spec: spec})
		}()
	}
	wg.Wait()

	for i, spec := range specs {
		require.NoError(t, errs[i], spec)
		assert.Equal(t, "/nix/store/"+spec, paths[i])
	}
}

// flakyReader returns EAGAIN between chunks, as a non-blocking pipe can.
type flakyReader struct {
	chunks []string
	again  bool
}

func (r *flakyReader) Read(p []byte) (int, error) {
	if r.again {
		r.again = false
		return 0, unix.EAGAIN
	}
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	r.again = true
	return n, nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, unix.EIO }

func TestReadOutput(t *testing.T) {
	out, err := readOutput(&flakyReader{chunks: []string{"/nix/st", "ore/abc", "\n"}}, 64)
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/abc\n", string(out))

	out, err = readOutput(strings.NewReader("0123456789"), 5)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(out))

	_, err = readOutput(failingReader{}, 64)
	assert.ErrorIs(t, err, unix.EIO)
}

func TestNewInvokerDefaults(t *testing.T) {
	inv := NewInvoker(Options{})
	assert.Equal(t, "nix", inv.binary)
	assert.Equal(t, DefaultMaxOutput, inv.maxOutput)
	assert.NotNil(t, inv.logger)
}

func TestFindBinaryExplicitPath(t *testing.T) {
	binary, _ := fakeNix(t, "true")

	got, err := FindBinary(binary)
	require.NoError(t, err)
	assert.Equal(t, binary, got)

	_, err = FindBinary(filepath.Join(t.TempDir(), "nope", "nix"))
	assert.Error(t, err)
}

func TestFindBinaryNonexistentName(t *testing.T) {
	_, err := FindBinary("nix-definitely-does-not-exist-abcxyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found on PATH")
}
