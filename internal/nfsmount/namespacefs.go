// Package nfsmount provides an NFS-based mount backend for nixfs.
// It adapts the nixfs namespace to billy.Filesystem for use with
// willscott/go-nfs, as an alternative to the FUSE mount layer.
package nfsmount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"

	"github.com/agentic-research/nixfs/internal/namespace"
	"github.com/agentic-research/nixfs/internal/nixbuild"
)

var errReadOnly = fmt.Errorf("read-only filesystem")

// NamespaceFS adapts the nixfs namespace to billy.Filesystem.
// Spec paths are symlinks; their targets come from Readlink, which runs
// the build.
type NamespaceFS struct {
	builder   nixbuild.Builder
	log       *slog.Logger
	mountTime time.Time
}

// NewNamespaceFS creates a billy.Filesystem whose links resolve through b.
func NewNamespaceFS(b nixbuild.Builder, logger *slog.Logger) *NamespaceFS {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NamespaceFS{
		builder:   b,
		log:       logger,
		mountTime: time.Now(),
	}
}

// --- billy.Basic ---

func (fs *NamespaceFS) Create(filename string) (billy.File, error) {
	return nil, errReadOnly
}

func (fs *NamespaceFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile never yields a file: nothing in the tree has content.
func (fs *NamespaceFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	filename = cleanPath(filename)

	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, errReadOnly
	}

	info, err := fs.Lstat(filename)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
	}
	if info.IsDir() {
		return nil, &os.PathError{Op: "open", Path: filename, Err: fmt.Errorf("is a directory")}
	}
	return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
}

func (fs *NamespaceFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *NamespaceFS) Rename(oldpath, newpath string) error {
	return errReadOnly
}

func (fs *NamespaceFS) Remove(filename string) error {
	return errReadOnly
}

func (fs *NamespaceFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *NamespaceFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *NamespaceFS) ReadDir(path string) ([]os.FileInfo, error) {
	path = cleanPath(path)
	fs.log.Debug("nfs readdir", "path", path)

	names, ok := namespace.Children(path)
	if !ok {
		switch namespace.Classify(namespace.Tokenize(path)) {
		case namespace.OptionDirectory:
			return []os.FileInfo{}, nil
		case namespace.SpecLink:
			return nil, &os.PathError{Op: "readdir", Path: path, Err: fmt.Errorf("not a directory")}
		}
		return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
	}

	infos := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		info, err := fs.Lstat(filepath.Join(path, name))
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (fs *NamespaceFS) MkdirAll(filename string, perm os.FileMode) error {
	return errReadOnly
}

// --- billy.Symlink ---

func (fs *NamespaceFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)

	if node, ok := namespace.Lookup(filename); ok {
		return &staticFileInfo{
			name:    node.Name(),
			size:    node.Size,
			mode:    node.Mode,
			modTime: fs.mountTime,
		}, nil
	}

	info := &staticFileInfo{
		name:    filepath.Base(filename),
		modTime: fs.mountTime,
	}
	switch namespace.Classify(namespace.Tokenize(filename)) {
	case namespace.OptionDirectory:
		info.mode = os.ModeDir | 0o555
		return info, nil
	case namespace.SpecLink:
		info.mode = os.ModeSymlink | 0o777
		return info, nil
	}

	return nil, &os.PathError{Op: "lstat", Path: filename, Err: os.ErrNotExist}
}

func (fs *NamespaceFS) Symlink(target, link string) error {
	return errReadOnly
}

// Readlink runs the build the link denotes and returns its output path.
func (fs *NamespaceFS) Readlink(link string) (string, error) {
	link = cleanPath(link)
	fs.log.Debug("nfs readlink", "path", link)

	req, err := namespace.Resolve(link)
	if err != nil {
		return "", &os.PathError{Op: "readlink", Path: link, Err: os.ErrNotExist}
	}

	target, err := fs.builder.Build(context.Background(), req)
	if err != nil {
		var sysErr *nixbuild.SystemError
		if errors.As(err, &sysErr) {
			return "", &os.PathError{Op: "readlink", Path: link, Err: err}
		}
		return "", &os.PathError{Op: "readlink", Path: link, Err: os.ErrNotExist}
	}
	return target, nil
}

// --- billy.Chroot ---

func (fs *NamespaceFS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *NamespaceFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *NamespaceFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// --- internals ---

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(path string) string {
	return filepath.Clean("/" + path)
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() interface{}   { return nil }

// Compile-time interface checks.
var (
	_ billy.Filesystem = (*NamespaceFS)(nil)
	_ billy.Capable    = (*NamespaceFS)(nil)
)
