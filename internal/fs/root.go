package fs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/agentic-research/nixfs/internal/namespace"
	"github.com/agentic-research/nixfs/internal/nixbuild"
	"github.com/winfsp/cgofuse/fuse"
)

// accessMode masks the access bits of open flags.
const accessMode = fuse.O_RDONLY | fuse.O_WRONLY | fuse.O_RDWR

// NixFS implements the FUSE interface from cgofuse
type NixFS struct {
	fuse.FileSystemBase
	Builder   nixbuild.Builder
	log       *slog.Logger
	uid, gid  uint32
	mountTime fuse.Timespec
}

func NewNixFS(b nixbuild.Builder, logger *slog.Logger) *NixFS {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NixFS{
		Builder:   b,
		log:       logger,
		uid:       uint32(os.Getuid()),
		gid:       uint32(os.Getgid()),
		mountTime: fuse.NewTimespec(time.Now()),
	}
}

// Getattr (Stat)
func (fs *NixFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	fs.log.Debug("getattr", "path", path)

	*stat = fuse.Stat_t{}
	stat.Uid = fs.uid
	stat.Gid = fs.gid
	stat.Atim = fs.mountTime
	stat.Mtim = fs.mountTime
	stat.Ctim = fs.mountTime
	stat.Birthtim = fs.mountTime

	// 1. Fixed part of the tree
	if node, ok := namespace.Lookup(path); ok {
		stat.Mode = fuse.S_IFDIR | uint32(node.Mode.Perm())
		stat.Nlink = 2
		stat.Size = node.Size
		return 0
	}

	// 2. Computed from the path
	switch namespace.Classify(namespace.Tokenize(path)) {
	case namespace.OptionDirectory:
		stat.Mode = fuse.S_IFDIR | 0o555
		stat.Nlink = 2
		return 0
	case namespace.SpecLink:
		// Size is unknown until the build runs.
		stat.Mode = fuse.S_IFLNK | 0o777
		stat.Nlink = 1
		return 0
	}

	return -fuse.ENOENT
}

// Opendir accepts static directories and option directories.
func (fs *NixFS) Opendir(path string) (int, uint64) {
	if _, ok := namespace.Lookup(path); ok {
		return 0, 0
	}
	switch namespace.Classify(namespace.Tokenize(path)) {
	case namespace.OptionDirectory:
		return 0, 0
	case namespace.SpecLink:
		return -fuse.ENOTDIR, 0
	}
	return -fuse.ENOENT, 0
}

// Readdir (List directory)
func (fs *NixFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fs.log.Debug("readdir", "path", path)

	names, ok := namespace.Children(path)
	if !ok {
		// Option directories stand for an open-ended space; nothing to list.
		if namespace.Classify(namespace.Tokenize(path)) != namespace.OptionDirectory {
			return -fuse.ENOENT
		}
		names = []string{".", ".."}
	}

	for _, name := range names {
		if !fill(name, nil, 0) {
			break
		}
	}
	return 0
}

// Open only succeeds, read-only, on the flake b64 and str directories.
func (fs *NixFS) Open(path string, flags int) (int, uint64) {
	fs.log.Debug("open", "path", path, "flags", flags)

	if path != "/flake/b64" && path != "/flake/str" {
		return -fuse.ENOENT, 0
	}
	if flags&accessMode != fuse.O_RDONLY {
		return -fuse.EACCES, 0
	}
	return 0, 0
}

// Read never returns content: specs resolve through Readlink only.
func (fs *NixFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	return -fuse.ENOENT
}

// Readlink runs the build a spec path denotes and returns its output path.
func (fs *NixFS) Readlink(path string) (int, string) {
	fs.log.Debug("readlink", "path", path)

	req, err := namespace.Resolve(path)
	if err != nil {
		fs.log.Debug("readlink: unresolvable path", "path", path, "error", err)
		return -fuse.ENOENT, ""
	}

	target, err := fs.Builder.Build(context.Background(), req)
	if err != nil {
		return errno(err), ""
	}
	return 0, target
}

// errno maps a build error onto the negative error code FUSE expects.
func errno(err error) int {
	var sysErr *nixbuild.SystemError
	if errors.As(err, &sysErr) {
		return -fuse.EIO
	}
	return -fuse.ENOENT
}
