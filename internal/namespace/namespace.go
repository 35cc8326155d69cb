// Package namespace maps filesystem paths onto the nixfs tree.
//
// The tree has a fixed upper part (the root, the two namespace roots and
// the three encoding directories under each) and an open-ended lower part
// whose nodes are computed from the path itself:
//
//	/flake/<encoding>[/<option>...]/<spec>   symlink to the build output
//	/expr/<encoding>[/<option>...]/<spec>    symlink to the build output
//
// Nothing here touches the filesystem or runs a process. Every function is
// safe for concurrent use.
package namespace

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/agentic-research/nixfs/api"
)

// ErrInvalidPath is returned for paths outside the namespace.
var ErrInvalidPath = errors.New("invalid path")

// Tokenize splits a path on '/' and drops empty segments.
func Tokenize(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// Node is an entry of the static tree.
type Node struct {
	Path string
	Mode fs.FileMode
	Size int64
}

// Name returns the last component of the node path, or "/" for the root.
func (n Node) Name() string {
	if n.Path == "/" {
		return "/"
	}
	return n.Path[strings.LastIndexByte(n.Path, '/')+1:]
}

// static is immutable after init.
var static []Node

func init() {
	dir := fs.ModeDir | 0o755
	static = append(static, Node{Path: "/", Mode: dir})
	for _, r := range api.Roots {
		static = append(static, Node{Path: "/" + r.String(), Mode: dir})
		for _, e := range api.Encodings {
			static = append(static, Node{Path: "/" + r.String() + "/" + e.String(), Mode: dir})
		}
	}
}

// Static returns a copy of the static table.
func Static() []Node {
	return append([]Node(nil), static...)
}

// Lookup finds a static node by exact path.
func Lookup(path string) (Node, bool) {
	for _, n := range static {
		if n.Path == path {
			return n, true
		}
	}
	return Node{}, false
}

// Children lists the names of the immediate static children of dir,
// preceded by "." and "..". It reports false if dir is not a static
// directory.
func Children(dir string) ([]string, bool) {
	parent, ok := Lookup(dir)
	if !ok || !parent.Mode.IsDir() {
		return nil, false
	}

	prefix := parent.Path
	if prefix != "/" {
		prefix += "/"
	}

	names := []string{".", ".."}
	for _, n := range static {
		if n.Path == parent.Path || !strings.HasPrefix(n.Path, prefix) {
			continue
		}
		rest := n.Path[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	return names, true
}
