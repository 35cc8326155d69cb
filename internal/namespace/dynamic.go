package namespace

import (
	"fmt"
	"strings"

	"github.com/agentic-research/nixfs/api"
	"github.com/agentic-research/nixfs/internal/codec"
	"github.com/agentic-research/nixfs/internal/nixbuild"
)

// Kind classifies a dynamic path.
type Kind int

const (
	// Invalid paths do not exist.
	Invalid Kind = iota
	// OptionDirectory is an empty directory standing in for an option
	// token, so that further components can be appended beneath it.
	OptionDirectory
	// SpecLink is a symlink whose target is computed by running a build.
	SpecLink
)

func (k Kind) String() string {
	switch k {
	case OptionDirectory:
		return "option-directory"
	case SpecLink:
		return "spec-link"
	}
	return "invalid"
}

// Dynamic is the parsed form of a path below an encoding directory.
type Dynamic struct {
	Root     api.Root
	Encoding api.Encoding
	// Options are the raw components between the encoding and the last one.
	Options []string
	// Last is the final component: an option token or the encoded spec.
	Last string
}

// Parse splits tokens into their dynamic parts. A dynamic path has a
// known root, a known encoding and at least one component below it.
func Parse(tokens []string) (Dynamic, error) {
	if len(tokens) < 3 {
		return Dynamic{}, fmt.Errorf("%w: %d components", ErrInvalidPath, len(tokens))
	}
	root, ok := api.ParseRoot(tokens[0])
	if !ok {
		return Dynamic{}, fmt.Errorf("%w: unknown root %q", ErrInvalidPath, tokens[0])
	}
	enc, ok := api.ParseEncoding(tokens[1])
	if !ok {
		return Dynamic{}, fmt.Errorf("%w: unknown encoding %q", ErrInvalidPath, tokens[1])
	}
	return Dynamic{
		Root:     root,
		Encoding: enc,
		Options:  tokens[2 : len(tokens)-1],
		Last:     tokens[len(tokens)-1],
	}, nil
}

// Kind classifies d by its last component.
func (d Dynamic) Kind() Kind {
	if isOption(d.Last) {
		return OptionDirectory
	}
	return SpecLink
}

func isOption(token string) bool {
	return token != "" && (token[0] == '#' || token[0] == '-')
}

// Classify is the pure classification of a token sequence.
func Classify(tokens []string) Kind {
	d, err := Parse(tokens)
	if err != nil {
		return Invalid
	}
	return d.Kind()
}

// Resolve turns a symlink path into the build it denotes: the last
// component is decoded under the path's encoding and the components in
// between become option tokens. A spec that decodes to contain a NUL byte
// cannot be passed as an argument and is rejected as undecodable.
func Resolve(path string) (nixbuild.Request, error) {
	d, err := Parse(Tokenize(path))
	if err != nil {
		return nixbuild.Request{}, err
	}
	spec, err := codec.DecodeString(d.Encoding, d.Last)
	if err != nil {
		return nixbuild.Request{}, err
	}
	if strings.IndexByte(spec, 0) >= 0 {
		return nixbuild.Request{}, fmt.Errorf("%w: NUL byte in %q", codec.ErrDecode, d.Last)
	}
	return nixbuild.Request{
		Root:    d.Root,
		Options: d.Options,
		Spec:    spec,
	}, nil
}
