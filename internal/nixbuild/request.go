// Package nixbuild runs "nix build" for a single spec and returns the
// output path it prints.
//
// Every call spawns its own process and owns its own pipe. There is no
// caching, no deduplication of identical requests and no timeout: a build
// blocks its caller for as long as nix takes.
package nixbuild

import (
	"strings"

	"github.com/agentic-research/nixfs/api"
)

// preamble is the fixed head of every argument vector.
var preamble = []string{
	"--extra-experimental-features", "nix-command",
	"--extra-experimental-features", "flakes",
	"build",
	"--no-link",
	"--print-out-paths",
}

// Request describes one build.
type Request struct {
	Root api.Root
	// Options are forwarded to nix in order, each with one leading '#'
	// removed.
	Options []string
	// Spec is the decoded flake reference or expression.
	Spec string
}

// Args assembles the argument vector passed to the nix binary.
func (r Request) Args() []string {
	args := make([]string, 0, len(preamble)+len(r.Options)+3)
	args = append(args, preamble...)
	if r.Root.IsExpression() {
		args = append(args, "--impure")
	}
	for _, opt := range r.Options {
		args = append(args, strings.TrimPrefix(opt, "#"))
	}
	if r.Root.IsExpression() {
		args = append(args, "--expr")
	}
	return append(args, r.Spec)
}
