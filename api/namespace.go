package api

import "fmt"

// Root selects how the spec at the end of a path is interpreted by the
// build tool. It is always the first path component of a dynamic node.
type Root int

const (
	// Flake roots interpret the spec as a flake reference.
	Flake Root = iota + 1
	// Expr roots interpret the spec as a Nix expression.
	Expr
)

// Roots lists every namespace root in table order.
var Roots = []Root{Flake, Expr}

func (r Root) String() string {
	switch r {
	case Flake:
		return "flake"
	case Expr:
		return "expr"
	}
	return fmt.Sprintf("Root(%d)", int(r))
}

// IsExpression reports whether specs under r are evaluated as expressions.
func (r Root) IsExpression() bool { return r == Expr }

// ParseRoot maps a path component to a Root.
func ParseRoot(name string) (Root, bool) {
	for _, r := range Roots {
		if r.String() == name {
			return r, true
		}
	}
	return 0, false
}

// Encoding selects how the final path component is decoded into a spec.
// It is always the second path component of a dynamic node.
type Encoding int

const (
	// Str passes the component through unchanged.
	Str Encoding = iota + 1
	// B64 is URL-safe base64.
	B64
	// URLEnc is percent-encoding with '+' for space.
	URLEnc
)

// Encodings lists every encoding in directory-listing order.
var Encodings = []Encoding{B64, Str, URLEnc}

func (e Encoding) String() string {
	switch e {
	case Str:
		return "str"
	case B64:
		return "b64"
	case URLEnc:
		return "urlenc"
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// ParseEncoding maps a path component to an Encoding.
func ParseEncoding(name string) (Encoding, bool) {
	for _, e := range Encodings {
		if e.String() == name {
			return e, true
		}
	}
	return 0, false
}
