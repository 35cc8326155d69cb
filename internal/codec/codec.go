// Package codec decodes the final component of a dynamic path into the
// build spec it carries. Decoders work on bytes and report the decoded
// length through the returned slice, so embedded NUL bytes survive.
package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	"github.com/agentic-research/nixfs/api"
)

// ErrDecode is returned when a component is not valid under its encoding.
var ErrDecode = errors.New("decode error")

// Decode recovers the spec bytes from an encoded path component.
func Decode(enc api.Encoding, in []byte) ([]byte, error) {
	switch enc {
	case api.Str:
		return bytes.Clone(in), nil
	case api.B64:
		return decodeBase64(in)
	case api.URLEnc:
		return decodeURL(in)
	}
	return nil, fmt.Errorf("%w: unknown encoding %v", ErrDecode, enc)
}

// DecodeString is Decode for string components.
func DecodeString(enc api.Encoding, in string) (string, error) {
	out, err := Decode(enc, []byte(in))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// urlSafe maps the URL-safe alphabet back onto the standard one so that
// either alphabet is accepted.
var urlSafe = [256]byte{}

func init() {
	for i := range urlSafe {
		urlSafe[i] = byte(i)
	}
	urlSafe['-'] = '+'
	urlSafe['_'] = '/'
}

func decodeBase64(in []byte) ([]byte, error) {
	src := make([]byte, len(in))
	for i, c := range in {
		src[i] = urlSafe[c]
	}

	// Padding is optional, but when present it must be canonical.
	enc := base64.RawStdEncoding
	if bytes.IndexByte(src, '=') >= 0 {
		enc = base64.StdEncoding
	}

	// The decoder skips '\r' and '\n' on its own.
	out := make([]byte, enc.DecodedLen(len(src)))
	n, err := enc.Decode(out, src)
	if err != nil {
		return nil, fmt.Errorf("%w: b64: %v", ErrDecode, err)
	}
	return out[:n], nil
}

func decodeURL(in []byte) ([]byte, error) {
	out, err := url.QueryUnescape(string(in))
	if err != nil {
		return nil, fmt.Errorf("%w: urlenc: %v", ErrDecode, err)
	}
	return []byte(out), nil
}
