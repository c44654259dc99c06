package images

import (
	"net/url"
	"strings"
)

// EncodeName percent-encodes a logical image or VM name for safe use as a
// filesystem path component: standard URL path-segment escaping (so " "
// becomes "%20", "/" becomes "%2F"), plus "-" is additionally escaped to
// "%2D" since "-" is the disk-index separator in overlay file names.
func EncodeName(name string) string {
	escaped := url.PathEscape(name)
	return strings.ReplaceAll(escaped, "-", "%2D")
}

// DecodeName reverses EncodeName.
func DecodeName(encoded string) (string, error) {
	return url.PathUnescape(encoded)
}
