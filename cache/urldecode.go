// Package cache implements the persistent bundle cache (spec.md §4.1):
// BundleArchive, its Revision variants, and the BundleCache that owns the
// cache root directory across process restarts.
package cache

import "strings"

// DecodeReferenceLocation percent-decodes a reference:file: path segment
// per spec.md §4.1 "URL decoding": %HH decodes to a byte, and sequences of
// %HH bytes are interpreted as UTF-8. Unlike net/url.PathUnescape, this
// operates on a raw filesystem path that may contain characters url.Parse
// would reject as invalid for a URL (this is deliberately not a URL).
func DecodeReferenceLocation(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			out = append(out, hexByte(s[i+1], s[i+2]))
			i += 2
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexVal(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return b - 'A' + 10
	}
}

func hexByte(hi, lo byte) byte {
	return hexVal(hi)<<4 | hexVal(lo)
}

// StripReferencePrefix removes a "reference:" prefix if present, returning
// the remainder and whether the prefix was found.
func StripReferencePrefix(location string) (string, bool) {
	const prefix = "reference:"
	if strings.HasPrefix(location, prefix) {
		return location[len(prefix):], true
	}
	return location, false
}

// StripFileScheme removes a "file:" scheme prefix if present.
func StripFileScheme(location string) (string, bool) {
	const prefix = "file:"
	if strings.HasPrefix(location, prefix) {
		return location[len(prefix):], true
	}
	return location, false
}
