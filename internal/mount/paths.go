package mount

import (
	gopath "path"
	"strings"

	"github.com/tarbox/tarbox/pkg/errors"
)

// Canonicalize validates and normalizes an absolute virtual path. Dot and
// dot-dot components are rejected rather than resolved: frontends hand the
// core canonical paths.
func Canonicalize(p string) (string, error) {
	if p == "" || p[0] != '/' {
		return "", errors.Newf(errors.KindInvalidArgument, "path %q is not absolute", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == "." || part == ".." {
			return "", errors.Newf(errors.KindInvalidArgument, "path %q contains relative components", p)
		}
	}
	clean := gopath.Clean(p)
	if clean == "" {
		clean = "/"
	}
	return clean, nil
}

// IsPathPrefix reports whether prefix covers p in path terms: equal, or p is
// strictly inside the directory prefix.
func IsPathPrefix(prefix, p string) bool {
	if prefix == p {
		return true
	}
	if prefix == "/" {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// RelativeTo returns p relative to base, with "/" for an exact match.
func RelativeTo(base, p string) string {
	if base == p {
		return "/"
	}
	if base == "/" {
		return p
	}
	return strings.TrimPrefix(p, base)
}
