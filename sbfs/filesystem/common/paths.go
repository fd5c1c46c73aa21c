package common

import (
	"fmt"
	"path"
	"strings"
)

// Sandbox paths are always slash-separated, absolute and rooted at "/",
// regardless of the host platform. These helpers keep every package that
// touches a fullPath on the same normalization rules.

// NormalizeFullPath cleans a sandbox-absolute path. Backslashes are treated
// as separators so Windows-style input cannot smuggle segments past the
// cleaner. The result always starts with "/" and never ends with a trailing
// slash unless it is the root itself.
func NormalizeFullPath(p string) string {
	normalized := strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	normalized = path.Clean(normalized)
	return normalized
}

// ResolvePath resolves a relative or absolute sandbox path against a base
// directory fullPath. Relative segments (including "..") are honored, but a
// resolution that would climb above the sandbox root fails with ErrSecurity.
func ResolvePath(base, target string) (string, error) {
	if strings.Contains(target, "\x00") {
		return "", fmt.Errorf("path %q: %w", target, ErrEncoding)
	}

	// Walk the segments by hand: path.Clean would silently clamp a rooted
	// ".." instead of reporting the escape.
	normalized := strings.ReplaceAll(target, "\\", "/")
	var segments []string
	if !strings.HasPrefix(normalized, "/") {
		segments = SplitPathSegments(base)
	}
	for _, seg := range strings.Split(normalized, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segments) == 0 {
				return "", fmt.Errorf("path %q escapes the sandbox root: %w", target, ErrSecurity)
			}
			segments = segments[:len(segments)-1]
		default:
			segments = append(segments, seg)
		}
	}

	return "/" + strings.Join(segments, "/"), nil
}

// SplitPathSegments splits a sandbox path into clean, non-empty segments.
func SplitPathSegments(p string) []string {
	cleaned := NormalizeFullPath(p)
	parts := strings.Split(cleaned, "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s == "" || s == "." {
			continue
		}
		out = append(out, s)
	}
	return out
}

// BaseName returns the final segment of a sandbox path. The root has no name.
func BaseName(p string) string {
	cleaned := NormalizeFullPath(p)
	if cleaned == "/" {
		return ""
	}
	return path.Base(cleaned)
}

// ParentPath returns the fullPath of the containing directory. The parent of
// the root is the root itself.
func ParentPath(p string) string {
	cleaned := NormalizeFullPath(p)
	if cleaned == "/" {
		return "/"
	}
	return path.Dir(cleaned)
}

// IsAncestor reports whether ancestor strictly contains descendant.
func IsAncestor(ancestor, descendant string) bool {
	a := NormalizeFullPath(ancestor)
	d := NormalizeFullPath(descendant)
	if a == d {
		return false
	}
	if a == "/" {
		return true
	}
	return strings.HasPrefix(d, a+"/")
}
