// Package paths provides path normalization for source files, endpoint
// paths, and artifact file names.
package paths

import (
	"path/filepath"
	"strings"
)

// NormalizeSourcePath converts a source file path to the canonical
// repo-relative form with forward slashes.
func NormalizeSourcePath(path string) string {
	return filepath.ToSlash(path)
}

// NormalizeEndpointPath normalizes an endpoint path: leading slash,
// no duplicate slashes, no trailing slash, "/" when empty.
func NormalizeEndpointPath(path string) string {
	if path == "" {
		return "/"
	}
	path = strings.ReplaceAll(path, "\\", "/")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// JoinEndpointPaths concatenates a class-level base path with a
// method-level fragment and normalizes the result.
func JoinEndpointPaths(base, fragment string) string {
	return NormalizeEndpointPath(base + "/" + fragment)
}

// EndpointKey builds the stable identity of an endpoint from its HTTP
// method and normalized path. The same (method, path) pair always yields
// the same key regardless of declaring class, method, or line.
func EndpointKey(httpMethod, path string) string {
	return strings.ToUpper(httpMethod) + "_" + NormalizeEndpointPath(path)
}

// SplitEndpointKey splits an endpoint key back into method and path.
func SplitEndpointKey(key string) (method, path string, ok bool) {
	i := strings.Index(key, "_")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// ArtifactFileName derives the deterministic artifact file name for an
// endpoint key, e.g. "PUT_/accounts" -> "PUT_accounts.feature".
// The root path maps to "root" so it never produces an empty stem.
func ArtifactFileName(key string) string {
	method, path, ok := SplitEndpointKey(key)
	if !ok {
		method, path = key, "/"
	}
	stem := strings.Trim(strings.ReplaceAll(path, "/", "_"), "_")
	if stem == "" {
		stem = "root"
	}
	return method + "_" + stem + ".feature"
}

// UnderTestDir reports whether any segment of the path matches one of
// the given test directory names (case-insensitive).
func UnderTestDir(path string, testDirs []string) bool {
	for _, part := range strings.Split(NormalizeSourcePath(path), "/") {
		lower := strings.ToLower(part)
		for _, dir := range testDirs {
			if lower == dir {
				return true
			}
		}
	}
	return false
}
