package storage

import (
	"path/filepath"
	"runtime"
	"strings"
)

// CanonicalPathKey returns the identity key used to match a file under any
// alias: the absolute, symlink-resolved, cleaned path with forward slashes.
// On case-insensitive platforms the key is lower-cased.
//
// When the file does not exist the cleaned absolute path is used as-is.
func CanonicalPathKey(path string) string {
	if path == "" {
		return ""
	}
	p := path
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		p = strings.ToLower(p)
	}
	return p
}
