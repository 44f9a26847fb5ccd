package util

import (
	"path/filepath"
	"strings"
)

// SanitizeFilename strips path components and characters that could escape
// the target directory from an untrusted filename. The result is safe to
// join under an uploads directory.
func SanitizeFilename(name string) string {
	// Drop any directory components, including Windows-style separators.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if name == "." || name == ".." || name == "/" {
		return "upload"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return "upload"
	}
	return cleaned
}
