package library

import (
	"errors"
	"path/filepath"
	"strings"
)

var errInvalidID = errors.New("invalid clip id")

// cleanID rejects ids that could escape the library directory or match
// other ids' files by prefix.
func cleanID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." {
		return "", errInvalidID
	}
	if strings.ContainsAny(id, `/\*?[]`) || strings.Contains(id, "..") {
		return "", errInvalidID
	}
	return id, nil
}

// sanitizeFilename keeps only the base name of a recorded filename.
func sanitizeFilename(name string) string {
	if name == "" {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return ""
	}
	if strings.ContainsAny(base, "/\\") {
		return ""
	}
	return base
}
