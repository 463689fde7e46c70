package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateName checks that name is usable as a single directory entry:
// non-empty, not "." or "..", and free of separators.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name %q is reserved", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("name %q contains a separator", name)
	}
	return nil
}

// SecureJoin joins elements onto base and fails if the result leaves base.
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)
	if fullPath != cleanBase && !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes base directory %s", fullPath, cleanBase)
	}
	return fullPath, nil
}
