package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateExtractPath returns where name would land under destPath, or
// ErrUnsafeEntry when it escapes. Backslashes count as separators since
// archives written on Windows use them.
func ValidateExtractPath(destPath, name string) (string, error) {
	normalized := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(normalized, "/") || filepath.VolumeName(normalized) != "" {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}

	cleanDest := filepath.Clean(destPath)
	path := filepath.Join(cleanDest, filepath.FromSlash(normalized))

	rel, err := filepath.Rel(cleanDest, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}

	return path, nil
}
