package validation

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrInvalidPath       = errors.New("invalid path")
	ErrPathTraversal     = errors.New("path traversal detected")
	ErrInvalidCharacters = errors.New("invalid characters in input")
	ErrInvalidOperation  = errors.New("invalid operation id")
	ErrOutsideRoot       = errors.New("path must be within the workspace")
)

const maxRelativePathLength = 1024

// Control characters and the characters 7-Zip treats as switch or wildcard
// syntax are never accepted in caller-supplied paths.
var invalidPathChars = regexp.MustCompile(`[\x00-\x1f\x7f*?"<>|]`)

var validOperationIDRegex = regexp.MustCompile(`^[a-fA-F0-9-]{36}$`)

// ValidateRelativePath accepts slash-separated paths relative to the
// workspace root. Absolute paths, parent references and leading dashes
// (which 7-Zip would read as a switch) are rejected.
func ValidateRelativePath(rel string) error {
	if rel == "" || len(rel) > maxRelativePathLength {
		return ErrInvalidPath
	}

	if invalidPathChars.MatchString(rel) {
		return ErrInvalidCharacters
	}

	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return ErrPathTraversal
	}

	for _, segment := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return ErrPathTraversal
		}
		if strings.HasPrefix(segment, "-") {
			return ErrInvalidCharacters
		}
	}

	return nil
}

func ValidateOperationID(id string) error {
	if !validOperationIDRegex.MatchString(id) {
		return ErrInvalidOperation
	}
	return nil
}

// SanitizeWorkspacePath joins rel onto root and guarantees the result is
// still inside root.
func SanitizeWorkspacePath(root, rel string) (string, error) {
	if err := ValidateRelativePath(rel); err != nil {
		return "", err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	absPath := filepath.Clean(filepath.Join(absRoot, filepath.FromSlash(rel)))

	relPath, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return "", ErrPathTraversal
	}

	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	return absPath, nil
}

// EnsureWithinRoot checks path against root after resolving symlinks, so a
// link inside the workspace cannot point an operation elsewhere. Paths that
// do not exist yet are judged by their nearest existing parent.
func EnsureWithinRoot(path, root string) error {
	resolvedRoot, err := resolve(root)
	if err != nil {
		return err
	}
	resolvedPath, err := resolve(path)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(resolvedRoot, resolvedPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return ErrOutsideRoot
	}
	return nil
}

func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if os.IsNotExist(err) && filepath.Dir(abs) != abs {
		parent, err := resolve(filepath.Dir(abs))
		if err != nil {
			return "", err
		}
		return filepath.Join(parent, filepath.Base(abs)), nil
	}
	return resolved, err
}
