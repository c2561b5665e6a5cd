package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultMaxEntries bounds listings served over HTTP.
const DefaultMaxEntries = 10000

type lister func(path string, limit int) ([]Entry, error)

// Inspector lists archive contents without extracting them.
type Inspector struct {
	maxEntries int
	listers    map[Format]lister
}

// NewInspector returns an Inspector that fails with ErrTooManyEntries past
// maxEntries. Zero means unlimited.
func NewInspector(maxEntries int) *Inspector {
	return &Inspector{
		maxEntries: maxEntries,
		listers: map[Format]lister{
			Format7z:    listSevenZip,
			FormatZip:   listZip,
			FormatTar:   func(path string, limit int) ([]Entry, error) { return listTar(path, false, limit) },
			FormatTarGz: func(path string, limit int) ([]Entry, error) { return listTar(path, true, limit) },
		},
	}
}

func DetectFormat(path string) (Format, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(lower, ".7z"):
		return Format7z, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

func (i *Inspector) List(path string) ([]Entry, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	entries, err := i.listers[format](path, i.maxEntries)
	if err != nil {
		return nil, err
	}

	for idx := range entries {
		if _, err := ValidateExtractPath(".", entries[idx].Name); err != nil {
			entries[idx].Unsafe = true
		}
	}
	return entries, nil
}

func checkLimit(count, limit int) error {
	if limit > 0 && count > limit {
		return fmt.Errorf("%w (limit %d)", ErrTooManyEntries, limit)
	}
	return nil
}
