package archive

import (
	"errors"
	"time"
)

type Format string

const (
	Format7z    Format = "7z"
	FormatZip   Format = "zip"
	FormatTar   Format = "tar"
	FormatTarGz Format = "tar.gz"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	ErrTooManyEntries    = errors.New("archive has too many entries")
	ErrUnsafeEntry       = errors.New("entry resolves outside the destination")
)

// Entry is one member of an archive. Unsafe marks names that would be
// written outside the destination directory on extraction.
type Entry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"isDir"`
	Modified time.Time `json:"modified,omitempty"`
	Unsafe   bool      `json:"unsafe,omitempty"`
}

type ListResponse struct {
	Path    string  `json:"path"`
	Format  Format  `json:"format"`
	Entries []Entry `json:"entries"`
}
