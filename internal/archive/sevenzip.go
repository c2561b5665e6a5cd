package archive

import (
	"fmt"

	"github.com/bodgit/sevenzip"
)

func listSevenZip(path string, limit int) ([]Entry, error) {
	reader, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open 7z archive: %w", err)
	}
	defer reader.Close()

	if err := checkLimit(len(reader.File), limit); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(reader.File))
	for _, file := range reader.File {
		entries = append(entries, Entry{
			Name:     file.Name,
			Size:     int64(file.UncompressedSize),
			IsDir:    file.FileInfo().IsDir(),
			Modified: file.Modified,
		})
	}
	return entries, nil
}
