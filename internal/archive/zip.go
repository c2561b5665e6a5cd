package archive

import (
	"archive/zip"
	"errors"
	"fmt"
)

func listZip(path string, limit int) ([]Entry, error) {
	// Insecure names are still listed; List flags them as unsafe.
	reader, err := zip.OpenReader(path)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("failed to open zip file: %w", err)
	}
	defer reader.Close()

	if err := checkLimit(len(reader.File), limit); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(reader.File))
	for _, file := range reader.File {
		entries = append(entries, Entry{
			Name:     file.Name,
			Size:     int64(file.UncompressedSize64),
			IsDir:    file.FileInfo().IsDir(),
			Modified: file.Modified,
		})
	}
	return entries, nil
}
