package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
)

func listTar(path string, gzipped bool, limit int) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tar file: %w", err)
	}
	defer file.Close()

	var tarReader *tar.Reader
	if gzipped {
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzReader.Close()
		tarReader = tar.NewReader(gzReader)
	} else {
		tarReader = tar.NewReader(file)
	}

	var entries []Entry
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}

		entries = append(entries, Entry{
			Name:     header.Name,
			Size:     header.Size,
			IsDir:    header.Typeflag == tar.TypeDir,
			Modified: header.ModTime,
		})
		if err := checkLimit(len(entries), limit); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
