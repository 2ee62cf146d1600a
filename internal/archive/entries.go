package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Entry describes one member of an uncompressed tar container.
type Entry struct {
	// Name is the member path as stored.
	Name string
	// Typeflag is the tar entry type.
	Typeflag byte
	// Mode holds the permission bits.
	Mode int64
	// Size is the content length of regular files.
	Size int64
	// Linkname is the target of symlinks.
	Linkname string
	// Fingerprint is the xxhash of the content, or of Linkname for symlinks.
	Fingerprint uint64
}

// Entries lists every member of the tar container at path.
func Entries(path string) ([]Entry, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open archive container: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	return ReadEntries(file)
}

// ReadEntries lists every member of the tar stream in r.
func ReadEntries(r io.Reader) ([]Entry, error) {
	var (
		tr      = tar.NewReader(r)
		entries []Entry
	)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}

		if err != nil {
			return nil, fmt.Errorf("read archive container: %w", err)
		}

		entry := Entry{
			Name:     header.Name,
			Typeflag: header.Typeflag,
			Mode:     header.Mode,
			Size:     header.Size,
			Linkname: header.Linkname,
		}

		if header.Typeflag == tar.TypeSymlink {
			entry.Fingerprint = xxhash.Sum64String(header.Linkname)
		} else {
			digest := xxhash.New()
			if _, err = io.Copy(digest, tr); err != nil {
				return nil, fmt.Errorf("read member %s: %w", header.Name, err)
			}

			entry.Fingerprint = digest.Sum64()
		}

		entries = append(entries, entry)
	}
}
