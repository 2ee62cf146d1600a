package tree

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrPackageIncomplete is returned when required files are missing from a staged tree.
var ErrPackageIncomplete = errors.New("missing files in package")

// IncompleteError lists every required file that is absent.
type IncompleteError struct {
	// Missing holds the required paths that were not found, in input order.
	Missing []string
}

// Error implements the error interface.
func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPackageIncomplete, strings.Join(e.Missing, ", "))
}

// Unwrap allows errors.Is(err, ErrPackageIncomplete).
func (e *IncompleteError) Unwrap() error {
	return ErrPackageIncomplete
}

// VerifyRequiredFiles checks that each path in required is a regular file under root.
// A symlink resolving to a regular file counts.
func VerifyRequiredFiles(root string, required []string) error {
	var missing []string

	for _, rel := range required {
		info, err := os.Stat(filepath.Join(root, rel))

		switch {
		case err == nil && info.Mode().IsRegular():
			continue
		case err == nil, errors.Is(err, fs.ErrNotExist):
			missing = append(missing, rel)
		default:
			return fmt.Errorf("stat %s: %w", rel, err)
		}
	}

	if len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}

	return nil
}

// ApplyPermissions walks root and sets DirMode on directories, ScriptMode on
// files ending in scriptSuffix and FileMode on every other regular file.
// Symlinks are left untouched.
func ApplyPermissions(root, scriptSuffix string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		var mode os.FileMode

		switch {
		case entry.Type()&fs.ModeSymlink != 0:
			return nil
		case entry.IsDir():
			mode = DirMode
		case !entry.Type().IsRegular():
			return nil
		case scriptSuffix != "" && strings.HasSuffix(entry.Name(), scriptSuffix):
			mode = ScriptMode
		default:
			mode = FileMode
		}

		if err = os.Chmod(path, mode); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}

		return nil
	})
}
