package tree

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

const (
	// DirMode is applied to every staged directory.
	DirMode os.FileMode = 0o755
	// ScriptMode is applied to files carrying the executable script suffix.
	ScriptMode os.FileMode = 0o755
	// FileMode is applied to every other staged file.
	FileMode os.FileMode = 0o644
)

var (
	// ErrSourceTreeMissing is returned when the tree to assemble from does not exist.
	ErrSourceTreeMissing = errors.New("source tree not found")
	// errNotDirectory is returned when the source path is a file.
	errNotDirectory = errors.New("not a directory")
	// errUnsupportedType is returned for sockets, devices and other special files.
	errUnsupportedType = errors.New("unsupported file type")
	// errSymlinkLoop is returned when a linked directory contains itself.
	errSymlinkLoop = errors.New("symlink loop")
)

// Assemble creates every directory named in dirs under dst and then mirrors
// the whole of src into dst. Symlinks in src are followed: linked files are
// copied by content and linked directories are descended into. Directories
// are visited through an explicit queue, so depth is bounded only by the
// filesystem.
func Assemble(src, dst string, dirs []string) error {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceTreeMissing, src)
		}

		return fmt.Errorf("stat source tree: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s: %w", ErrSourceTreeMissing, src, errNotDirectory)
	}

	for _, dir := range append([]string{"."}, dirs...) {
		if err = os.MkdirAll(filepath.Join(dst, dir), DirMode); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	rootReal, err := filepath.EvalSymlinks(src)
	if err != nil {
		return fmt.Errorf("resolve source tree: %w", err)
	}

	queue := []pending{{rel: ".", ancestors: []string{rootReal}}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(filepath.Join(src, current.rel))
		if err != nil {
			return fmt.Errorf("read %s: %w", filepath.Join(src, current.rel), err)
		}

		for _, entry := range entries {
			entryRel := filepath.Join(current.rel, entry.Name())
			from := filepath.Join(src, entryRel)
			to := filepath.Join(dst, entryRel)

			mode := entry.Type()
			if mode&fs.ModeSymlink != 0 {
				target, err := os.Stat(from)
				if err != nil {
					return fmt.Errorf("follow symlink %s: %w", from, err)
				}

				mode = target.Mode().Type()
			}

			switch {
			case mode.IsDir():
				next, err := current.descend(from, entryRel)
				if err != nil {
					return err
				}

				if err = removeIfSymlink(to); err != nil {
					return err
				}

				if err = os.MkdirAll(to, DirMode); err != nil {
					return fmt.Errorf("create %s: %w", to, err)
				}

				queue = append(queue, next)
			case mode.IsRegular():
				if err = copyFile(from, to); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%s: %w", from, errUnsupportedType)
			}
		}
	}

	return nil
}

// pending is a directory waiting to be copied.
type pending struct {
	// rel is the path relative to the source root.
	rel string
	// ancestors holds the resolved paths of rel and every directory above it.
	ancestors []string
}

// descend returns the queue item for the directory at from, failing when
// a symlink leads back into one of its own ancestors.
func (p pending) descend(from, rel string) (pending, error) {
	resolved, err := filepath.EvalSymlinks(from)
	if err != nil {
		return pending{}, fmt.Errorf("resolve %s: %w", from, err)
	}

	if slices.Contains(p.ancestors, resolved) {
		return pending{}, fmt.Errorf("%s -> %s: %w", from, resolved, errSymlinkLoop)
	}

	return pending{rel: rel, ancestors: append(slices.Clone(p.ancestors), resolved)}, nil
}

// CreateSymlink makes link (relative to root) point at target, replacing whatever is at link.
func CreateSymlink(root, link, target string) error {
	path := filepath.Join(root, link)

	if _, err := os.Lstat(path); err == nil {
		if err = os.Remove(path); err != nil {
			return fmt.Errorf("remove existing %s: %w", path, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", path, err)
	}

	if err := os.Symlink(target, path); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", path, target, err)
	}

	return nil
}

// copyFile copies content, permission bits and modification time.
func copyFile(from, to string) error {
	in, err := os.Open(filepath.Clean(from))
	if err != nil {
		return fmt.Errorf("open %s: %w", from, err)
	}

	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}

	if err = removeIfSymlink(to); err != nil {
		return err
	}

	out, err := os.OpenFile(filepath.Clean(to), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", to, err)
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return fmt.Errorf("copy %s: %w", from, err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", to, err)
	}

	if err = os.Chmod(to, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", to, err)
	}

	if err = os.Chtimes(to, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("chtimes %s: %w", to, err)
	}

	return nil
}

// removeIfSymlink keeps a copy from writing through a stale link left in the staging tree.
func removeIfSymlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&fs.ModeSymlink == 0 {
		return nil
	}

	if err = os.Remove(path); err != nil {
		return fmt.Errorf("remove link %s: %w", path, err)
	}

	return nil
}
