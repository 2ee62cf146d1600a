package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/oshokin/plgpack/internal/logger"
)

const (
	// memberPrefix starts every member name.
	memberPrefix = "./"

	// ownerName is recorded for every member; packages install as root.
	ownerName = "root"

	// PackageMode is the permission of every produced package.
	PackageMode os.FileMode = 0o644
)

var (
	// errContainerMismatch is returned when the written container differs from the staged tree.
	errContainerMismatch = errors.New("archive container does not match staged tree")
	// errUnsupportedMember is returned for tree entries tar cannot represent.
	errUnsupportedMember = errors.New("unsupported tree entry")
)

// Builder produces compressed archives of directory trees.
type Builder struct {
	// compressor turns the uncompressed container into the final package.
	compressor Compressor
}

// NewBuilder creates a Builder using the given compressor.
func NewBuilder(compressor Compressor) *Builder {
	return &Builder{
		compressor: compressor,
	}
}

// Extension returns the package file extension of the configured compressor.
func (b *Builder) Extension() string {
	return b.compressor.Extension()
}

// member is one tree entry scheduled for the container.
type member struct {
	// rel is the slash-separated path relative to the source root.
	rel string
	// path is the location on disk.
	path string
}

// Build archives the full recursive contents of sourceDir into outputPath,
// replacing any previous file there. Intermediate files are removed on every path.
func (b *Builder) Build(ctx context.Context, sourceDir, outputPath string) error {
	members, err := collect(sourceDir)
	if err != nil {
		return err
	}

	container, err := os.CreateTemp(filepath.Dir(outputPath), "."+filepath.Base(outputPath)+".*.tar")
	if err != nil {
		return fmt.Errorf("create archive container: %w", err)
	}

	containerPath := container.Name()

	defer func() {
		_ = os.Remove(containerPath)
	}()

	fingerprints, err := writeContainer(container, members)
	if closeErr := container.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close archive container: %w", closeErr)
	}

	if err != nil {
		return err
	}

	if err = checkContainer(containerPath, fingerprints); err != nil {
		return err
	}

	logger.DebugKV(ctx, "Archive container written", "path", containerPath, "members", len(members))

	compressedPath, err := b.compressor.Compress(ctx, containerPath)
	if err != nil {
		return err
	}

	if err = os.Rename(compressedPath, outputPath); err != nil {
		_ = os.Remove(compressedPath)

		return fmt.Errorf("move archive into place: %w", err)
	}

	// Temp containers are owner-only and compressors carry that mode over.
	if err = os.Chmod(outputPath, PackageMode); err != nil {
		return fmt.Errorf("chmod archive: %w", err)
	}

	return nil
}

// collect lists regular files and symlinks under root in lexical depth-first order.
func collect(root string) ([]member, error) {
	var members []member

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		if !entry.Type().IsRegular() && entry.Type()&fs.ModeSymlink == 0 {
			return fmt.Errorf("%s: %w", path, errUnsupportedMember)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		members = append(members, member{
			rel:  filepath.ToSlash(rel),
			path: path,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	return members, nil
}

// writeContainer writes members as an uncompressed tar and returns their fingerprints by member name.
func writeContainer(w io.Writer, members []member) (map[string]uint64, error) {
	var (
		tw           = tar.NewWriter(w)
		fingerprints = make(map[string]uint64, len(members))
	)

	for _, m := range members {
		fingerprint, err := writeMember(tw, m)
		if err != nil {
			return nil, err
		}

		fingerprints[memberPrefix+m.rel] = fingerprint
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive container: %w", err)
	}

	return fingerprints, nil
}

func writeMember(tw *tar.Writer, m member) (uint64, error) {
	info, err := os.Lstat(m.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", m.path, err)
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(m.path); err != nil {
			return 0, fmt.Errorf("readlink %s: %w", m.path, err)
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return 0, fmt.Errorf("header for %s: %w", m.path, err)
	}

	header.Name = memberPrefix + m.rel
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = ownerName, ownerName

	if err = tw.WriteHeader(header); err != nil {
		return 0, fmt.Errorf("write header for %s: %w", m.rel, err)
	}

	if header.Typeflag == tar.TypeSymlink {
		return xxhash.Sum64String(link), nil
	}

	file, err := os.Open(m.path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", m.path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	digest := xxhash.New()
	if _, err = io.Copy(io.MultiWriter(tw, digest), file); err != nil {
		return 0, fmt.Errorf("write %s: %w", m.rel, err)
	}

	return digest.Sum64(), nil
}

// checkContainer re-reads the container and matches it entry-for-entry against fingerprints.
func checkContainer(path string, fingerprints map[string]uint64) error {
	entries, err := Entries(path)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		want, ok := fingerprints[entry.Name]
		if !ok {
			return fmt.Errorf("%w: unexpected member %s", errContainerMismatch, entry.Name)
		}

		if _, dup := seen[entry.Name]; dup {
			return fmt.Errorf("%w: duplicate member %s", errContainerMismatch, entry.Name)
		}

		if entry.Fingerprint != want {
			return fmt.Errorf("%w: content of %s differs", errContainerMismatch, entry.Name)
		}

		seen[entry.Name] = struct{}{}
	}

	if len(seen) != len(fingerprints) {
		return fmt.Errorf("%w: %d of %d members written", errContainerMismatch, len(seen), len(fingerprints))
	}

	return nil
}
