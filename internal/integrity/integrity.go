package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrMismatch is returned when a file does not hash to the expected digest.
var ErrMismatch = errors.New("sha256 verification failed")

// MismatchError carries both sides of a failed comparison.
type MismatchError struct {
	// Path is the verified file.
	Path string
	// Expected is the pinned digest.
	Expected string
	// Actual is the digest of the file content.
	Actual string
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %s: expected %s, got %s", ErrMismatch, e.Path, e.Expected, e.Actual)
}

// Unwrap allows errors.Is(err, ErrMismatch).
func (e *MismatchError) Unwrap() error {
	return ErrMismatch
}

// Digest returns the hex-encoded SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// DigestFile returns the hex-encoded SHA-256 of the whole file.
func DigestFile(path string) (string, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	return Digest(contents), nil
}

// Verify fails with *MismatchError unless the file content hashes to expected.
func Verify(path, expected string) error {
	actual, err := DigestFile(path)
	if err != nil {
		return err
	}

	if actual != strings.ToLower(strings.TrimSpace(expected)) {
		return &MismatchError{
			Path:     path,
			Expected: expected,
			Actual:   actual,
		}
	}

	return nil
}
