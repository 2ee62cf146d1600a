package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/oshokin/plgpack/internal/logger"
)

// Supported compression names.
const (
	CompressionXZ   = "xz"
	CompressionZstd = "zstd"
)

// DefaultXZBinary is looked up on PATH when no explicit compressor path is configured.
const DefaultXZBinary = "xz"

var (
	// ErrCompressionFailed is returned when the compressor cannot produce the package.
	ErrCompressionFailed = errors.New("compression failed")
	// errUnsupportedCompression is returned for unknown compression names.
	errUnsupportedCompression = errors.New("unsupported compression")
)

// Compressor turns an uncompressed tar container into a compressed package.
//
//go:generate mockgen -destination=../service/packager/mocks/compressor_mock.go -package=mocks -mock_names=Compressor=MockCompressor github.com/oshokin/plgpack/internal/archive Compressor
type Compressor interface {
	// Compress compresses the file at path and returns the location of the result.
	// The input may be consumed.
	Compress(ctx context.Context, path string) (string, error)
	// Extension is the package file suffix for this format, e.g. ".txz".
	Extension() string
}

// CompressionError carries the compressor's diagnostics.
type CompressionError struct {
	// Tool names the compressor.
	Tool string
	// Output is the captured diagnostic output.
	Output string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *CompressionError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %s: %v", ErrCompressionFailed, e.Tool, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v: %s", ErrCompressionFailed, e.Tool, e.Err, e.Output)
}

// Unwrap exposes both ErrCompressionFailed and the underlying error.
func (e *CompressionError) Unwrap() []error {
	return []error{ErrCompressionFailed, e.Err}
}

// NewCompressor returns the compressor registered under name.
// xzBinary overrides the xz executable; empty means DefaultXZBinary.
//
//nolint:ireturn // Callers pick the implementation by name.
func NewCompressor(name, xzBinary string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CompressionXZ, "":
		return NewXZCompressor(xzBinary), nil
	case CompressionZstd:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedCompression, name)
	}
}

// IsSupportedCompression reports whether name selects a known compressor.
func IsSupportedCompression(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CompressionXZ, CompressionZstd:
		return true
	default:
		return false
	}
}

// ExecCompressor runs an external compressor that replaces its input with "<input><Suffix>".
type ExecCompressor struct {
	// Binary is the executable to run.
	Binary string
	// Args precede the input path on the command line.
	Args []string
	// Suffix is what the tool appends to the input name.
	Suffix string
	// PackageExtension is returned by Extension.
	PackageExtension string
}

// NewXZCompressor runs "xz -9 -f" for maximum ratio.
func NewXZCompressor(binary string) *ExecCompressor {
	if binary == "" {
		binary = DefaultXZBinary
	}

	return &ExecCompressor{
		Binary:           binary,
		Args:             []string{"-9", "-f"},
		Suffix:           ".xz",
		PackageExtension: ".txz",
	}
}

// Extension implements Compressor.
func (c *ExecCompressor) Extension() string {
	return c.PackageExtension
}

// Compress implements Compressor.
func (c *ExecCompressor) Compress(ctx context.Context, path string) (string, error) {
	var (
		args   = append(slices.Clone(c.Args), path)
		output = path + c.Suffix
		stdout bytes.Buffer
		stderr bytes.Buffer
	)

	logger.InfoKV(ctx, "Compressing archive", "tool", c.Binary, "args", strings.Join(args, " "))

	//nolint:gosec // The compressor binary comes from trusted build settings.
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(output)

		logger.ErrorKV(ctx, "Compressor failed", "tool", c.Binary, "error", err, "stderr", stderr.String())

		return "", &CompressionError{
			Tool:   c.Binary,
			Output: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	if stdout.Len() > 0 {
		logger.DebugKV(ctx, "Compressor output", "tool", c.Binary, "stdout", stdout.String())
	}

	if _, err := os.Stat(output); err != nil {
		return "", &CompressionError{
			Tool: c.Binary,
			Err:  fmt.Errorf("expected output %s: %w", filepath.Base(output), err),
		}
	}

	return output, nil
}

// ZstdCompressor compresses in-process with zstd at its best-compression level.
type ZstdCompressor struct {
	// level is the zstd encoder level.
	level zstd.EncoderLevel
}

// NewZstdCompressor creates a ZstdCompressor.
func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{
		level: zstd.SpeedBestCompression,
	}
}

// Extension implements Compressor.
func (c *ZstdCompressor) Extension() string {
	return ".tzst"
}

// Compress implements Compressor.
func (c *ZstdCompressor) Compress(ctx context.Context, path string) (string, error) {
	output := path + ".zst"

	logger.InfoKV(ctx, "Compressing archive", "tool", CompressionZstd, "level", c.level.String())

	if err := c.compress(ctx, path, output); err != nil {
		_ = os.Remove(output)

		return "", &CompressionError{
			Tool: CompressionZstd,
			Err:  err,
		}
	}

	return output, nil
}

func (c *ZstdCompressor) compress(ctx context.Context, path, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(filepath.Clean(output))
	if err != nil {
		return err
	}

	encoder, err := zstd.NewWriter(out, zstd.WithEncoderLevel(c.level))
	if err != nil {
		_ = out.Close()

		return err
	}

	if _, err = io.Copy(encoder, in); err != nil {
		_ = encoder.Close()
		_ = out.Close()

		return err
	}

	if err = encoder.Close(); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}
