package buildconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/oshokin/plgpack/internal/atomicfile"
	"github.com/oshokin/plgpack/internal/domain/release"
)

const (
	// jsonIndent matches the four-space layout maintainers keep the record in.
	jsonIndent = "    "

	// DefaultFilePermissions is applied when the record is rewritten.
	DefaultFilePermissions os.FileMode = 0o644
)

// errNotObject is returned when the record is valid JSON but not an object.
var errNotObject = errors.New("top-level value must be an object")

// Repository defines persistence operations for the build config.
type Repository interface {
	Load(ctx context.Context) (*release.BuildConfig, error)
	Save(ctx context.Context, cfg *release.BuildConfig) error
}

// FileRepository persists the build config to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON record.
	path string
	// mu serialises reads and writes of the record.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the location of the record.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads and validates the record.
func (r *FileRepository) Load(_ context.Context) (*release.BuildConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", release.ErrConfigMissing, r.path)
		}

		return nil, fmt.Errorf("read build config: %w", err)
	}

	cfg, err := decode(contents)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", release.ErrConfigMalformed, r.path, err)
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", r.path, err)
	}

	return cfg, nil
}

// Save validates the record and replaces the file atomically.
func (r *FileRepository) Save(_ context.Context, cfg *release.BuildConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := encode(cfg)
	if err != nil {
		return fmt.Errorf("encode build config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err = atomicfile.Write(r.path, data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write build config: %w", err)
	}

	return nil
}

// decode splits the JSON object into known string fields and preserved extras.
func decode(contents []byte) (*release.BuildConfig, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(contents, &raw); err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, errNotObject
	}

	values := make(map[string]string, len(release.KnownKeys()))

	for _, key := range release.KnownKeys() {
		value, ok := raw[key]
		if !ok {
			continue
		}

		delete(raw, key)

		var s *string
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, fmt.Errorf("key %q must be a string: %w", key, err)
		}

		if s != nil {
			values[key] = *s
		}
	}

	cfg := &release.BuildConfig{
		Version:          values[release.KeyVersion],
		UpstreamVersion:  values[release.KeyUpstreamVersion],
		UpstreamSHA256:   values[release.KeyUpstreamSHA256],
		PackageVersion:   values[release.KeyPackageVersion],
		Author:           values[release.KeyAuthor],
		SourceRepository: values[release.KeySourceRepository],
		PackageSHA256:    values[release.KeyPackageSHA256],
	}

	if len(raw) > 0 {
		cfg.Extra = raw
	}

	return cfg, nil
}

// encode writes known keys in declaration order, then extras sorted by name.
func encode(cfg *release.BuildConfig) ([]byte, error) {
	var (
		compact bytes.Buffer
		fields  = cfg.Fields()
		first   = true
	)

	appendMember := func(key string, value []byte) error {
		if !first {
			compact.WriteByte(',')
		}

		first = false

		encodedKey, err := marshalString(key)
		if err != nil {
			return err
		}

		compact.Write(encodedKey)
		compact.WriteByte(':')

		return json.Compact(&compact, value)
	}

	compact.WriteByte('{')

	for _, key := range release.KnownKeys() {
		value := fields[key]
		if key == release.KeyPackageSHA256 && value == "" {
			continue
		}

		encoded, err := marshalString(value)
		if err != nil {
			return nil, err
		}

		if err = appendMember(key, encoded); err != nil {
			return nil, err
		}
	}

	extraKeys := make([]string, 0, len(cfg.Extra))
	for key := range cfg.Extra {
		if _, known := fields[key]; !known {
			extraKeys = append(extraKeys, key)
		}
	}

	slices.Sort(extraKeys)

	for _, key := range extraKeys {
		if err := appendMember(key, cfg.Extra[key]); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
	}

	compact.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", jsonIndent); err != nil {
		return nil, err
	}

	out.WriteByte('\n')

	return out.Bytes(), nil
}

// marshalString encodes s without HTML escaping so URLs and e-mail addresses stay readable.
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(s); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
