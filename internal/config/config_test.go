package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/plgpack/internal/archive"
)

// TestDefaultIsValid keeps the built-in cloudflared layout loadable.
func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	settings := Default()
	require.NoError(t, Validate(settings))
	require.Equal(t, archive.CompressionXZ, settings.Package.Compression)
	require.Contains(t, settings.Package.RequiredFiles, "scripts/install.sh")
	require.Equal(t, []Symlink{{Link: "cloudflared.png", Target: "images/cloudflared.png"}}, settings.Package.Symlinks)
}

// TestValidate checks required fields and path shapes.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"absolute build dir", func(s *Settings) { s.BuildDir = "/tmp/build" }},
		{"escaping source dir", func(s *Settings) { s.SourceDir = "../elsewhere" }},
		{"empty config file", func(s *Settings) { s.ConfigFile = "" }},
		{"manifest with directory", func(s *Settings) { s.ManifestName = "plugin/x.plg" }},
		{"binary dot dot", func(s *Settings) { s.Upstream.Binary = ".." }},
		{"escaping required file", func(s *Settings) { s.Package.RequiredFiles = append(s.Package.RequiredFiles, "../etc/passwd") }},
		{"absolute symlink target", func(s *Settings) { s.Package.Symlinks = []Symlink{{Link: "a", Target: "/etc"}} }},
		{"unknown compression", func(s *Settings) { s.Package.Compression = "bzip2" }},
		{"ftp upstream", func(s *Settings) { s.Upstream.URL = "ftp://example.com/x" }},
		{"relative upstream", func(s *Settings) { s.Upstream.URL = "/releases/x" }},
		{"blank archive name", func(s *Settings) { s.Package.ArchiveName = "  " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			settings := Default()
			tt.mutate(settings)
			require.Error(t, Validate(settings))
		})
	}
}

// TestValidateFillsOptionalDefaults checks zero values get sensible defaults.
func TestValidateFillsOptionalDefaults(t *testing.T) {
	t.Parallel()

	settings := Default()
	settings.Upstream.Timeout = 0
	settings.Package.ScriptSuffix = ""
	settings.Package.Compression = ""

	require.NoError(t, Validate(settings))
	require.Equal(t, 5*time.Minute, settings.Upstream.Timeout)
	require.Equal(t, ".sh", settings.Package.ScriptSuffix)
	require.Equal(t, archive.CompressionXZ, settings.Package.Compression)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plgpack.yaml")

	settings := Default()
	settings.Name = "tunnel"
	settings.Package.Compression = archive.CompressionZstd
	settings.Upstream.Timeout = 90 * time.Second

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings, loaded)
}

// TestLoadOverridesDefaults checks partial files keep the remaining defaults.
func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plgpack.yaml")
	contents := "name: tunnel\npackage:\n  compression: zstd\n  directories:\n    - pages\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "tunnel", loaded.Name)
	require.Equal(t, archive.CompressionZstd, loaded.Package.Compression)
	require.Equal(t, []string{"pages"}, loaded.Package.Directories)
	require.Equal(t, Default().BuildDir, loaded.BuildDir)
	require.Equal(t, Default().Upstream.URL, loaded.Upstream.URL)
}

// TestLoadEdgeCases covers empty paths, empty files and unknown keys.
func TestLoadEdgeCases(t *testing.T) {
	t.Parallel()

	loaded, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), loaded)

	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	loaded, err = Load(empty)
	require.NoError(t, err)
	require.Equal(t, Default(), loaded)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("colour: blue\n"), 0o600))

	_, err = Load(unknown)
	require.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
