package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/plgpack/internal/archive"
	"github.com/oshokin/plgpack/internal/fetch"
)

// Settings describes where a plugin's sources live and how its package is built.
// Relative paths are resolved against the project root.
type Settings struct {
	// Name is the plugin name used in log lines.
	Name string `yaml:"name"`
	// BuildDir receives the fetched binary, staging tree, package and rendered manifest.
	BuildDir string `yaml:"build_dir"`
	// SourceDir holds the plugin files to package.
	SourceDir string `yaml:"source_dir"`
	// InstallPath is where SourceDir lands inside the package.
	InstallPath string `yaml:"install_path"`
	// ConfigFile is the JSON build config record.
	ConfigFile string `yaml:"config_file"`
	// TemplateFile is the manifest template.
	TemplateFile string `yaml:"template_file"`
	// ManifestName is the file name of the rendered manifest.
	ManifestName string `yaml:"manifest_name"`
	// RepositoryManifestDir is the canonical in-repository location of the rendered manifest.
	RepositoryManifestDir string `yaml:"repository_manifest_dir"`
	// Upstream describes the bundled third-party binary.
	Upstream Upstream `yaml:"upstream"`
	// Package describes the staged tree and the archive.
	Package Package `yaml:"package"`
}

// Upstream describes the binary fetched for every build.
type Upstream struct {
	// URL is a template; placeholders are filled from the build config.
	URL string `yaml:"url"`
	// Binary is the file name the download is stored under inside BuildDir.
	Binary string `yaml:"binary"`
	// Timeout bounds the download.
	Timeout time.Duration `yaml:"timeout"`
}

// Package describes the staged tree and the produced archive.
type Package struct {
	// ArchiveName is a template for the archive file name without extension.
	ArchiveName string `yaml:"archive_name"`
	// Compression selects the compressor: xz or zstd.
	Compression string `yaml:"compression"`
	// XZBinary overrides the xz executable.
	XZBinary string `yaml:"xz_binary,omitempty"`
	// Directories must exist in the staged plugin directory even when empty.
	Directories []string `yaml:"directories"`
	// RequiredFiles must exist as regular files in the staged plugin directory.
	RequiredFiles []string `yaml:"required_files"`
	// Symlinks are created inside the staged plugin directory.
	Symlinks []Symlink `yaml:"symlinks"`
	// ScriptSuffix marks files that are made executable.
	ScriptSuffix string `yaml:"script_suffix"`
}

// Symlink is a link inside the staged plugin directory.
type Symlink struct {
	// Link is the path of the link.
	Link string `yaml:"link"`
	// Target is what the link points to, relative to the link's directory.
	Target string `yaml:"target"`
}

const (
	// DefaultSettingsFilename is the settings file looked up in the project root.
	DefaultSettingsFilename = "plgpack.yaml"

	// DefaultFilePermissions is the permission for written settings files.
	DefaultFilePermissions = 0o644

	// defaultScriptSuffix marks shell scripts.
	defaultScriptSuffix = ".sh"
)

var (
	// errSettingsIsNotSet is returned when nil settings are provided.
	errSettingsIsNotSet = errors.New("settings are not set")
	// errFieldRequired is returned when a mandatory field is empty.
	errFieldRequired = errors.New("field is required")
	// errPathNotRelative is returned for absolute paths or paths leaving their root.
	errPathNotRelative = errors.New("path must be relative and stay inside its root")
	// errNotBaseName is returned for file names containing separators.
	errNotBaseName = errors.New("must be a plain file name")
	// errBadUpstreamURL is returned for non-HTTP upstream URL templates.
	errBadUpstreamURL = errors.New("upstream url must be an absolute http(s) url")
	// errUnsupportedCompression is returned for unknown compressors.
	errUnsupportedCompression = errors.New("unsupported compression")
)

// Default returns the cloudflared plugin layout.
func Default() *Settings {
	return &Settings{
		Name:                  "cloudflared",
		BuildDir:              "build",
		SourceDir:             "src/usr/local/emhttp/plugins/cloudflared",
		InstallPath:           "usr/local/emhttp/plugins/cloudflared",
		ConfigFile:            "plugin/cloudflared.json",
		TemplateFile:          "plugin/cloudflared.plg.template",
		ManifestName:          "cloudflared.plg",
		RepositoryManifestDir: "plugin",
		Upstream: Upstream{
			URL:     "https://github.com/cloudflare/cloudflared/releases/download/{{UPSTREAM_VERSION}}/cloudflared-linux-amd64",
			Binary:  "cloudflared",
			Timeout: fetch.DefaultTimeout,
		},
		Package: Package{
			ArchiveName: "cloudflared-utils-{{PACKAGE_VERSION}}-noarch-1",
			Compression: archive.CompressionXZ,
			Directories: []string{
				"assets/css",
				"assets/js",
				"images",
				"include",
				"pages",
				"scripts",
			},
			RequiredFiles: []string{
				"Cloudflared.page",
				"assets/css/styles.php",
				"assets/js/app.php",
				"images/cloudflared.png",
				"include/Config.php",
				"include/Logger.php",
				"include/ServiceManager.php",
				"scripts/install.sh",
				"scripts/restart.sh",
				"include/ajax/fetch_logs.php",
				"include/ajax/log_clear.php",
				"include/ajax/service_handler.php",
			},
			Symlinks: []Symlink{
				{Link: "cloudflared.png", Target: "images/cloudflared.png"},
			},
			ScriptSuffix: defaultScriptSuffix,
		},
	}
}

// Load reads settings from path over the defaults and validates them.
// An empty path returns the defaults.
func Load(path string) (*Settings, error) {
	settings := Default()
	if path == "" {
		return settings, nil
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)

	if err = decoder.Decode(settings); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(settings); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return settings, nil
}

// Save writes settings to path.
func Save(path string, settings *Settings) error {
	if settings == nil {
		return errSettingsIsNotSet
	}

	if path == "" {
		path = DefaultSettingsFilename
	}

	if err := Validate(settings); err != nil {
		return err
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and path shapes, filling defaults for optional ones.
func Validate(settings *Settings) error {
	if settings == nil {
		return errSettingsIsNotSet
	}

	if settings.Upstream.Timeout <= 0 {
		settings.Upstream.Timeout = fetch.DefaultTimeout
	}

	if settings.Package.ScriptSuffix == "" {
		settings.Package.ScriptSuffix = defaultScriptSuffix
	}

	if settings.Package.Compression == "" {
		settings.Package.Compression = archive.CompressionXZ
	}

	required := []struct {
		name  string
		value string
	}{
		{"name", settings.Name},
		{"upstream.url", settings.Upstream.URL},
		{"package.archive_name", settings.Package.ArchiveName},
	}

	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s: %w", field.name, errFieldRequired)
		}
	}

	paths := map[string]string{
		"build_dir":               settings.BuildDir,
		"source_dir":              settings.SourceDir,
		"install_path":            settings.InstallPath,
		"config_file":             settings.ConfigFile,
		"template_file":           settings.TemplateFile,
		"repository_manifest_dir": settings.RepositoryManifestDir,
	}

	for name, value := range paths {
		if err := checkRelative(name, value); err != nil {
			return err
		}
	}

	if err := checkRelativeList("package.directories", settings.Package.Directories); err != nil {
		return err
	}

	if err := checkRelativeList("package.required_files", settings.Package.RequiredFiles); err != nil {
		return err
	}

	for i, link := range settings.Package.Symlinks {
		if err := checkRelative(fmt.Sprintf("package.symlinks[%d].link", i), link.Link); err != nil {
			return err
		}

		if link.Target == "" || filepath.IsAbs(link.Target) {
			return fmt.Errorf("package.symlinks[%d].target: %w", i, errPathNotRelative)
		}
	}

	for name, value := range map[string]string{
		"manifest_name":   settings.ManifestName,
		"upstream.binary": settings.Upstream.Binary,
	} {
		if err := checkBaseName(name, value); err != nil {
			return err
		}
	}

	if !archive.IsSupportedCompression(settings.Package.Compression) {
		return fmt.Errorf("package.compression %q: %w", settings.Package.Compression, errUnsupportedCompression)
	}

	upstreamURL, err := url.Parse(settings.Upstream.URL)
	if err != nil {
		return fmt.Errorf("upstream.url: %w", err)
	}

	if (upstreamURL.Scheme != "http" && upstreamURL.Scheme != "https") || upstreamURL.Host == "" {
		return fmt.Errorf("upstream.url %q: %w", settings.Upstream.URL, errBadUpstreamURL)
	}

	return nil
}

func checkRelative(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s: %w", name, errFieldRequired)
	}

	if !filepath.IsLocal(value) {
		return fmt.Errorf("%s %q: %w", name, value, errPathNotRelative)
	}

	return nil
}

func checkRelativeList(name string, values []string) error {
	for i, value := range values {
		if err := checkRelative(fmt.Sprintf("%s[%d]", name, i), value); err != nil {
			return err
		}
	}

	return nil
}

func checkBaseName(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s: %w", name, errFieldRequired)
	}

	if value != filepath.Base(value) || value == "." || value == ".." {
		return fmt.Errorf("%s %q: %w", name, value, errNotBaseName)
	}

	return nil
}
