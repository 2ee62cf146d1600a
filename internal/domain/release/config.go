package release

import (
	"encoding/json"
	"maps"
	"strings"
)

// JSON names of the build config keys.
const (
	KeyVersion          = "version"
	KeyUpstreamVersion  = "upstreamVersion"
	KeyUpstreamSHA256   = "upstreamSHA256"
	KeyPackageVersion   = "packageVersion"
	KeyAuthor           = "author"
	KeySourceRepository = "sourceRepository"
	KeyPackageSHA256    = "packageSHA256"
)

// Template placeholders. The set is closed: every token a template may use is listed here.
const (
	PlaceholderVersion         = "{{VERSION}}"
	PlaceholderUpstreamVersion = "{{UPSTREAM_VERSION}}"
	PlaceholderUpstreamSHA256  = "{{UPSTREAM_SHA256}}"
	PlaceholderPackageVersion  = "{{PACKAGE_VERSION}}"
	PlaceholderPackageSHA256   = "{{PACKAGE_SHA256}}"
	PlaceholderAuthor          = "{{AUTHOR}}"
	PlaceholderRepository      = "{{REPOSITORY}}"
)

// BuildConfig is the persisted record every pipeline stage reads its versions,
// hashes and filenames from.
type BuildConfig struct {
	// Version is the plugin version published in the manifest.
	Version string
	// UpstreamVersion is the release tag of the bundled upstream binary.
	UpstreamVersion string
	// UpstreamSHA256 is the pinned digest of the upstream binary.
	UpstreamSHA256 string
	// PackageVersion is embedded in the archive filename.
	PackageVersion string
	// Author is the plugin author shown in the manifest.
	Author string
	// SourceRepository is the "owner/name" reference of the plugin repository.
	SourceRepository string
	// PackageSHA256 is derived during the build from the produced archive.
	PackageSHA256 string
	// Extra keeps keys the pipeline does not know about, so a rewrite never drops them.
	Extra map[string]json.RawMessage
}

// RequiredKeys returns the keys that must be present and non-empty, in declaration order.
func RequiredKeys() []string {
	return []string{
		KeyVersion,
		KeyUpstreamVersion,
		KeyUpstreamSHA256,
		KeyPackageVersion,
		KeyAuthor,
		KeySourceRepository,
	}
}

// Validate checks that every required key is set to a non-blank value.
func (c *BuildConfig) Validate() error {
	values := c.Fields()

	var missing []string

	for _, key := range RequiredKeys() {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}

	return nil
}

// Substitutions maps every template placeholder to its value.
func (c *BuildConfig) Substitutions() map[string]string {
	return map[string]string{
		PlaceholderVersion:         c.Version,
		PlaceholderUpstreamVersion: c.UpstreamVersion,
		PlaceholderUpstreamSHA256:  c.UpstreamSHA256,
		PlaceholderPackageVersion:  c.PackageVersion,
		PlaceholderPackageSHA256:   c.PackageSHA256,
		PlaceholderAuthor:          c.Author,
		PlaceholderRepository:      c.SourceRepository,
	}
}

// Clone returns a copy of the config that shares no maps with the original.
func (c *BuildConfig) Clone() *BuildConfig {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.Extra = maps.Clone(c.Extra)

	return &cloned
}

// KnownKeys returns every key the pipeline understands, in the order they are persisted.
func KnownKeys() []string {
	return append(RequiredKeys(), KeyPackageSHA256)
}

// Fields returns the known keys and their values, keyed by JSON name.
func (c *BuildConfig) Fields() map[string]string {
	return map[string]string{
		KeyVersion:          c.Version,
		KeyUpstreamVersion:  c.UpstreamVersion,
		KeyUpstreamSHA256:   c.UpstreamSHA256,
		KeyPackageVersion:   c.PackageVersion,
		KeyAuthor:           c.Author,
		KeySourceRepository: c.SourceRepository,
		KeyPackageSHA256:    c.PackageSHA256,
	}
}
