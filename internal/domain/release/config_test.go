package release

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func completeConfig() *BuildConfig {
	return &BuildConfig{
		Version:          "2024.01.15",
		UpstreamVersion:  "2024.1.2",
		UpstreamSHA256:   "abc123",
		PackageVersion:   "2024.01.15",
		Author:           "o.shokin",
		SourceRepository: "oshokin/unraid-cloudflared",
	}
}

// TestValidate_ReportsEachMissingKey drops every required key in turn and expects it to be named.
func TestValidate_ReportsEachMissingKey(t *testing.T) {
	t.Parallel()

	require.NoError(t, completeConfig().Validate())

	drops := map[string]func(*BuildConfig){
		KeyVersion:          func(c *BuildConfig) { c.Version = "" },
		KeyUpstreamVersion:  func(c *BuildConfig) { c.UpstreamVersion = "" },
		KeyUpstreamSHA256:   func(c *BuildConfig) { c.UpstreamSHA256 = "" },
		KeyPackageVersion:   func(c *BuildConfig) { c.PackageVersion = "" },
		KeyAuthor:           func(c *BuildConfig) { c.Author = "" },
		KeySourceRepository: func(c *BuildConfig) { c.SourceRepository = "" },
	}

	require.Len(t, drops, len(RequiredKeys()))

	for key, drop := range drops {
		cfg := completeConfig()
		drop(cfg)

		err := cfg.Validate()
		require.ErrorIs(t, err, ErrConfigIncomplete, key)

		var incomplete *IncompleteError
		require.True(t, errors.As(err, &incomplete))
		require.Equal(t, []string{key}, incomplete.Missing)
		require.Contains(t, err.Error(), key)
	}
}

// TestValidate_ListsAllMissingKeysInOrder checks that an empty config names every required key.
func TestValidate_ListsAllMissingKeysInOrder(t *testing.T) {
	t.Parallel()

	err := new(BuildConfig).Validate()

	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, RequiredKeys(), incomplete.Missing)
}

// TestSubstitutions covers the closed placeholder set.
func TestSubstitutions(t *testing.T) {
	t.Parallel()

	cfg := completeConfig()
	cfg.PackageSHA256 = "feed"

	subs := cfg.Substitutions()
	require.Len(t, subs, 7)
	require.Equal(t, "2024.1.2", subs[PlaceholderUpstreamVersion])
	require.Equal(t, "feed", subs[PlaceholderPackageSHA256])
	require.Equal(t, "oshokin/unraid-cloudflared", subs[PlaceholderRepository])
}

// TestClone verifies that Clone copies values and detaches the Extra map.
func TestClone(t *testing.T) {
	t.Parallel()
	require.Nil(t, (*BuildConfig)(nil).Clone())

	cfg := completeConfig()
	cfg.Extra = map[string]json.RawMessage{"minUnraid": json.RawMessage(`"6.12"`)}

	cloned := cfg.Clone()
	require.Equal(t, cfg, cloned)
	require.NotSame(t, cfg, cloned)

	cloned.Extra["minUnraid"] = json.RawMessage(`"7.0"`)
	require.JSONEq(t, `"6.12"`, string(cfg.Extra["minUnraid"]))
}
