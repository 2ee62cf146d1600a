package buildconfig

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/plgpack/internal/domain/release"
)

const completeRecord = `{
    "version": "2024.01.15",
    "upstreamVersion": "2024.1.2",
    "upstreamSHA256": "0123abcd",
    "packageVersion": "2024.01.15",
    "author": "o.shokin",
    "sourceRepository": "oshokin/unraid-cloudflared",
    "minUnraidVersion": "6.12.0",
    "changes": ["first", "second"]
}
`

func writeRecord(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cloudflared.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

// TestFileRepository_Missing verifies Load returns ErrConfigMissing for an absent file.
func TestFileRepository_Missing(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := repo.Load(context.Background())
	require.ErrorIs(t, err, release.ErrConfigMissing)
	require.Nil(t, cfg)
}

// TestFileRepository_Malformed covers syntax errors, non-objects and non-string values.
func TestFileRepository_Malformed(t *testing.T) {
	t.Parallel()

	for _, contents := range []string{
		`{"version": `,
		`null`,
		`["version"]`,
		`{"version": 42}`,
	} {
		repo := NewFileRepository(writeRecord(t, contents))

		_, err := repo.Load(context.Background())
		require.ErrorIs(t, err, release.ErrConfigMalformed, contents)
	}
}

// TestFileRepository_Incomplete names every missing or empty key.
func TestFileRepository_Incomplete(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(writeRecord(t, `{"version": "1", "author": "", "upstreamVersion": "2"}`))

	_, err := repo.Load(context.Background())
	require.ErrorIs(t, err, release.ErrConfigIncomplete)

	var incomplete *release.IncompleteError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t,
		[]string{
			release.KeyUpstreamSHA256,
			release.KeyPackageVersion,
			release.KeyAuthor,
			release.KeySourceRepository,
		},
		incomplete.Missing,
	)
}

// TestFileRepository_SaveLoad_PreservesUnknownKeys ensures the hash write-back keeps every other field.
func TestFileRepository_SaveLoad_PreservesUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeRecord(t, completeRecord)
	repo := NewFileRepository(path)
	ctx := context.Background()

	cfg, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, cfg.PackageSHA256)
	require.Len(t, cfg.Extra, 2)

	cfg.PackageSHA256 = "feedface"
	require.NoError(t, repo.Save(ctx, cfg))

	reloaded, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, cfg.PackageSHA256, reloaded.PackageSHA256)
	require.Equal(t, cfg.Version, reloaded.Version)
	require.JSONEq(t, `["first","second"]`, string(reloaded.Extra["changes"]))
	require.JSONEq(t, `"6.12.0"`, string(reloaded.Extra["minUnraidVersion"]))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	text := string(data)
	require.True(t, strings.HasSuffix(text, "}\n"))
	require.Contains(t, text, "\n    \"packageSHA256\": \"feedface\",\n")
	require.Less(t, strings.Index(text, `"sourceRepository"`), strings.Index(text, `"packageSHA256"`))
	require.Less(t, strings.Index(text, `"packageSHA256"`), strings.Index(text, `"changes"`))
}

// TestFileRepository_SaveRejectsIncomplete keeps an invalid record from reaching disk.
func TestFileRepository_SaveRejectsIncomplete(t *testing.T) {
	t.Parallel()

	path := writeRecord(t, completeRecord)
	repo := NewFileRepository(path)

	err := repo.Save(context.Background(), &release.BuildConfig{Version: "1"})
	require.ErrorIs(t, err, release.ErrConfigIncomplete)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, completeRecord, string(data))
}

// TestFileRepository_KeepsValuesVerbatim checks padded values survive a load and save untouched.
func TestFileRepository_KeepsValuesVerbatim(t *testing.T) {
	t.Parallel()

	path := writeRecord(t, strings.Replace(completeRecord, `"o.shokin"`, `" o.shokin "`, 1))
	repo := NewFileRepository(path)
	ctx := context.Background()

	cfg, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, " o.shokin ", cfg.Author)

	require.NoError(t, repo.Save(ctx, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"author": " o.shokin "`)
}

// TestFileRepository_BlankValueIsMissing treats a whitespace-only required value as unset.
func TestFileRepository_BlankValueIsMissing(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(writeRecord(t, strings.Replace(completeRecord, `"o.shokin"`, `"   "`, 1)))

	_, err := repo.Load(context.Background())

	var incomplete *release.IncompleteError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, []string{release.KeyAuthor}, incomplete.Missing)
}
