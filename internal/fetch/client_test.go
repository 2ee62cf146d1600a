package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestFetch_InstallsExecutable downloads a body and checks content and mode.
func TestFetch_InstallsExecutable(t *testing.T) {
	t.Parallel()

	bodies := map[string]string{
		"/2024.1.2/cloudflared-linux-amd64": "\x7fELF fake cloudflared",
		"/2024.2.0/cloudflared-linux-amd64": "second build",
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write([]byte(body))
	}))
	defer ts.Close()

	dir := t.TempDir()
	destination := filepath.Join(dir, "build", "cloudflared")

	client := NewClient(WithHTTPClient(ts.Client()), WithTimeout(10*time.Second))
	require.NoError(t, client.Fetch(context.Background(), ts.URL+"/2024.1.2/cloudflared-linux-amd64", destination))

	got, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, "\x7fELF fake cloudflared", string(got))

	info, err := os.Stat(destination)
	require.NoError(t, err)
	require.Equal(t, ExecutableMode, info.Mode().Perm())

	// A second fetch replaces the previous binary and leaves no swap files behind.
	require.NoError(t, client.Fetch(context.Background(), ts.URL+"/2024.2.0/cloudflared-linux-amd64", destination))

	got, err = os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, "second build", string(got))

	entries, err := os.ReadDir(filepath.Dir(destination))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// TestFetch_BadStatusCarriesDiagnostics reports the status and the response body.
func TestFetch_BadStatusCarriesDiagnostics(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "release asset not found", http.StatusNotFound)
	}))
	defer ts.Close()

	destination := filepath.Join(t.TempDir(), "cloudflared")

	err := NewClient(WithHTTPClient(ts.Client())).Fetch(context.Background(), ts.URL+"/missing", destination)
	require.ErrorIs(t, err, ErrFetchFailed)

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, "404 Not Found", fetchErr.Status)
	require.Equal(t, "release asset not found", fetchErr.Diagnostics)

	_, err = os.Stat(destination)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFetch_TransportError wraps connection failures.
func TestFetch_TransportError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	err := NewClient().Fetch(context.Background(), url, filepath.Join(t.TempDir(), "cloudflared"))
	require.ErrorIs(t, err, ErrFetchFailed)
}
