package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/plgpack/internal/logger"
)

const (
	// ExecutableMode is applied to every fetched binary.
	ExecutableMode os.FileMode = 0o755

	// DefaultTimeout bounds one download including the body transfer.
	DefaultTimeout = 5 * time.Minute

	// diagnosticLimit caps how much of an error response body is kept.
	diagnosticLimit = 2048
)

var (
	// ErrFetchFailed is returned when the remote artifact cannot be retrieved.
	ErrFetchFailed = errors.New("fetch failed")
	// errBadHTTPStatus is returned for non-2xx responses.
	errBadHTTPStatus = errors.New("unexpected http status")
)

// Error describes a failed download.
type Error struct {
	// URL is the requested address.
	URL string
	// Status is the HTTP status line, empty when no response arrived.
	Status string
	// Diagnostics holds the beginning of the error response body.
	Diagnostics string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(ErrFetchFailed.Error())
	b.WriteString(": ")
	b.WriteString(e.URL)

	if e.Status != "" {
		b.WriteString(": ")
		b.WriteString(e.Status)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	if e.Diagnostics != "" {
		b.WriteString(": ")
		b.WriteString(e.Diagnostics)
	}

	return b.String()
}

// Unwrap exposes ErrFetchFailed and the underlying error.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetchFailed}
	}

	return []error{ErrFetchFailed, e.Err}
}

// Client downloads binaries.
type Client struct {
	// httpClient performs the requests.
	httpClient *http.Client
	// timeout bounds each Fetch call.
	timeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the per-download timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Fetch downloads url and installs the body at destination with ExecutableMode.
// A previous file at destination is replaced only after the whole body arrived.
func (c *Client) Fetch(ctx context.Context, url, destination string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logger.InfoKV(ctx, "Downloading", "url", url, "destination", destination)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return &Error{URL: url, Err: err}
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{URL: url, Err: err}
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		//nolint:errcheck // The body is diagnostics only; a read failure leaves it empty.
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, diagnosticLimit))

		return &Error{
			URL:         url,
			Status:      response.Status,
			Diagnostics: strings.TrimSpace(string(snippet)),
			Err:         errBadHTTPStatus,
		}
	}

	body := &countingReader{reader: response.Body}

	if err = install(body, destination); err != nil {
		return &Error{URL: url, Status: response.Status, Err: err}
	}

	logger.InfoKV(ctx, "Download complete", "destination", destination, "bytes", body.count)

	return nil
}

// install swaps the content of destination for body using go-update.
func install(body io.Reader, destination string) error {
	destination = filepath.Clean(destination)

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	// go-update moves the current target aside before swapping, so one has to exist.
	created := false

	if _, err := os.Stat(destination); errors.Is(err, os.ErrNotExist) {
		placeholder, err := os.OpenFile(destination, os.O_CREATE|os.O_EXCL|os.O_WRONLY, ExecutableMode)
		if err != nil {
			return fmt.Errorf("create destination: %w", err)
		}

		_ = placeholder.Close()
		created = true
	}

	options := goupdate.Options{
		TargetPath: destination,
		TargetMode: ExecutableMode,
	}

	if err := goupdate.Apply(body, options); err != nil {
		if created {
			_ = os.Remove(destination)
		}

		return fmt.Errorf("install %s: %w", destination, err)
	}

	if err := os.Chmod(destination, ExecutableMode); err != nil {
		return fmt.Errorf("chmod %s: %w", destination, err)
	}

	return nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	reader io.Reader
	count  int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.count += int64(n)

	return n, err
}
