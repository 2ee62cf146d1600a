// Package integration holds end-to-end tests that run the packaging
// pipeline against a real filesystem layout and a local HTTP upstream.
package integration
