// Package fetch downloads a single remote binary over HTTP(S) and installs it
// atomically as an executable file. There are no retries: one attempt, and
// any failure carries the diagnostics the server sent back.
package fetch
