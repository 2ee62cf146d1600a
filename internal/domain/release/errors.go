package release

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigMissing is returned when the build config file does not exist.
	ErrConfigMissing = errors.New("build config not found")
	// ErrConfigMalformed is returned when the build config cannot be parsed.
	ErrConfigMalformed = errors.New("build config is malformed")
	// ErrConfigIncomplete is returned when required build config keys are absent or empty.
	ErrConfigIncomplete = errors.New("build config is incomplete")
)

// IncompleteError lists the required keys missing from a build config.
type IncompleteError struct {
	// Missing holds the JSON names of the absent keys in declaration order.
	Missing []string
}

// Error implements the error interface.
func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: missing required keys: %s", ErrConfigIncomplete, strings.Join(e.Missing, ", "))
}

// Unwrap allows errors.Is(err, ErrConfigIncomplete).
func (e *IncompleteError) Unwrap() error {
	return ErrConfigIncomplete
}
