package render

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ErrUnresolvedPlaceholder is returned when a placeholder token survives substitution.
var ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")

// placeholderPattern matches the token shape used by manifest templates.
var placeholderPattern = regexp.MustCompile(`\{\{[A-Z][A-Z0-9_]*\}\}`)

// UnresolvedError lists the distinct template tokens that have no substitution.
type UnresolvedError struct {
	// Tokens are sorted and deduplicated.
	Tokens []string
}

// Error implements the error interface.
func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnresolvedPlaceholder, strings.Join(e.Tokens, ", "))
}

// Unwrap allows errors.Is(err, ErrUnresolvedPlaceholder).
func (e *UnresolvedError) Unwrap() error {
	return ErrUnresolvedPlaceholder
}

// Render replaces every occurrence of each placeholder with its value.
// Every token in template must have a substitution; values are inserted
// verbatim and never scanned for tokens.
func Render(template string, substitutions map[string]string) (string, error) {
	var leftover []string

	for _, token := range Placeholders(template) {
		if _, ok := substitutions[token]; !ok {
			leftover = append(leftover, token)
		}
	}

	if len(leftover) > 0 {
		return "", &UnresolvedError{Tokens: leftover}
	}

	pairs := make([]string, 0, len(substitutions)*2)

	// Longest first so that a token never shadows a longer one sharing its prefix.
	placeholders := make([]string, 0, len(substitutions))
	for placeholder := range substitutions {
		placeholders = append(placeholders, placeholder)
	}

	slices.SortFunc(placeholders, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}

		return strings.Compare(a, b)
	})

	for _, placeholder := range placeholders {
		if placeholder == "" {
			continue
		}

		pairs = append(pairs, placeholder, substitutions[placeholder])
	}

	return strings.NewReplacer(pairs...).Replace(template), nil
}

// Placeholders returns the distinct placeholder tokens found in text, sorted.
func Placeholders(text string) []string {
	matches := placeholderPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	slices.Sort(matches)

	return slices.Compact(matches)
}
