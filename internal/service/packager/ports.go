package packager

import "context"

// Fetcher downloads the upstream binary.
//
//go:generate mockgen -source=ports.go -destination=mocks/fetcher_mock.go -package=mocks
type Fetcher interface {
	// Fetch stores the body at url into destination and marks it executable.
	Fetch(ctx context.Context, url, destination string) error
}
