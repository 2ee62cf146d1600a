// Package version holds plgpack build metadata injected with -ldflags
// and the `version` subcommand that prints it.
package version
