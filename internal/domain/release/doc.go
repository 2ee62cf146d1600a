// Package release contains the core domain types for a plugin release build.
//
// It defines BuildConfig (the single source of truth for versions, hashes and
// authorship of one build), its required-field validation and the closed set of
// template placeholders derived from it.
package release
