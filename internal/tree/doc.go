// Package tree stages plugin file trees: it mirrors a source tree into a
// staging directory, creates conventional symlinks, normalizes permissions
// and checks that every required file made it into the package.
package tree
