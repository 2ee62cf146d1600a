// Package packager runs the release packaging pipeline.
//
// A run fetches the pinned upstream binary and checks its SHA-256, stages the
// plugin tree, archives it, records the archive hash in the build config and
// renders the plugin manifest into the build and repository locations. Stages
// run strictly in order and the first failure aborts the build with a
// *StageError naming where it stopped.
package packager
