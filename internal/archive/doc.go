// Package archive builds compressed tar packages from staged directory trees.
//
// Member names are relative and start with "./" so a package always unpacks
// relative to the directory it is installed from. The uncompressed container
// is written next to the output, checked against the content fingerprints
// recorded while writing, compressed and then moved into place.
package archive
