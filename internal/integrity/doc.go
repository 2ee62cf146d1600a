// Package integrity computes and checks SHA-256 content digests.
//
// Digests are lowercase hex strings so they can be pasted into configs and
// compared with the output of sha256sum.
package integrity
