// Package buildconfig implements persistence for the release BuildConfig.
//
// The FileRepository loads the record from a JSON file, validates required
// keys and writes it back pretty-printed, keeping keys it does not know about.
package buildconfig
