// Package config defines the packaging Settings that describe a plugin's
// layout and provides helpers to load, validate and save them in YAML format.
//
// Default returns the layout of the cloudflared plugin; a settings file only
// needs to list what differs from it.
package config
