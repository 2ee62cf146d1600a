// Package render substitutes {{NAME}} placeholders in text templates and
// refuses to return output that still contains unresolved tokens.
package render
