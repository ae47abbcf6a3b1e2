// Package normalize canonicalizes user input before it is stored or compared.
package normalize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Text strips every HTML element from user supplied text such as message content and
// display names. The result is plain text: entities produced by the sanitizer are
// decoded again so "it's" stays "it's".
func Text(s string) string {
	return html.UnescapeString(strict.Sanitize(s))
}

// Name sanitizes a display name and trims surrounding whitespace.
func Name(s string) string {
	return strings.TrimSpace(Text(s))
}
