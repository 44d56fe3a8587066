// Package sanitize strips markup from free text that is later rendered in
// admin dashboards (resource names, rejection reasons).
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Text removes every HTML element from raw, unescapes the entities the
// policy produced and trims surrounding whitespace.
func Text(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := strict.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
