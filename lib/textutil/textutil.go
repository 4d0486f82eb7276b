package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeName collapses a scraped label down to its comparable core:
// lowercased with all whitespace removed, so "Grand  Total " and
// "grandtotal" compare equal. Callers needing typo tolerance layer an
// edit-distance check on top, substring matching is too aggressive for
// subject names ("TOTAL QUALITY MANAGEMENT" must not look like a total
// row).
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}
