package pdp

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// fold normalises free text for pattern matching: NFKC so that full-width and
// compatibility forms collapse to their plain equivalents, then Unicode case folding.
// Runs of whitespace collapse to one space.
func fold(s string) string {
	if s == "" {
		return ""
	}
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}
