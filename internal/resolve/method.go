// Package resolve maps detected index entries to destination pages using
// deterministic text matching, with an external arbitration service for
// candidates below the confidence threshold. Identical inputs always
// produce identical link sets.
package resolve

import "strings"

// Method identifies how a destination candidate was produced. The declared
// order is the tie-break priority: when confidence and destination page are
// equal, the earlier method wins.
type Method string

const (
	MethodExactExhibit   Method = "exact_exhibit"
	MethodExactTab       Method = "exact_tab"
	MethodExactSchedule  Method = "exact_schedule"
	MethodExactAffidavit Method = "exact_affidavit"
	MethodTokenAffidavit Method = "token_affidavit"
	MethodTokenExhibit   Method = "token_exhibit"
	MethodSectionMatch   Method = "section_match"

	// MethodNeedsReview marks a link that could not be resolved
	// automatically and awaits human review.
	MethodNeedsReview Method = "needs_review"
)

var methodOrder = []Method{
	MethodExactExhibit,
	MethodExactTab,
	MethodExactSchedule,
	MethodExactAffidavit,
	MethodTokenAffidavit,
	MethodTokenExhibit,
	MethodSectionMatch,
}

// OrderIndex returns the method's tie-break rank. Unknown methods sort last.
func (m Method) OrderIndex() int {
	for i, known := range methodOrder {
		if m == known {
			return i
		}
	}
	return len(methodOrder)
}

// MethodOrder returns the tie-break priority as strings, in order. The
// slice is fresh on every call so callers cannot mutate the ordering.
func MethodOrder() []string {
	out := make([]string, len(methodOrder))
	for i, m := range methodOrder {
		out[i] = string(m)
	}
	return out
}

// normalizeText lowercases and collapses whitespace so page text and
// needles compare the way the matchers expect.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
