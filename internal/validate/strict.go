// Package validate implements the strict link-set check: a pure function
// over index items, links, and the page count, with no stored state. The
// same inputs always yield the same report.
package validate

import (
	"fmt"
	"sort"

	"github.com/hyperlinklaw/linkengine/internal/store"
)

// Report is the outcome of a strict validation pass.
type Report struct {
	IsValid    bool     `json:"is_valid"`
	Violations []string `json:"violations,omitempty"`
}

// Strict checks a document's resolved links against its index. It requires
// exactly one link per index entry, every destination inside the document,
// no two entries sharing a link, and pairwise-distinct destination pages.
// Violations are reported in a stable order so repeated runs produce
// identical reports.
func Strict(items []store.IndexItem, links []store.Link, totalPages int) Report {
	var violations []string

	if len(links) != len(items) {
		violations = append(violations,
			fmt.Sprintf("expected %d links, found %d", len(items), len(links)))
	}

	itemOrdinals := make(map[int]bool, len(items))
	for _, item := range items {
		itemOrdinals[item.Ordinal] = true
	}

	sorted := make([]store.Link, len(links))
	copy(sorted, links)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })

	seen := make(map[int]bool, len(sorted))
	destOwner := make(map[int]int, len(sorted))
	for _, link := range sorted {
		if !itemOrdinals[link.Ordinal] {
			violations = append(violations,
				fmt.Sprintf("link for ordinal %d has no matching index entry", link.Ordinal))
		}
		if seen[link.Ordinal] {
			violations = append(violations,
				fmt.Sprintf("duplicate link for ordinal %d", link.Ordinal))
		}
		seen[link.Ordinal] = true

		if link.DestPage < 1 || link.DestPage > totalPages {
			violations = append(violations,
				fmt.Sprintf("link for ordinal %d targets page %d, outside 1-%d",
					link.Ordinal, link.DestPage, totalPages))
			continue
		}
		// Unreviewed entries carry no destination and are already flagged
		// by the bounds check above; only placed links compete for pages.
		if first, taken := destOwner[link.DestPage]; taken {
			violations = append(violations,
				fmt.Sprintf("links for ordinals %d and %d share destination page %d",
					first, link.Ordinal, link.DestPage))
		} else {
			destOwner[link.DestPage] = link.Ordinal
		}
	}

	sortedItems := make([]store.IndexItem, len(items))
	copy(sortedItems, items)
	sort.Slice(sortedItems, func(i, j int) bool { return sortedItems[i].Ordinal < sortedItems[j].Ordinal })
	for _, item := range sortedItems {
		if !seen[item.Ordinal] {
			violations = append(violations,
				fmt.Sprintf("index entry %d (%q) has no link", item.Ordinal, item.Label))
		}
	}

	return Report{IsValid: len(violations) == 0, Violations: violations}
}
