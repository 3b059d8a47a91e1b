package resolve

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hyperlinklaw/linkengine/internal/store"
)

// Reference types recognized in index entry labels.
const (
	RefExhibit         = "exhibit"
	RefTab             = "tab"
	RefSchedule        = "schedule"
	RefAffidavit       = "affidavit"
	RefUndertaking     = "undertaking"
	RefRefusal         = "refusal"
	RefUnderAdvisement = "under_advisement"
	RefGeneric         = "generic"
)

var refPatterns = []struct {
	refType string
	re      *regexp.Regexp
}{
	{RefExhibit, regexp.MustCompile(`(?i)\bExhibit\s+(?:No\.?\s*)?([A-Z]{1,3}(?:-\d+)?|\d+)\b`)},
	{RefTab, regexp.MustCompile(`(?i)\bTab\s+(\d{1,3})\b`)},
	{RefSchedule, regexp.MustCompile(`(?i)\bSchedule\s+([A-Z0-9]{1,3})\b`)},
	{RefAffidavit, regexp.MustCompile(`(?i)\bAffidavit\s+of\s+([A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)+)`)},
	{RefUndertaking, regexp.MustCompile(`(?i)\bundertakings?\b`)},
	{RefRefusal, regexp.MustCompile(`(?i)\brefusals?\b`)},
	{RefUnderAdvisement, regexp.MustCompile(`(?i)\bunder advisement\b`)},
}

// Reference is an index entry classified for matching.
type Reference struct {
	Ordinal    int    `json:"ordinal"`
	SourcePage int    `json:"source_page"`
	Type       string `json:"ref_type"`
	Value      string `json:"ref_value"`
	Label      string `json:"label"`
}

// Classify maps an index entry to a typed reference by matching its label
// against the recognized patterns in declaration order. Labels that match
// nothing become generic references carrying the whole label as the value.
func Classify(item store.IndexItem) Reference {
	ref := Reference{
		Ordinal:    item.Ordinal,
		SourcePage: item.SourcePage,
		Label:      item.Label,
	}
	for _, p := range refPatterns {
		m := p.re.FindStringSubmatch(item.Label)
		if m == nil {
			continue
		}
		ref.Type = p.refType
		if len(m) > 1 {
			ref.Value = m[1]
		} else {
			ref.Value = m[0]
		}
		return ref
	}
	ref.Type = RefGeneric
	ref.Value = item.Label
	return ref
}

// Candidate is a scored destination page for a reference.
type Candidate struct {
	DestPage   int     `json:"dest_page"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"method"`
}

// Score evaluates one reference against one page's normalized text and
// returns the confidence and method, or (0, "") for no match.
func Score(ref Reference, pageText string) (float64, Method) {
	value := strings.ToLower(ref.Value)

	switch ref.Type {
	case RefExhibit:
		needle := "exhibit " + value
		if strings.Contains(pageText, needle+":") ||
			strings.Contains(pageText, needle+" ") ||
			strings.HasSuffix(pageText, needle) {
			return 1.0, MethodExactExhibit
		}
		if strings.Contains(pageText, "exhibit") && strings.Contains(pageText, value) {
			return 0.85, MethodTokenExhibit
		}

	case RefTab:
		if strings.Contains(pageText, "tab "+value) {
			return 1.0, MethodExactTab
		}

	case RefSchedule:
		if strings.Contains(pageText, "schedule "+value) {
			return 1.0, MethodExactSchedule
		}

	case RefAffidavit:
		if strings.Contains(pageText, "affidavit of "+value) {
			return 1.0, MethodExactAffidavit
		}
		if strings.Contains(pageText, "affidavit") {
			for _, part := range strings.Fields(value) {
				if len(part) > 2 && strings.Contains(pageText, part) {
					return 0.90, MethodTokenAffidavit
				}
			}
		}

	case RefUndertaking, RefRefusal, RefUnderAdvisement:
		term := strings.ReplaceAll(ref.Type, "_", " ")
		if strings.Contains(pageText, term) {
			return 0.80, MethodSectionMatch
		}

	case RefGeneric:
		if value != "" && strings.Contains(pageText, value) {
			return 0.80, MethodSectionMatch
		}
	}
	return 0, ""
}

// GenerateCandidates scores a reference against every page and returns the
// top maxCandidates after the deterministic tie-break sort: highest
// confidence, then lowest destination page, then method order.
func GenerateCandidates(ref Reference, pages map[int]string, maxCandidates int) []Candidate {
	if maxCandidates <= 0 {
		maxCandidates = 3
	}

	var candidates []Candidate
	for pageNum, text := range pages {
		conf, method := Score(ref, text)
		if conf > 0 {
			candidates = append(candidates, Candidate{
				DestPage:   pageNum,
				Confidence: conf,
				Method:     method,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.DestPage != b.DestPage {
			return a.DestPage < b.DestPage
		}
		return a.Method.OrderIndex() < b.Method.OrderIndex()
	})

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}

// PageIndex builds the normalized per-page text index candidates are
// scored against. Failed pages are absent; references simply cannot land
// on them.
func PageIndex(pages []*store.PageRecord) map[int]string {
	idx := make(map[int]string, len(pages))
	for _, p := range pages {
		if p.Status != store.PageStatusCompleted {
			continue
		}
		idx[p.PageNumber] = normalizeText(p.ExtractedText)
	}
	return idx
}

func (c Candidate) String() string {
	return fmt.Sprintf("page %d (%.2f via %s)", c.DestPage, c.Confidence, c.Method)
}
