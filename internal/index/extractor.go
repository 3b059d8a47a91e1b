// Package index detects a document's index or table of contents in OCR
// text and extracts its numbered entries. Detection runs over the first
// batch of pages only; legal filings place the index at the front.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperlinklaw/linkengine/internal/store"
)

// itemRe matches a numbered index entry: an ordinal followed by a
// separator and the entry label.
var itemRe = regexp.MustCompile(`^\s*(\d+)[\).\s-]+(.+?)\s*$`)

// markers that introduce an index section, uppercased for matching.
var markers = []string{"INDEX", "TABLE OF CONTENTS"}

// dashReplacer folds the unicode dashes OCR produces into plain hyphens
// before matching.
var dashReplacer = strings.NewReplacer("–", "-", "—", "-", "―", "-")

const (
	// minLabelChars drops noise entries like bare page numbers.
	minLabelChars = 3
	// minContinuationItems gates whether the page after the index is
	// treated as a continuation of it.
	minContinuationItems = 2
)

// Options bounds the extraction scan.
type Options struct {
	// ScanPages is how many leading pages are searched for the marker.
	ScanPages int
	// MaxItems caps the extracted entry count.
	MaxItems int
}

// Extractor scans persisted OCR text for an index and stores the entries.
type Extractor struct {
	store  store.Store
	opts   Options
	logger *slog.Logger
}

func NewExtractor(st store.Store, opts Options, logger *slog.Logger) *Extractor {
	if opts.ScanPages <= 0 {
		opts.ScanPages = 50
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{store: st, opts: opts, logger: logger}
}

// Extract scans the document's leading pages, persists any detected index
// entries, and updates the document's index status. No marker means an
// empty entry list and IndexStatusNone; that is a normal outcome, not an
// error.
func (e *Extractor) Extract(ctx context.Context, docID string) ([]store.IndexItem, error) {
	pages, err := e.store.ListPages(ctx, docID, 1, e.opts.ScanPages)
	if err != nil {
		return nil, fmt.Errorf("loading pages for index scan: %w", err)
	}

	items := e.scan(pages)
	if len(items) == 0 {
		if err := e.store.ReplaceIndexItems(ctx, docID, nil); err != nil {
			return nil, fmt.Errorf("clearing index items: %w", err)
		}
		if err := e.store.UpdateDocumentIndexStatus(ctx, docID, store.IndexStatusNone); err != nil {
			return nil, err
		}
		e.logger.Info("no index detected", "document_id", docID)
		return nil, nil
	}

	for i := range items {
		items[i].DocumentID = docID
	}
	if err := e.store.ReplaceIndexItems(ctx, docID, items); err != nil {
		return nil, fmt.Errorf("storing index items: %w", err)
	}
	if err := e.store.UpdateDocumentIndexStatus(ctx, docID, store.IndexStatusDetected); err != nil {
		return nil, err
	}
	e.logger.Info("index detected",
		"document_id", docID,
		"items", len(items),
		"source_page", items[0].SourcePage)
	return items, nil
}

// scan walks pages in order looking for a marker, then collects entries
// from that page and any continuation pages.
func (e *Extractor) scan(pages []*store.PageRecord) []store.IndexItem {
	var items []store.IndexItem
	inIndex := false

	for _, page := range pages {
		if page.Status != store.PageStatusCompleted {
			continue
		}
		text := dashReplacer.Replace(page.ExtractedText)

		if !inIndex {
			if !hasMarker(text) {
				continue
			}
			inIndex = true
			items = e.collectPage(text, page.PageNumber, items)
			continue
		}

		// A page only continues the index if it carries enough entries
		// of its own; otherwise the index ended on the previous page.
		pageItems := e.collectPage(text, page.PageNumber, nil)
		if len(pageItems) < minContinuationItems {
			break
		}
		items = append(items, pageItems...)
		if len(items) >= e.opts.MaxItems {
			items = items[:e.opts.MaxItems]
			break
		}
	}
	return items
}

// collectPage parses entries from one page of index text. A non-matching
// line directly after an entry is a wrapped title and is appended to the
// previous label.
func (e *Extractor) collectPage(text string, pageNum int, items []store.IndexItem) []store.IndexItem {
	lastIdx := -1
	for _, line := range strings.Split(text, "\n") {
		if len(items) >= e.opts.MaxItems {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			lastIdx = -1
			continue
		}

		m := itemRe.FindStringSubmatch(line)
		if m == nil {
			if lastIdx >= 0 && !isHeading(line) {
				items[lastIdx].Label = strings.TrimSpace(items[lastIdx].Label + " " + line)
			}
			continue
		}

		ordinal, err := strconv.Atoi(m[1])
		if err != nil || ordinal <= 0 {
			continue
		}
		label := strings.TrimSpace(m[2])
		if len(label) < minLabelChars {
			continue
		}
		items = append(items, store.IndexItem{
			Ordinal:    ordinal,
			Label:      label,
			SourcePage: pageNum,
		})
		lastIdx = len(items) - 1
	}
	return items
}

func hasMarker(text string) bool {
	upper := strings.ToUpper(text)
	for _, m := range markers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// isHeading filters all-caps section headings out of wrapped-title
// continuation so they do not get glued onto entry labels.
func isHeading(line string) bool {
	if line == strings.ToUpper(line) && len(line) <= 40 {
		letters := 0
		for _, r := range line {
			if r >= 'A' && r <= 'Z' {
				letters++
			}
		}
		return letters >= 3
	}
	return false
}
