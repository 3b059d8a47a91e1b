// Package ocr implements the resumable OCR batching pipeline: page range
// partitioning, idempotent batch execution against an OCR provider, and the
// dual-verification gate for low-confidence pages.
package ocr

import "fmt"

// DefaultBatchSize is the page range size used when none is configured.
const DefaultBatchSize = 50

// Range is a contiguous, inclusive page range processed as one OCR unit.
type Range struct {
	Start int
	End   int
}

// ID returns a stable batch identifier for a document's range. Stability
// matters: resumed runs must upsert the same batch records.
func (r Range) ID(docID string) string {
	return fmt.Sprintf("%s:%d-%d", docID, r.Start, r.End)
}

// Pages returns the number of pages in the range.
func (r Range) Pages() int {
	return r.End - r.Start + 1
}

// PlanBatches splits totalPages into ceil(totalPages/batchSize) contiguous
// non-overlapping ranges. The last range may be short.
func PlanBatches(totalPages, batchSize int) []Range {
	if totalPages <= 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ranges := make([]Range, 0, (totalPages+batchSize-1)/batchSize)
	for start := 1; start <= totalPages; start += batchSize {
		end := start + batchSize - 1
		if end > totalPages {
			end = totalPages
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges
}

// PendingRanges returns the ranges that still contain at least one page not
// marked completed. On resume this bounds wasted reprocessing to at most
// batchSize-1 pages per range, and the checksum dedup in the executor
// removes even that.
func PendingRanges(ranges []Range, completed map[int]bool) []Range {
	var pending []Range
	for _, r := range ranges {
		for page := r.Start; page <= r.End; page++ {
			if !completed[page] {
				pending = append(pending, r)
				break
			}
		}
	}
	return pending
}
