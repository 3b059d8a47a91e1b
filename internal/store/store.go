// Package store defines the persistence layer for documents, OCR page
// results, batches, index items, and resolved links. All page writes are
// idempotent upserts keyed by (document_id, page_number) so retries and
// resumed jobs are safe without locking.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// OCRStatus is the document-level OCR lifecycle state.
type OCRStatus string

const (
	OCRStatusQueued     OCRStatus = "queued"
	OCRStatusProcessing OCRStatus = "processing"
	OCRStatusCompleted  OCRStatus = "completed"
	OCRStatusFailed     OCRStatus = "failed"
)

// IndexStatus reports whether an index/table-of-contents was detected.
type IndexStatus string

const (
	IndexStatusPending  IndexStatus = "pending"
	IndexStatusDetected IndexStatus = "detected"
	IndexStatusNone     IndexStatus = "none"
)

// PageStatus is the per-page OCR state.
type PageStatus string

const (
	PageStatusCompleted PageStatus = "completed"
	PageStatusFailed    PageStatus = "failed"
)

// BatchStatus is the per-range execution state.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// LinkStatus is the review state of a resolved hyperlink.
type LinkStatus string

const (
	LinkStatusPending  LinkStatus = "pending"
	LinkStatusApproved LinkStatus = "approved"
	LinkStatusRejected LinkStatus = "rejected"
)

// Document is one uploaded scanned document.
type Document struct {
	ID            string      `json:"id"`
	Filename      string      `json:"filename"`
	TotalPages    int         `json:"total_pages"`
	OCRStatus     OCRStatus   `json:"ocr_status"`
	PagesDone     int         `json:"pages_done"`
	ConfidenceAvg float64     `json:"confidence_avg"`
	IndexStatus   IndexStatus `json:"index_status"`
	Error         string      `json:"error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// PageRecord is the persisted OCR result for a single page.
// Checksum is the sha256 of the page image bytes; a matching checksum means
// the stored result is reused and the provider call is skipped.
type PageRecord struct {
	DocumentID         string     `json:"document_id"`
	PageNumber         int        `json:"page_number"`
	ExtractedText      string     `json:"extracted_text"`
	Confidence         float64    `json:"confidence"`
	Checksum           string     `json:"checksum"`
	VerificationMethod string     `json:"verification_method,omitempty"`
	Status             PageStatus `json:"status"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Batch is a contiguous page range processed as one OCR unit.
type Batch struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"document_id"`
	StartPage  int         `json:"start_page"`
	EndPage    int         `json:"end_page"`
	Status     BatchStatus `json:"status"`
	PagesDone  int         `json:"pages_done"`
}

// IndexItem is one entry in a document's detected index.
type IndexItem struct {
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Label      string `json:"label"`
	SourcePage int    `json:"source_page"`
}

// Link is a resolved hyperlink from an index entry to a destination page.
type Link struct {
	DocumentID string     `json:"document_id"`
	Ordinal    int        `json:"ordinal"`
	SourcePage int        `json:"source_page"`
	DestPage   int        `json:"dest_page"`
	Status     LinkStatus `json:"status"`
	Confidence float64    `json:"confidence"`
	Method     string     `json:"method"`
	Reason     string     `json:"reason,omitempty"`
}

// Aggregate holds document progress recomputed from persisted page records.
// Concurrent batch completions race, so these are never derived from
// in-memory counters.
type Aggregate struct {
	PagesDone     int
	FailedPages   int
	ConfidenceAvg float64
}

// Store is the persistence interface shared by the pipeline components.
type Store interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocumentsByStatus(ctx context.Context, statuses ...OCRStatus) ([]*Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status OCRStatus, errMsg string) error
	UpdateDocumentProgress(ctx context.Context, id string, pagesDone int, confidenceAvg float64) error
	UpdateDocumentIndexStatus(ctx context.Context, id string, status IndexStatus) error

	// UpsertPage writes a page result, replacing any existing record with
	// the same (document_id, page_number) key.
	UpsertPage(ctx context.Context, page *PageRecord) error
	GetPage(ctx context.Context, docID string, pageNumber int) (*PageRecord, error)
	// ListPages returns completed and failed pages in [fromPage, toPage],
	// ordered by page number. toPage <= 0 means the end of the document.
	ListPages(ctx context.Context, docID string, fromPage, toPage int) ([]*PageRecord, error)
	// CompletedPages returns the set of page numbers already marked completed.
	CompletedPages(ctx context.Context, docID string) (map[int]bool, error)
	// AggregateDocument recomputes progress from persisted page records.
	AggregateDocument(ctx context.Context, docID string) (*Aggregate, error)

	UpsertBatch(ctx context.Context, batch *Batch) error
	ListBatches(ctx context.Context, docID string) ([]*Batch, error)

	// ReplaceIndexItems atomically replaces the document's index items.
	ReplaceIndexItems(ctx context.Context, docID string, items []IndexItem) error
	ListIndexItems(ctx context.Context, docID string) ([]IndexItem, error)

	// ReplaceLinks atomically replaces the document's links.
	ReplaceLinks(ctx context.Context, docID string, links []Link) error
	ListLinks(ctx context.Context, docID string) ([]Link, error)
	UpdateLinkStatus(ctx context.Context, docID string, ordinal int, status LinkStatus) error
}
