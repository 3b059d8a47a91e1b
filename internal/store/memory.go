package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// pageKey identifies a page record.
type pageKey struct {
	docID string
	page  int
}

// Memory is an in-process Store used by tests and single-node deployments
// without Postgres. All methods are safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	docs    map[string]*Document
	pages   map[pageKey]*PageRecord
	batches map[string][]*Batch
	items   map[string][]IndexItem
	links   map[string][]Link
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]*Document),
		pages:   make(map[pageKey]*PageRecord),
		batches: make(map[string][]*Batch),
		items:   make(map[string][]IndexItem),
		links:   make(map[string][]Link),
	}
}

func (m *Memory) CreateDocument(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *doc
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.docs[cp.ID] = &cp
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *Memory) ListDocumentsByStatus(_ context.Context, statuses ...OCRStatus) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[OCRStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var out []*Document
	for _, doc := range m.docs {
		if len(want) == 0 || want[doc.OCRStatus] {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateDocumentStatus(_ context.Context, id string, status OCRStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.OCRStatus = status
	doc.Error = errMsg

	now := time.Now().UTC()
	switch status {
	case OCRStatusProcessing:
		doc.StartedAt = &now
		doc.CompletedAt = nil
	case OCRStatusCompleted, OCRStatusFailed:
		doc.CompletedAt = &now
	case OCRStatusQueued:
		doc.StartedAt = nil
		doc.CompletedAt = nil
	}
	return nil
}

func (m *Memory) UpdateDocumentProgress(_ context.Context, id string, pagesDone int, confidenceAvg float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.PagesDone = pagesDone
	doc.ConfidenceAvg = confidenceAvg
	return nil
}

func (m *Memory) UpdateDocumentIndexStatus(_ context.Context, id string, status IndexStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.IndexStatus = status
	return nil
}

func (m *Memory) UpsertPage(_ context.Context, page *PageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *page
	cp.UpdatedAt = time.Now().UTC()
	m.pages[pageKey{page.DocumentID, page.PageNumber}] = &cp
	return nil
}

func (m *Memory) GetPage(_ context.Context, docID string, pageNumber int) (*PageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page, ok := m.pages[pageKey{docID, pageNumber}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *page
	return &cp, nil
}

func (m *Memory) ListPages(_ context.Context, docID string, fromPage, toPage int) ([]*PageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*PageRecord
	for key, page := range m.pages {
		if key.docID != docID {
			continue
		}
		if key.page < fromPage {
			continue
		}
		if toPage > 0 && key.page > toPage {
			continue
		}
		cp := *page
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out, nil
}

func (m *Memory) CompletedPages(_ context.Context, docID string) (map[int]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	done := make(map[int]bool)
	for key, page := range m.pages {
		if key.docID == docID && page.Status == PageStatusCompleted {
			done[key.page] = true
		}
	}
	return done, nil
}

func (m *Memory) AggregateDocument(_ context.Context, docID string) (*Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := &Aggregate{}
	var confSum float64
	for key, page := range m.pages {
		if key.docID != docID {
			continue
		}
		switch page.Status {
		case PageStatusCompleted:
			agg.PagesDone++
			confSum += page.Confidence
		case PageStatusFailed:
			agg.FailedPages++
		}
	}
	if agg.PagesDone > 0 {
		agg.ConfidenceAvg = confSum / float64(agg.PagesDone)
	}
	return agg, nil
}

func (m *Memory) UpsertBatch(_ context.Context, batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *batch
	existing := m.batches[batch.DocumentID]
	for i, b := range existing {
		if b.ID == batch.ID {
			existing[i] = &cp
			return nil
		}
	}
	m.batches[batch.DocumentID] = append(existing, &cp)
	return nil
}

func (m *Memory) ListBatches(_ context.Context, docID string) ([]*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.batches[docID]
	out := make([]*Batch, 0, len(src))
	for _, b := range src {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartPage < out[j].StartPage })
	return out, nil
}

func (m *Memory) ReplaceIndexItems(_ context.Context, docID string, items []IndexItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]IndexItem, len(items))
	copy(cp, items)
	m.items[docID] = cp
	return nil
}

func (m *Memory) ListIndexItems(_ context.Context, docID string) ([]IndexItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.items[docID]
	out := make([]IndexItem, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (m *Memory) ReplaceLinks(_ context.Context, docID string, links []Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]Link, len(links))
	copy(cp, links)
	m.links[docID] = cp
	return nil
}

func (m *Memory) ListLinks(_ context.Context, docID string) ([]Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.links[docID]
	out := make([]Link, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (m *Memory) UpdateLinkStatus(_ context.Context, docID string, ordinal int, status LinkStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	links := m.links[docID]
	for i := range links {
		if links[i].Ordinal == ordinal {
			links[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}
