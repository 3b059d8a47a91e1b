package index

import (
	"context"
	"testing"
	"time"

	"github.com/hyperlinklaw/linkengine/internal/store"
)

func seedPages(t *testing.T, st store.Store, docID string, texts map[int]string) {
	t.Helper()
	for page, text := range texts {
		err := st.UpsertPage(context.Background(), &store.PageRecord{
			DocumentID:    docID,
			PageNumber:    page,
			ExtractedText: text,
			Confidence:    0.95,
			Status:        store.PageStatusCompleted,
			UpdatedAt:     time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func seedDoc(t *testing.T, st store.Store, docID string, totalPages int) {
	t.Helper()
	err := st.CreateDocument(context.Background(), &store.Document{
		ID:          docID,
		Filename:    "record.pdf",
		TotalPages:  totalPages,
		OCRStatus:   store.OCRStatusCompleted,
		IndexStatus: store.IndexStatusPending,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExtractDetectsIndex(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-1", 50)
	seedPages(t, st, "doc-1", map[int]string{
		1: "MOTION RECORD\nof the Respondent",
		2: "INDEX\n\n1. Affidavit of Jane Smith\n2) Exhibit A - Purchase Agreement\n3. Exhibit B - Correspondence\n4 - Transcript of Cross-Examination",
		3: "This page begins the affidavit evidence.",
	})

	ex := NewExtractor(st, Options{ScanPages: 50, MaxItems: 200}, nil)
	items, err := ex.Extract(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("got %d items, want 4: %+v", len(items), items)
	}

	want := []struct {
		ordinal int
		label   string
	}{
		{1, "Affidavit of Jane Smith"},
		{2, "Exhibit A - Purchase Agreement"},
		{3, "Exhibit B - Correspondence"},
		{4, "Transcript of Cross-Examination"},
	}
	for i, w := range want {
		if items[i].Ordinal != w.ordinal || items[i].Label != w.label {
			t.Errorf("item %d = {%d %q}, want {%d %q}",
				i, items[i].Ordinal, items[i].Label, w.ordinal, w.label)
		}
		if items[i].SourcePage != 2 {
			t.Errorf("item %d source_page = %d, want 2", i, items[i].SourcePage)
		}
	}

	doc, _ := st.GetDocument(context.Background(), "doc-1")
	if doc.IndexStatus != store.IndexStatusDetected {
		t.Errorf("index_status = %s, want detected", doc.IndexStatus)
	}
}

func TestExtractTableOfContentsMarker(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-1", 10)
	seedPages(t, st, "doc-1", map[int]string{
		1: "Table of Contents\n\n1. Exhibit A - Trust Deed\n2. Exhibit B - Valuation Report",
	})

	ex := NewExtractor(st, Options{}, nil)
	items, err := ex.Extract(context.Background(), "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
}

func TestExtractNoIndex(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-1", 10)
	seedPages(t, st, "doc-1", map[int]string{
		1: "AFFIDAVIT OF JOHN DOE\nI, John Doe, swear as follows:",
		2: "1. I am the applicant in this proceeding.",
	})

	ex := NewExtractor(st, Options{}, nil)
	items, err := ex.Extract(context.Background(), "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("got %d items, want 0: %+v", len(items), items)
	}

	doc, _ := st.GetDocument(context.Background(), "doc-1")
	if doc.IndexStatus != store.IndexStatusNone {
		t.Errorf("index_status = %s, want none", doc.IndexStatus)
	}
}

func TestExtractWrappedTitles(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-1", 10)
	seedPages(t, st, "doc-1", map[int]string{
		1: "INDEX\n\n1. Affidavit of Jane Smith sworn\nJanuary 15, 2024\n2. Exhibit A - Agreement",
	})

	ex := NewExtractor(st, Options{}, nil)
	items, err := ex.Extract(context.Background(), "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: %+v", len(items), items)
	}
	if items[0].Label != "Affidavit of Jane Smith sworn January 15, 2024" {
		t.Errorf("wrapped label = %q", items[0].Label)
	}
}

func TestExtractContinuationPages(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-1", 20)

	t.Run("continues with enough items", func(t *testing.T) {
		seedPages(t, st, "doc-1", map[int]string{
			1: "INDEX\n\n1. Exhibit A - Lease\n2. Exhibit B - Amendment",
			2: "3. Exhibit C - Notice of Termination\n4. Exhibit D - Reply",
			3: "The within affidavit is sworn by the respondent.",
		})
		ex := NewExtractor(st, Options{}, nil)
		items, err := ex.Extract(context.Background(), "doc-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(items) != 4 {
			t.Fatalf("got %d items, want 4: %+v", len(items), items)
		}
		if items[2].SourcePage != 2 {
			t.Errorf("continuation item source_page = %d, want 2", items[2].SourcePage)
		}
	})

	t.Run("stops when next page has too few items", func(t *testing.T) {
		st := store.NewMemory()
		seedDoc(t, st, "doc-2", 20)
		seedPages(t, st, "doc-2", map[int]string{
			1: "INDEX\n\n1. Exhibit A - Lease\n2. Exhibit B - Amendment",
			2: "1. I am the landlord of the premises described below.",
		})
		ex := NewExtractor(st, Options{}, nil)
		items, err := ex.Extract(context.Background(), "doc-2")
		if err != nil {
			t.Fatal(err)
		}
		if len(items) != 2 {
			t.Fatalf("got %d items, want 2: %+v", len(items), items)
		}
	})
}

func TestExtractNormalizesDashes(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-1", 10)
	seedPages(t, st, "doc-1", map[int]string{
		1: "INDEX\n\n1. Exhibit A — Shareholder Agreement\n2. Exhibit B – Resolutions",
	})

	ex := NewExtractor(st, Options{}, nil)
	items, err := ex.Extract(context.Background(), "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Label != "Exhibit A - Shareholder Agreement" {
		t.Errorf("label = %q, want plain hyphen", items[0].Label)
	}
}

func TestExtractSkipsShortLabels(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-1", 10)
	seedPages(t, st, "doc-1", map[int]string{
		1: "INDEX\n\n1. AB\n2. Exhibit A - Financial Statements\n3. CD",
	})

	ex := NewExtractor(st, Options{}, nil)
	items, err := ex.Extract(context.Background(), "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1: %+v", len(items), items)
	}
	if items[0].Ordinal != 2 {
		t.Errorf("kept ordinal %d, want 2", items[0].Ordinal)
	}
}

func TestExtractCapsItems(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-1", 10)

	text := "INDEX\n"
	for i := 1; i <= 20; i++ {
		text += "\n" + string(rune('0'+i/10)) + string(rune('0'+i%10)) + ". Exhibit item number entry\n"
	}
	seedPages(t, st, "doc-1", map[int]string{1: text})

	ex := NewExtractor(st, Options{MaxItems: 5}, nil)
	items, err := ex.Extract(context.Background(), "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 5 {
		t.Fatalf("got %d items, want cap of 5", len(items))
	}
}
