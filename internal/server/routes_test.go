package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperlinklaw/linkengine/internal/jobs"
	"github.com/hyperlinklaw/linkengine/internal/pipeline"
	"github.com/hyperlinklaw/linkengine/internal/store"
	"github.com/hyperlinklaw/linkengine/internal/validate"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// The pool is never started, so submitted jobs sit queued and the
	// pipeline stages are never reached.
	pool := jobs.NewPool(8, 1, logger)
	pl := pipeline.New(st, nil, nil, nil, logger)

	srv, err := New(Config{
		DataDir:  t.TempDir(),
		Store:    st,
		Pool:     pool,
		Pipeline: pl,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, st
}

func doRequest(t *testing.T, srv *Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

func seedDocument(t *testing.T, st store.Store, id string, totalPages int) {
	t.Helper()
	doc := &store.Document{
		ID:          id,
		Filename:    id + ".pdf",
		TotalPages:  totalPages,
		OCRStatus:   store.OCRStatusQueued,
		IndexStatus: store.IndexStatusPending,
	}
	if err := st.CreateDocument(t.Context(), doc); err != nil {
		t.Fatal(err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestGetDocument(t *testing.T) {
	srv, st := newTestServer(t)
	seedDocument(t, st, "doc-1", 120)

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/documents/doc-1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var doc store.Document
		decodeBody(t, rec, &doc)
		if doc.ID != "doc-1" || doc.TotalPages != 120 {
			t.Errorf("document = %+v", doc)
		}
	})

	t.Run("missing", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/documents/nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		var resp ErrorResponse
		decodeBody(t, rec, &resp)
		if resp.Error != "document not found" {
			t.Errorf("error = %q", resp.Error)
		}
	})
}

func TestListDocumentsFilter(t *testing.T) {
	srv, st := newTestServer(t)
	seedDocument(t, st, "doc-a", 10)
	seedDocument(t, st, "doc-b", 10)
	if err := st.UpdateDocumentStatus(t.Context(), "doc-b", store.OCRStatusCompleted, ""); err != nil {
		t.Fatal(err)
	}

	var resp struct {
		Count     int               `json:"count"`
		Documents []*store.Document `json:"documents"`
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/documents", nil)
	decodeBody(t, rec, &resp)
	if resp.Count != 2 {
		t.Errorf("unfiltered count = %d, want 2", resp.Count)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/documents?status=completed", nil)
	decodeBody(t, rec, &resp)
	if resp.Count != 1 || resp.Documents[0].ID != "doc-b" {
		t.Errorf("filtered = %+v, want only doc-b", resp.Documents)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/documents?status=queued,completed", nil)
	decodeBody(t, rec, &resp)
	if resp.Count != 2 {
		t.Errorf("multi-status count = %d, want 2", resp.Count)
	}
}

func TestProcessSubmission(t *testing.T) {
	srv, st := newTestServer(t)
	seedDocument(t, st, "doc-1", 10)

	rec := doRequest(t, srv, http.MethodPost, "/api/documents/doc-1/process", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first submission status = %d, want 202", rec.Code)
	}

	// The job is still queued, so a second submission for the same
	// document is a conflict.
	rec = doRequest(t, srv, http.MethodPost, "/api/documents/doc-1/process", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate submission status = %d, want 409", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/documents/nope/process", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown document status = %d, want 404", rec.Code)
	}
}

func TestUploadRejections(t *testing.T) {
	srv, _ := newTestServer(t)

	newUpload := func(t *testing.T, field, filename string) (*bytes.Buffer, string) {
		t.Helper()
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("%PDF-1.4 not really"))
		mw.Close()
		return &buf, mw.FormDataContentType()
	}

	t.Run("missing file field", func(t *testing.T) {
		body, contentType := newUpload(t, "attachment", "brief.pdf")
		req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("not a pdf", func(t *testing.T) {
		body, contentType := newUpload(t, "file", "notes.txt")
		req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		var resp ErrorResponse
		decodeBody(t, rec, &resp)
		if !strings.Contains(resp.Error, "not a PDF") {
			t.Errorf("error = %q, want a PDF rejection", resp.Error)
		}
	})
}

func TestLinkReview(t *testing.T) {
	srv, st := newTestServer(t)
	seedDocument(t, st, "doc-1", 50)
	links := []store.Link{
		{DocumentID: "doc-1", Ordinal: 1, SourcePage: 2, DestPage: 14, Status: store.LinkStatusPending, Confidence: 1.0, Method: "exact_exhibit"},
		{DocumentID: "doc-1", Ordinal: 2, SourcePage: 2, DestPage: 30, Status: store.LinkStatusPending, Confidence: 0.85, Method: "token_exhibit"},
	}
	if err := st.ReplaceLinks(t.Context(), "doc-1", links); err != nil {
		t.Fatal(err)
	}

	t.Run("approve", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/documents/doc-1/links/1/approve", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		stored, _ := st.ListLinks(t.Context(), "doc-1")
		if stored[0].Status != store.LinkStatusApproved {
			t.Errorf("link status = %s, want approved", stored[0].Status)
		}
	})

	t.Run("reject", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/documents/doc-1/links/2/reject", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		stored, _ := st.ListLinks(t.Context(), "doc-1")
		if stored[1].Status != store.LinkStatusRejected {
			t.Errorf("link status = %s, want rejected", stored[1].Status)
		}
	})

	t.Run("unknown ordinal", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/documents/doc-1/links/99/approve", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("bad ordinal", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/documents/doc-1/links/abc/approve", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestValidateEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	seedDocument(t, st, "doc-1", 50)

	items := []store.IndexItem{
		{DocumentID: "doc-1", Ordinal: 1, Label: "Exhibit A", SourcePage: 2},
		{DocumentID: "doc-1", Ordinal: 2, Label: "Exhibit B", SourcePage: 2},
	}
	if err := st.ReplaceIndexItems(t.Context(), "doc-1", items); err != nil {
		t.Fatal(err)
	}

	t.Run("incomplete link set", func(t *testing.T) {
		links := []store.Link{
			{DocumentID: "doc-1", Ordinal: 1, SourcePage: 2, DestPage: 14, Status: store.LinkStatusPending},
		}
		if err := st.ReplaceLinks(t.Context(), "doc-1", links); err != nil {
			t.Fatal(err)
		}
		rec := doRequest(t, srv, http.MethodGet, "/api/documents/doc-1/validate", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var report validate.Report
		decodeBody(t, rec, &report)
		if report.IsValid {
			t.Error("report valid with a missing link")
		}
		if len(report.Violations) == 0 {
			t.Error("no violations reported")
		}
	})

	t.Run("complete link set", func(t *testing.T) {
		links := []store.Link{
			{DocumentID: "doc-1", Ordinal: 1, SourcePage: 2, DestPage: 14, Status: store.LinkStatusPending},
			{DocumentID: "doc-1", Ordinal: 2, SourcePage: 2, DestPage: 30, Status: store.LinkStatusPending},
		}
		if err := st.ReplaceLinks(t.Context(), "doc-1", links); err != nil {
			t.Fatal(err)
		}
		rec := doRequest(t, srv, http.MethodGet, "/api/documents/doc-1/validate", nil)
		var resp ValidationResponse
		decodeBody(t, rec, &resp)
		if !resp.IsValid {
			t.Errorf("report invalid: %v", resp.Violations)
		}
		if len(resp.ResultHash) != 64 {
			t.Errorf("result hash = %q, want a sha256 hex digest", resp.ResultHash)
		}

		// The fingerprint is a pure function of the link set.
		rec = doRequest(t, srv, http.MethodGet, "/api/documents/doc-1/validate", nil)
		var again ValidationResponse
		decodeBody(t, rec, &again)
		if again.ResultHash != resp.ResultHash {
			t.Error("result hash differs across identical validations")
		}
	})
}

func TestListBatchesAndIndex(t *testing.T) {
	srv, st := newTestServer(t)
	seedDocument(t, st, "doc-1", 120)

	batches := []*store.Batch{
		{ID: "doc-1:1-50", DocumentID: "doc-1", StartPage: 1, EndPage: 50, Status: store.BatchStatusCompleted, PagesDone: 50},
		{ID: "doc-1:51-100", DocumentID: "doc-1", StartPage: 51, EndPage: 100, Status: store.BatchStatusProcessing, PagesDone: 12},
	}
	for _, b := range batches {
		if err := st.UpsertBatch(t.Context(), b); err != nil {
			t.Fatal(err)
		}
	}

	var batchResp struct {
		Count   int            `json:"count"`
		Batches []*store.Batch `json:"batches"`
	}
	rec := doRequest(t, srv, http.MethodGet, "/api/documents/doc-1/batches", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	decodeBody(t, rec, &batchResp)
	if batchResp.Count != 2 || batchResp.Batches[0].ID != "doc-1:1-50" {
		t.Errorf("batches = %+v", batchResp)
	}

	items := []store.IndexItem{{DocumentID: "doc-1", Ordinal: 1, Label: "Exhibit A", SourcePage: 2}}
	if err := st.ReplaceIndexItems(t.Context(), "doc-1", items); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateDocumentIndexStatus(t.Context(), "doc-1", store.IndexStatusDetected); err != nil {
		t.Fatal(err)
	}

	var indexResp struct {
		IndexStatus string            `json:"index_status"`
		Count       int               `json:"count"`
		Items       []store.IndexItem `json:"items"`
	}
	rec = doRequest(t, srv, http.MethodGet, "/api/documents/doc-1/index", nil)
	decodeBody(t, rec, &indexResp)
	if indexResp.IndexStatus != "detected" || indexResp.Count != 1 {
		t.Errorf("index response = %+v", indexResp)
	}
}
