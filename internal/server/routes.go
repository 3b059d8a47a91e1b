package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlinklaw/linkengine/internal/pdf"
	"github.com/hyperlinklaw/linkengine/internal/pipeline"
	"github.com/hyperlinklaw/linkengine/internal/resolve"
	"github.com/hyperlinklaw/linkengine/internal/store"
	"github.com/hyperlinklaw/linkengine/internal/validate"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/documents", s.handleUpload)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("POST /api/documents/{id}/process", s.handleProcess)
	mux.HandleFunc("GET /api/documents/{id}/batches", s.handleListBatches)
	mux.HandleFunc("GET /api/documents/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /api/documents/{id}/index", s.handleListIndex)
	mux.HandleFunc("GET /api/documents/{id}/links", s.handleListLinks)
	mux.HandleFunc("POST /api/documents/{id}/links/{ordinal}/approve", s.handleLinkReview(store.LinkStatusApproved))
	mux.HandleFunc("POST /api/documents/{id}/links/{ordinal}/reject", s.handleLinkReview(store.LinkStatusRejected))
	mux.HandleFunc("GET /api/documents/{id}/validate", s.handleValidate)
}

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// UploadResponse is returned after a successful document upload.
type UploadResponse struct {
	Document *store.Document `json:"document"`
	Queued   bool            `json:"queued"`
}

// handleUpload accepts a multipart PDF upload, persists it under the data
// directory keyed by document ID, and records the document as queued.
// With auto_process=true the document is submitted to the pipeline
// immediately.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 100 << 20
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one file is required")
		return
	}
	fh := files[0]
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file %s is not a PDF", fh.Filename))
		return
	}

	docID := uuid.NewString()
	destPath := pipeline.DocumentPath(s.dataDir, docID)
	if err := saveUpload(fh, destPath); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save upload: %v", err))
		return
	}

	totalPages, err := pdf.PageCount(destPath)
	if err != nil {
		os.Remove(destPath)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unreadable PDF: %v", err))
		return
	}

	doc := &store.Document{
		ID:          docID,
		Filename:    fh.Filename,
		TotalPages:  totalPages,
		OCRStatus:   store.OCRStatusQueued,
		IndexStatus: store.IndexStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		os.Remove(destPath)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to record document: %v", err))
		return
	}

	queued := false
	if r.FormValue("auto_process") == "true" {
		if err := s.submitDocument(docID); err != nil {
			s.logger.Warn("auto-process submission failed", "document_id", docID, "error", err)
		} else {
			queued = true
		}
	}

	s.logger.Info("document uploaded",
		"document_id", docID,
		"filename", fh.Filename,
		"pages", totalPages,
		"queued", queued)
	writeJSON(w, http.StatusAccepted, UploadResponse{Document: doc, Queued: queued})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var statuses []store.OCRStatus
	if q := r.URL.Query().Get("status"); q != "" {
		for _, part := range strings.Split(q, ",") {
			statuses = append(statuses, store.OCRStatus(strings.TrimSpace(part)))
		}
	}
	docs, err := s.store.ListDocumentsByStatus(r.Context(), statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleProcess submits a document to the pipeline. Submitting a document
// that is already queued or running returns 409.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	if err := s.submitDocument(doc.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": doc.ID, "status": "submitted"})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	batches, err := s.store.ListBatches(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches, "count": len(batches)})
}

func (s *Server) handleListIndex(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	items, err := s.store.ListIndexItems(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index_status": doc.IndexStatus,
		"items":        items,
		"count":        len(items),
	})
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	links, err := s.store.ListLinks(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links, "count": len(links)})
}

func (s *Server) handleLinkReview(status store.LinkStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := s.loadDocument(w, r)
		if !ok {
			return
		}
		ordinal, err := strconv.Atoi(r.PathValue("ordinal"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ordinal")
			return
		}
		if err := s.store.UpdateLinkStatus(r.Context(), doc.ID, ordinal, status); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "link not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.logger.Info("link reviewed", "document_id", doc.ID, "ordinal", ordinal, "status", status)
		writeJSON(w, http.StatusOK, map[string]any{"ordinal": ordinal, "status": status})
	}
}

// ValidationResponse pairs the strict report with the link-set fingerprint
// so callers can compare runs.
type ValidationResponse struct {
	validate.Report
	ResultHash string `json:"result_hash"`
}

// handleValidate runs the strict link-set check against the stored index
// and links.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	items, err := s.store.ListIndexItems(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	links, err := s.store.ListLinks(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ValidationResponse{
		Report:     validate.Strict(items, links, doc.TotalPages),
		ResultHash: resolve.LinkHash(links),
	})
}

func (s *Server) submitDocument(docID string) error {
	return s.pool.Submit(&pipeline.DocumentJob{
		DocID:    docID,
		PDFPath:  pipeline.DocumentPath(s.dataDir, docID),
		Pipeline: s.pipeline,
	})
}

func (s *Server) loadDocument(w http.ResponseWriter, r *http.Request) (*store.Document, bool) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return doc, true
}

func saveUpload(fh *multipart.FileHeader, destPath string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(destPath)
		return err
	}
	return nil
}
