package ocr

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperlinklaw/linkengine/internal/pdf"
	"github.com/hyperlinklaw/linkengine/internal/progress"
	"github.com/hyperlinklaw/linkengine/internal/providers"
	"github.com/hyperlinklaw/linkengine/internal/store"
)

// stubRenderer produces a small valid PNG per page, deterministic across
// calls so checksums are stable.
type stubRenderer struct{}

func (stubRenderer) RenderPage(_ context.Context, _ string, pageNum int) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Pix[0] = uint8(pageNum % 251)
	img.Pix[1] = uint8(pageNum / 251)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// scriptedOCR drives per-call behavior through a function.
type scriptedOCR struct {
	mu    sync.Mutex
	calls int
	fn    func(call, pageNum int) *providers.OCRResult
}

func (s *scriptedOCR) Name() string                  { return "scripted" }
func (s *scriptedOCR) RequestsPerSecond() float64    { return 10000 }
func (s *scriptedOCR) MaxRetries() int               { return 3 }
func (s *scriptedOCR) RetryDelayBase() time.Duration { return time.Millisecond }

func (s *scriptedOCR) ProcessImage(_ context.Context, _ []byte, pageNum int) (*providers.OCRResult, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call, pageNum), nil
}

func (s *scriptedOCR) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestDoc(t *testing.T, st store.Store, totalPages int) *store.Document {
	t.Helper()
	doc := &store.Document{
		ID:          "doc-1",
		Filename:    "brief.pdf",
		TotalPages:  totalPages,
		OCRStatus:   store.OCRStatusQueued,
		IndexStatus: store.IndexStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := st.CreateDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	return doc
}

func newTestExecutor(st store.Store, provider providers.OCRProvider, batchSize int) *Executor {
	gate := NewGate(nil, 0.7, 50, nil)
	return NewExecutor(st, provider, stubRenderer{}, gate, nil, Options{
		BatchSize:  batchSize,
		MaxWorkers: 4,
		MaxRetries: 3,
	}, nil)
}

func TestProcessDocumentCompletes(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 120)
	mock := providers.NewMockOCR()
	exec := newTestExecutor(st, mock, 50)

	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	got, err := st.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.OCRStatus != store.OCRStatusCompleted {
		t.Errorf("status = %s, want completed (error: %s)", got.OCRStatus, got.Error)
	}
	if got.PagesDone != 120 {
		t.Errorf("pages_done = %d, want 120", got.PagesDone)
	}
	if got.ConfidenceAvg < 0.94 || got.ConfidenceAvg > 0.96 {
		t.Errorf("confidence_avg = %f", got.ConfidenceAvg)
	}
	if mock.CallCount() != 120 {
		t.Errorf("provider calls = %d, want 120", mock.CallCount())
	}

	batches, err := st.ListBatches(context.Background(), doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	for _, b := range batches {
		if b.Status != store.BatchStatusCompleted {
			t.Errorf("batch %s status = %s", b.ID, b.Status)
		}
	}
}

func TestProcessDocumentIdempotent(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 25)
	mock := providers.NewMockOCR()
	exec := newTestExecutor(st, mock, 10)

	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := mock.CallCount()
	if first != 25 {
		t.Fatalf("first run made %d calls, want 25", first)
	}

	// Second run must reuse every persisted page.
	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if mock.CallCount() != first {
		t.Errorf("second run made %d extra provider calls, want 0", mock.CallCount()-first)
	}

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.OCRStatus != store.OCRStatusCompleted || got.PagesDone != 25 {
		t.Errorf("after rerun: status=%s pages_done=%d", got.OCRStatus, got.PagesDone)
	}
}

func TestProcessDocumentResumesFromPersistedPages(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 120)

	// Simulate a previous run that finished the first batch.
	for p := 1; p <= 50; p++ {
		err := st.UpsertPage(context.Background(), &store.PageRecord{
			DocumentID:    doc.ID,
			PageNumber:    p,
			ExtractedText: "persisted",
			Confidence:    0.9,
			Checksum:      "prior",
			Status:        store.PageStatusCompleted,
			UpdatedAt:     time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	mock := providers.NewMockOCR()
	exec := newTestExecutor(st, mock, 50)
	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	if mock.CallCount() != 70 {
		t.Errorf("provider calls = %d, want 70", mock.CallCount())
	}
	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.OCRStatus != store.OCRStatusCompleted || got.PagesDone != 120 {
		t.Errorf("status=%s pages_done=%d", got.OCRStatus, got.PagesDone)
	}
}

func TestProcessDocumentPartialFailure(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 10)
	mock := providers.NewMockOCR()
	mock.Results[7] = &providers.OCRResult{
		Success:      false,
		ErrorType:    providers.ErrorTypeMalformed,
		ErrorMessage: "unparseable body",
	}
	exec := newTestExecutor(st, mock, 5)

	err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf")
	if err == nil {
		t.Fatal("expected error for document with failed page")
	}
	if !strings.Contains(err.Error(), "1 of 10 pages failed") {
		t.Errorf("error = %v", err)
	}

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.OCRStatus != store.OCRStatusFailed {
		t.Errorf("status = %s, want failed", got.OCRStatus)
	}
	if got.PagesDone != 9 {
		t.Errorf("pages_done = %d, want 9", got.PagesDone)
	}

	page, err := st.GetPage(context.Background(), doc.ID, 7)
	if err != nil {
		t.Fatal(err)
	}
	if page.Status != store.PageStatusFailed {
		t.Errorf("page 7 status = %s, want failed", page.Status)
	}
	// The sibling pages in the same batch still completed.
	for _, p := range []int{6, 8, 9, 10} {
		rec, err := st.GetPage(context.Background(), doc.ID, p)
		if err != nil || rec.Status != store.PageStatusCompleted {
			t.Errorf("page %d: err=%v status=%v", p, err, rec)
		}
	}
}

func TestProcessDocumentRetriesTransportErrors(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 3)

	var failed bool
	var mu sync.Mutex
	provider := &scriptedOCR{fn: func(call, pageNum int) *providers.OCRResult {
		mu.Lock()
		defer mu.Unlock()
		if pageNum == 3 && !failed {
			failed = true
			return &providers.OCRResult{
				Success:      false,
				ErrorType:    providers.ErrorTypeTransport,
				ErrorMessage: "connection reset",
			}
		}
		return &providers.OCRResult{Success: true, Text: "ok page", Confidence: 0.95}
	}}
	exec := newTestExecutor(st, provider, 50)

	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.OCRStatus != store.OCRStatusCompleted || got.PagesDone != 3 {
		t.Fatalf("status=%s pages_done=%d", got.OCRStatus, got.PagesDone)
	}
	// Attempt 1 processed pages 1-3, attempt 2 skipped 1-2 via checksum
	// dedup and redid page 3.
	if provider.callCount() != 4 {
		t.Errorf("provider calls = %d, want 4", provider.callCount())
	}
}

func TestReOCRKeepsBetterResult(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 1)

	provider := &scriptedOCR{fn: func(call, pageNum int) *providers.OCRResult {
		if call == 1 {
			return &providers.OCRResult{Success: true, Text: "blurry", Confidence: 0.5}
		}
		return &providers.OCRResult{Success: true, Text: "sharp", Confidence: 0.9}
	}}
	exec := newTestExecutor(st, provider, 50)

	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	page, err := st.GetPage(context.Background(), doc.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if page.Confidence != 0.9 || page.ExtractedText != "sharp" {
		t.Errorf("kept confidence=%f text=%q, want enhanced pass", page.Confidence, page.ExtractedText)
	}
	if page.VerificationMethod != MethodEnhanced {
		t.Errorf("verification_method = %q, want %q", page.VerificationMethod, MethodEnhanced)
	}
	if provider.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.callCount())
	}
}

func TestReOCRKeepsOriginalWhenRetryWorse(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 1)

	provider := &scriptedOCR{fn: func(call, pageNum int) *providers.OCRResult {
		if call == 1 {
			return &providers.OCRResult{Success: true, Text: "first", Confidence: 0.6}
		}
		return &providers.OCRResult{Success: true, Text: "worse", Confidence: 0.4}
	}}
	exec := newTestExecutor(st, provider, 50)

	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	page, _ := st.GetPage(context.Background(), doc.ID, 1)
	if page.Confidence != 0.6 || page.ExtractedText != "first" {
		t.Errorf("kept confidence=%f text=%q, want original pass", page.Confidence, page.ExtractedText)
	}
	if page.VerificationMethod != MethodStandard {
		t.Errorf("verification_method = %q, want %q", page.VerificationMethod, MethodStandard)
	}
}

func TestProcessDocumentPublishesProgress(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 10)
	bus := progress.NewBroadcaster(64, nil)
	sub := bus.Subscribe(doc.ID)
	defer sub.Close()

	gate := NewGate(nil, 0.7, 50, nil)
	exec := NewExecutor(st, providers.NewMockOCR(), stubRenderer{}, gate, bus, Options{
		BatchSize:  5,
		MaxWorkers: 1,
		MaxRetries: 3,
	}, nil)

	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	var events []progress.Event
drain:
	for {
		select {
		case ev := <-sub.C:
			events = append(events, ev)
			if ev.Status == string(store.OCRStatusCompleted) {
				break drain
			}
		case <-time.After(time.Second):
			t.Fatal("no terminal progress event")
		}
	}

	last := events[len(events)-1]
	if last.PagesDone != 10 || last.Percent != 100 {
		t.Errorf("terminal event = %+v", last)
	}
	for _, ev := range events {
		if ev.TotalPages != 10 {
			t.Errorf("event total_pages = %d", ev.TotalPages)
		}
	}
}

func TestChecksumStability(t *testing.T) {
	r := stubRenderer{}
	a, _ := r.RenderPage(context.Background(), "x", 5)
	b, _ := r.RenderPage(context.Background(), "x", 5)
	c, _ := r.RenderPage(context.Background(), "x", 6)
	if pdf.Checksum(a) != pdf.Checksum(b) {
		t.Error("checksum not stable for identical renders")
	}
	if pdf.Checksum(a) == pdf.Checksum(c) {
		t.Error("checksum collision across pages")
	}
}

// textLayerRenderer reports a digital text layer for every page.
type textLayerRenderer struct {
	stubRenderer
	text string
}

func (r textLayerRenderer) PageText(_ context.Context, _ string, _ int) (string, error) {
	return r.text, nil
}

func TestTextLayerSkipsOCR(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 5)
	mock := providers.NewMockOCR()

	gate := NewGate(nil, 0.7, 50, nil)
	layerText := strings.Repeat("UNDERTAKINGS GIVEN ON EXAMINATION ", 4)
	exec := NewExecutor(st, mock, textLayerRenderer{text: layerText}, gate, nil, Options{
		BatchSize:  50,
		MaxWorkers: 2,
		MaxRetries: 3,
	}, nil)

	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	if mock.CallCount() != 0 {
		t.Errorf("provider calls = %d, want 0 (text layer present)", mock.CallCount())
	}
	page, err := st.GetPage(context.Background(), doc.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if page.VerificationMethod != MethodTextLayer {
		t.Errorf("verification method = %q, want %q", page.VerificationMethod, MethodTextLayer)
	}
	if page.Confidence != 0.99 {
		t.Errorf("confidence = %v, want 0.99", page.Confidence)
	}
	if page.ExtractedText != strings.TrimSpace(layerText) {
		t.Error("extracted text does not match the text layer")
	}
}

func TestTextLayerTooShortFallsThrough(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 3)
	mock := providers.NewMockOCR()

	gate := NewGate(nil, 0.7, 50, nil)
	exec := NewExecutor(st, mock, textLayerRenderer{text: "blank"}, gate, nil, Options{
		BatchSize:  50,
		MaxWorkers: 2,
		MaxRetries: 3,
	}, nil)

	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if mock.CallCount() != 3 {
		t.Errorf("provider calls = %d, want 3 (unusable text layer)", mock.CallCount())
	}
}

// faultyOCR returns a classified failure result together with a non-nil
// error, the shape the HTTP clients produce.
type faultyOCR struct {
	mu      sync.Mutex
	perPage map[int]int
	fn      func(pageNum int) (*providers.OCRResult, error)
}

func (f *faultyOCR) Name() string                  { return "faulty" }
func (f *faultyOCR) RequestsPerSecond() float64    { return 10000 }
func (f *faultyOCR) MaxRetries() int               { return 3 }
func (f *faultyOCR) RetryDelayBase() time.Duration { return time.Millisecond }

func (f *faultyOCR) ProcessImage(_ context.Context, _ []byte, pageNum int) (*providers.OCRResult, error) {
	f.mu.Lock()
	if f.perPage == nil {
		f.perPage = make(map[int]int)
	}
	f.perPage[pageNum]++
	f.mu.Unlock()
	return f.fn(pageNum)
}

func (f *faultyOCR) callsFor(pageNum int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perPage[pageNum]
}

func TestClassifiedFailureWithErrorFailsOnlyThatPage(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 5)

	provider := &faultyOCR{fn: func(pageNum int) (*providers.OCRResult, error) {
		if pageNum == 2 {
			return &providers.OCRResult{
				Success:      false,
				ErrorType:    providers.ErrorTypeMalformed,
				ErrorMessage: "unparseable OCR response",
			}, context.DeadlineExceeded
		}
		return &providers.OCRResult{Success: true, Text: strings.Repeat("text ", 20), Confidence: 0.95}, nil
	}}
	exec := newTestExecutor(st, provider, 50)

	err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf")
	if err == nil {
		t.Fatal("expected the document to fail")
	}
	if !strings.Contains(err.Error(), "1 of 5 pages failed") {
		t.Errorf("err = %v, want a single failed page", err)
	}

	// The malformed page fails in place, without batch retries.
	if n := provider.callsFor(2); n != 1 {
		t.Errorf("calls for page 2 = %d, want 1", n)
	}

	for _, p := range []int{1, 3, 4, 5} {
		page, gerr := st.GetPage(context.Background(), doc.ID, p)
		if gerr != nil {
			t.Fatalf("page %d: %v", p, gerr)
		}
		if page.Status != store.PageStatusCompleted {
			t.Errorf("page %d status = %s, want completed", p, page.Status)
		}
	}
	failed, gerr := st.GetPage(context.Background(), doc.ID, 2)
	if gerr != nil {
		t.Fatal(gerr)
	}
	if failed.Status != store.PageStatusFailed {
		t.Errorf("page 2 status = %s, want failed", failed.Status)
	}
}

func TestNilResultIsRetryable(t *testing.T) {
	st := store.NewMemory()
	doc := newTestDoc(t, st, 2)

	provider := &faultyOCR{fn: func(pageNum int) (*providers.OCRResult, error) {
		if pageNum == 2 {
			return nil, context.DeadlineExceeded
		}
		return &providers.OCRResult{Success: true, Text: "ok", Confidence: 0.95}, nil
	}}
	exec := newTestExecutor(st, provider, 50)

	if err := exec.ProcessDocument(context.Background(), doc.ID, "brief.pdf"); err == nil {
		t.Fatal("expected the document to fail")
	}
	// No result to classify, so the batch retry budget applies.
	if n := provider.callsFor(2); n != 3 {
		t.Errorf("calls for page 2 = %d, want 3 (retried)", n)
	}
}
