package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/hyperlinklaw/linkengine/internal/jobs"
	"github.com/hyperlinklaw/linkengine/internal/pipeline"
	"github.com/hyperlinklaw/linkengine/internal/store"
)

func seedDoc(t *testing.T, st store.Store, id string, status store.OCRStatus, startedAt *time.Time) {
	t.Helper()
	doc := &store.Document{
		ID:          id,
		Filename:    id + ".pdf",
		TotalPages:  10,
		OCRStatus:   status,
		IndexStatus: store.IndexStatusPending,
		StartedAt:   startedAt,
	}
	if err := st.CreateDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
}

func newResumer(t *testing.T, st store.Store, pool *jobs.Pool) *Resumer {
	t.Helper()
	pl := pipeline.New(st, nil, nil, nil, nil)
	return NewResumer(st, pool, pl, t.TempDir(), nil)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestResumeResubmitsQueuedDocuments(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-a", store.OCRStatusQueued, nil)
	seedDoc(t, st, "doc-b", store.OCRStatusQueued, nil)

	pool := jobs.NewPool(8, 1, nil) // not started; jobs stay queued
	r := newResumer(t, st, pool)

	resumed, err := r.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed != 2 {
		t.Errorf("resumed = %d, want 2", resumed)
	}
	if pool.ActiveCount() != 2 {
		t.Errorf("active jobs = %d, want 2", pool.ActiveCount())
	}
}

func TestResumeDemotesAllProcessing(t *testing.T) {
	st := store.NewMemory()
	// Both an old run and one interrupted minutes ago: at process start
	// nothing is in flight, so both are resubmitted.
	seedDoc(t, st, "doc-old", store.OCRStatusProcessing, timePtr(time.Now().Add(-3*time.Hour)))
	seedDoc(t, st, "doc-recent", store.OCRStatusProcessing, timePtr(time.Now().Add(-10*time.Minute)))
	seedDoc(t, st, "doc-orphan", store.OCRStatusProcessing, nil)

	pool := jobs.NewPool(8, 1, nil)
	r := newResumer(t, st, pool)

	resumed, err := r.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed != 3 {
		t.Errorf("resumed = %d, want all interrupted documents", resumed)
	}
	for _, id := range []string{"doc-old", "doc-recent", "doc-orphan"} {
		doc, err := st.GetDocument(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if doc.OCRStatus != store.OCRStatusQueued {
			t.Errorf("%s status = %s, want queued", id, doc.OCRStatus)
		}
	}
}

func TestResumeIsolatesSubmissionFailures(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-a", store.OCRStatusQueued, nil)
	seedDoc(t, st, "doc-b", store.OCRStatusQueued, nil)
	seedDoc(t, st, "doc-c", store.OCRStatusQueued, nil)

	// Queue of one with no running workers: the second and third
	// submissions hit a full queue, the first still goes through and
	// Resume reports no error.
	pool := jobs.NewPool(1, 1, nil)
	r := newResumer(t, st, pool)

	resumed, err := r.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed != 1 {
		t.Errorf("resumed = %d, want 1", resumed)
	}
}

func TestResumeNothingToDo(t *testing.T) {
	st := store.NewMemory()
	seedDoc(t, st, "doc-done", store.OCRStatusCompleted, nil)
	seedDoc(t, st, "doc-failed", store.OCRStatusFailed, nil)

	pool := jobs.NewPool(8, 1, nil)
	r := newResumer(t, st, pool)

	resumed, err := r.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed != 0 {
		t.Errorf("resumed = %d, want 0", resumed)
	}
}
