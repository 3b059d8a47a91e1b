package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hyperlinklaw/linkengine/internal/progress"
)

// handleProgress streams document progress as server-sent events. An
// initial snapshot from the store is sent immediately so late subscribers
// see current state; live events follow. Slow consumers miss intermediate
// events rather than stalling the pipeline, and the terminal status event
// always arrives because it is published last.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "progress streaming not enabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.bus.Subscribe(doc.ID)
	defer sub.Close()

	snapshot := progress.Event{
		DocumentID:    doc.ID,
		Status:        string(doc.OCRStatus),
		PagesDone:     doc.PagesDone,
		TotalPages:    doc.TotalPages,
		AvgConfidence: doc.ConfidenceAvg,
		Timestamp:     time.Now(),
	}
	if doc.TotalPages > 0 {
		snapshot.Percent = doc.PagesDone * 100 / doc.TotalPages
	}
	writeSSE(w, snapshot)
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev progress.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
}
