package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docuflow-io/docuflow/internal/api/response"
	"github.com/docuflow-io/docuflow/internal/progress"
)

// streamFrame is the JSON body of one SSE data line.
type streamFrame struct {
	progress.Snapshot
	Result json.RawMessage `json:"result,omitempty"`
}

// NewStreamHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/stream: a long-lived SSE connection delivering
// progress frames until the job's single terminal event, which closes it.
// A job that has not reported yet streams an initializing frame first, so a
// client that connects before the runner's first update still gets a
// consistent opening frame.
func NewStreamHandler(tracker *progress.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"jobID is required", nil)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Streaming is not supported", nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		ch := tracker.Subscribe(jobID)
		defer tracker.Unsubscribe(jobID, ch)

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-ch:
				if !open {
					// Replaced by a newer subscription for the same job.
					return
				}
				writeEvent(w, flusher, ev)
				if ev.Name != progress.EventProgress {
					return
				}
			}
		}
	}
}

func writeEvent(w io.Writer, flusher http.Flusher, ev progress.Event) {
	data, err := json.Marshal(streamFrame{Snapshot: ev.Snapshot, Result: ev.Result})
	if err != nil {
		slog.Error("encoding stream frame", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", ev.Name)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
