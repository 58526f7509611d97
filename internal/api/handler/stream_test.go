package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow-io/docuflow/internal/api/handler"
	"github.com/docuflow-io/docuflow/internal/progress"
)

func newStreamRouter(tracker *progress.Tracker) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/jobs/{jobID}/stream", handler.NewStreamHandler(tracker))
	return r
}

// sseFrames splits the recorded SSE body into (event, data) pairs.
func sseFrames(t *testing.T, body string) []map[string]string {
	t.Helper()
	var frames []map[string]string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		frame := map[string]string{}
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				frame["event"] = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				frame["data"] = strings.TrimPrefix(line, "data: ")
			}
		}
		require.NotEmpty(t, frame["event"], "block %q", block)
		frames = append(frames, frame)
	}
	return frames
}

func TestStream_DeliversLifecycleAndClosesOnTerminal(t *testing.T) {
	tracker := progress.NewTracker(progress.NewRegistry(time.Minute), progress.NewPublisher())
	router := newStreamRouter(tracker)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest("GET", "/api/v1/jobs/job_1/stream", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		done <- w
	}()

	// Wait for the handler to subscribe before publishing.
	require.Eventually(t, func() bool {
		tracker.Update("job_1", progress.StageUploading, 10, "Uploading document")
		snap, ok := tracker.Snapshot("job_1")
		return ok && snap.Percent == 10
	}, 5*time.Second, 5*time.Millisecond)

	tracker.Update("job_1", progress.StageProcessing, 50, "Extracting")
	tracker.Complete("job_1", "Extraction complete", nil)

	var w *httptest.ResponseRecorder
	select {
	case w = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream handler never returned after terminal event")
	}

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	frames := sseFrames(t, w.Body.String())
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, "complete", last["event"])

	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal([]byte(last["data"]), &snap))
	assert.True(t, snap.Completed)
	assert.Equal(t, 100, snap.Percent)

	// Monotonic percent and exactly one terminal frame.
	prev := 0
	terminals := 0
	for _, f := range frames {
		var s progress.Snapshot
		require.NoError(t, json.Unmarshal([]byte(f["data"]), &s))
		assert.GreaterOrEqual(t, s.Percent, prev)
		prev = s.Percent
		if f["event"] != "progress" {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestStream_UnknownJobGetsInitializingFrame(t *testing.T) {
	tracker := progress.NewTracker(progress.NewRegistry(time.Minute), progress.NewPublisher())
	router := newStreamRouter(tracker)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest("GET", "/api/v1/jobs/job_unknown/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	frames := sseFrames(t, w.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, "progress", frames[0]["event"])

	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal([]byte(frames[0]["data"]), &snap))
	assert.Equal(t, progress.StageInitializing, snap.Stage)
	assert.Equal(t, 0, snap.Percent)
}

func TestStream_LateSubscriberGetsTerminalFrameAndCloses(t *testing.T) {
	tracker := progress.NewTracker(progress.NewRegistry(time.Minute), progress.NewPublisher())
	router := newStreamRouter(tracker)

	tracker.Fail("job_1", "Processing failed")

	req := httptest.NewRequest("GET", "/api/v1/jobs/job_1/stream", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req) // returns immediately: first frame is terminal

	frames := sseFrames(t, w.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["event"])

	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal([]byte(frames[0]["data"]), &snap))
	assert.Equal(t, "Processing failed", snap.Error)
}

func TestStream_CompleteFrameCarriesInlineResult(t *testing.T) {
	tracker := progress.NewTracker(progress.NewRegistry(time.Minute), progress.NewPublisher())
	router := newStreamRouter(tracker)

	tracker.Complete("job_1", "Done", json.RawMessage(`{"fields":{"vendor":"ACME"}}`))

	req := httptest.NewRequest("GET", "/api/v1/jobs/job_1/stream", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	frames := sseFrames(t, w.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "complete", frames[0]["event"])

	var frame struct {
		progress.Snapshot
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[0]["data"]), &frame))
	assert.JSONEq(t, `{"fields":{"vendor":"ACME"}}`, string(frame.Result))
}
