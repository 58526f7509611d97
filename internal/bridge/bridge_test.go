package bridge_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow-io/docuflow/internal/bridge"
	"github.com/docuflow-io/docuflow/internal/cache"
	"github.com/docuflow-io/docuflow/internal/progress"
	"github.com/docuflow-io/docuflow/internal/results"
	"github.com/docuflow-io/docuflow/pkg/models"
)

// --- fake pipeline client ---

type fakeClient struct {
	mu        sync.Mutex
	statuses  []bridge.Status
	statusIdx int

	submitErr error
	statusErr error
	cancelErr error

	submitted bool
	cancelled []string
}

func (f *fakeClient) Submit(_ context.Context, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = true
	return "remote_1", nil
}

func (f *fakeClient) Status(_ context.Context, _ string) (bridge.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return bridge.Status{}, f.statusErr
	}
	st := f.statuses[f.statusIdx]
	if f.statusIdx < len(f.statuses)-1 {
		f.statusIdx++
	}
	return st, nil
}

func (f *fakeClient) Cancel(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, remoteID)
	return nil
}

var _ bridge.Client = (*fakeClient)(nil)

// --- in-memory cache for the result store ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) GetDel(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	delete(c.data, key)
	return v, ok, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Ping(_ context.Context) error { return nil }

func (c *memCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*memCache)(nil)

// --- harness ---

func newHarness(client bridge.Client) (*bridge.Bridge, *progress.Tracker, *results.Store) {
	tracker := progress.NewTracker(progress.NewRegistry(time.Minute), progress.NewPublisher())
	store := results.New(newMemCache(), time.Minute)
	b := bridge.New(client, tracker, store, time.Millisecond, time.Second, time.Minute)
	return b, tracker, store
}

// collectEvents drains the subscription until the terminal event closes it.
func collectEvents(t *testing.T, ch <-chan progress.Event) []progress.Event {
	t.Helper()
	var events []progress.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for terminal event")
		}
	}
}

func testDoc() models.Document {
	return models.Document{Name: "report.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}
}

// --- tests ---

func TestBridge_CompletedJob_ReemitsProgressAndResult(t *testing.T) {
	payload := json.RawMessage(`{"fields":{"vendor":"ACME"}}`)
	client := &fakeClient{statuses: []bridge.Status{
		{State: bridge.StateQueued, Stage: "uploading", Progress: 5, Message: "Queued"},
		{State: bridge.StateProcessing, Stage: "processing", Progress: 40, Message: "Running OCR"},
		{State: bridge.StateProcessing, Stage: "finalizing", Progress: 90, Message: "Assembling output"},
		{State: bridge.StateCompleted, Progress: 100, Message: "Done", Result: payload},
	}}
	b, tracker, store := newHarness(client)

	ch := tracker.Subscribe("job_1")
	b.Start("job_1", testDoc())

	events := collectEvents(t, ch)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, progress.EventComplete, last.Name)
	assert.Equal(t, "Done", last.Snapshot.Message)
	assert.JSONEq(t, string(payload), string(last.Result))

	prev := 0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Snapshot.Percent, prev)
		prev = ev.Snapshot.Percent
	}

	// The inline result is also retrievable from the store, once.
	got, found, err := store.Take(context.Background(), "job_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, string(payload), string(got))

	_, found, err = store.Take(context.Background(), "job_1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBridge_SubmitFailure(t *testing.T) {
	client := &fakeClient{submitErr: bridge.ErrPipelineUnreachable}
	b, tracker, _ := newHarness(client)

	ch := tracker.Subscribe("job_1")
	b.Start("job_1", testDoc())

	events := collectEvents(t, ch)
	last := events[len(events)-1]
	assert.Equal(t, progress.EventError, last.Name)
	assert.Equal(t, "Could not reach processing service", last.Snapshot.Error)
}

func TestBridge_PollTransportErrorIsTerminal(t *testing.T) {
	client := &fakeClient{statusErr: bridge.ErrPipelineUnreachable}
	b, tracker, _ := newHarness(client)

	ch := tracker.Subscribe("job_1")
	b.Start("job_1", testDoc())

	events := collectEvents(t, ch)
	last := events[len(events)-1]
	assert.Equal(t, progress.EventError, last.Name)
	assert.Equal(t, "Lost connection to processing service", last.Snapshot.Error)

	terminals := 0
	for _, ev := range events {
		if ev.Name != progress.EventProgress {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals, "exactly one terminal event")
}

func TestBridge_PollTimeout(t *testing.T) {
	client := &fakeClient{statusErr: bridge.ErrPipelineTimeout}
	b, tracker, _ := newHarness(client)

	ch := tracker.Subscribe("job_1")
	b.Start("job_1", testDoc())

	events := collectEvents(t, ch)
	assert.Equal(t, "Processing service timed out", events[len(events)-1].Snapshot.Error)
}

func TestBridge_RemoteError_SurfacesRemoteMessage(t *testing.T) {
	client := &fakeClient{statuses: []bridge.Status{
		{State: bridge.StateError, Error: "Unsupported file format"},
	}}
	b, tracker, _ := newHarness(client)

	ch := tracker.Subscribe("job_1")
	b.Start("job_1", testDoc())

	events := collectEvents(t, ch)
	last := events[len(events)-1]
	assert.Equal(t, progress.EventError, last.Name)
	assert.Equal(t, "Unsupported file format", last.Snapshot.Error)
}

func TestBridge_RemoteErrorWithoutMessage_UsesFallback(t *testing.T) {
	client := &fakeClient{statuses: []bridge.Status{
		{State: bridge.StateError},
	}}
	b, tracker, _ := newHarness(client)

	ch := tracker.Subscribe("job_1")
	b.Start("job_1", testDoc())

	events := collectEvents(t, ch)
	assert.Equal(t, "Processing failed", events[len(events)-1].Snapshot.Error)
}

func TestBridge_UnknownStageMapsToProcessing(t *testing.T) {
	client := &fakeClient{statuses: []bridge.Status{
		{State: bridge.StateProcessing, Stage: "ocr-pass-2", Progress: 50},
		{State: bridge.StateCompleted, Progress: 100},
	}}
	b, tracker, _ := newHarness(client)

	ch := tracker.Subscribe("job_1")
	b.Start("job_1", testDoc())

	events := collectEvents(t, ch)
	sawProcessing := false
	for _, ev := range events {
		if ev.Snapshot.Percent == 50 {
			assert.Equal(t, progress.StageProcessing, ev.Snapshot.Stage)
			sawProcessing = true
		}
	}
	assert.True(t, sawProcessing)
}

func TestBridge_CancelForwardsToRemote(t *testing.T) {
	client := &fakeClient{statuses: []bridge.Status{
		{State: bridge.StateProcessing, Stage: "processing", Progress: 30},
	}}
	b, tracker, _ := newHarness(client)

	ch := tracker.Subscribe("job_1")
	b.Start("job_1", testDoc())

	// Wait until the submit registered the remote ID.
	require.Eventually(t, func() bool {
		snap, ok := tracker.Snapshot("job_1")
		return ok && snap.Percent >= 30
	}, 5*time.Second, time.Millisecond)

	owned, err := b.Cancel(context.Background(), "job_1")
	require.NoError(t, err)
	assert.True(t, owned)

	client.mu.Lock()
	assert.Equal(t, []string{"remote_1"}, client.cancelled)
	// Let the poll loop observe the cancellation on its next tick.
	client.statuses = []bridge.Status{{State: bridge.StateCancelled, Error: "Job cancelled"}}
	client.statusIdx = 0
	client.mu.Unlock()

	events := collectEvents(t, ch)
	last := events[len(events)-1]
	assert.Equal(t, progress.EventError, last.Name)
	assert.Equal(t, "Job cancelled", last.Snapshot.Error)
}

func TestBridge_AbandonedStreamStopsPolling(t *testing.T) {
	client := &fakeClient{statuses: []bridge.Status{
		{State: bridge.StateProcessing, Stage: "processing", Progress: 30},
	}}
	tracker := progress.NewTracker(progress.NewRegistry(time.Minute), progress.NewPublisher())
	store := results.New(newMemCache(), time.Minute)
	b := bridge.New(client, tracker, store, time.Millisecond, time.Second, 10*time.Millisecond)

	ch := tracker.Subscribe("job_1")
	b.Start("job_1", testDoc())

	require.Eventually(t, func() bool {
		snap, ok := tracker.Snapshot("job_1")
		return ok && snap.Percent >= 30
	}, 5*time.Second, time.Millisecond)

	// Client walks away.
	tracker.Unsubscribe("job_1", ch)

	// The loop stops: remote job cancelled, registry entry evicted.
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.cancelled) > 0
	}, 5*time.Second, time.Millisecond)

	assert.Eventually(t, func() bool {
		_, ok := tracker.Snapshot("job_1")
		return !ok
	}, 5*time.Second, time.Millisecond)
}

func TestBridge_CancelUnknownJob(t *testing.T) {
	b, _, _ := newHarness(&fakeClient{})

	owned, err := b.Cancel(context.Background(), "job_never_submitted")
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestBridge_CancelForwardingFailureIsReturned(t *testing.T) {
	client := &fakeClient{
		statuses:  []bridge.Status{{State: bridge.StateProcessing, Progress: 10}},
		cancelErr: bridge.ErrPipelineUnreachable,
	}
	b, tracker, _ := newHarness(client)

	b.Start("job_1", testDoc())
	require.Eventually(t, func() bool {
		snap, ok := tracker.Snapshot("job_1")
		return ok && snap.Percent >= 10
	}, 5*time.Second, time.Millisecond)

	owned, err := b.Cancel(context.Background(), "job_1")
	assert.True(t, owned)
	require.Error(t, err)
	assert.ErrorIs(t, err, bridge.ErrPipelineUnreachable)
}
