// Package bridge adapts the externally hosted processing pipeline — which
// only exposes a poll-based status endpoint — into the push semantics of the
// progress stream. One poll loop runs per job, owned by a detached goroutine.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/docuflow-io/docuflow/internal/progress"
	"github.com/docuflow-io/docuflow/internal/results"
	"github.com/docuflow-io/docuflow/pkg/models"
)

const (
	defaultPollInterval  = time.Second
	defaultCancelTimeout = 3 * time.Second
	defaultAbandonAfter  = 2 * time.Minute
)

const (
	msgSubmitFailed   = "Could not reach processing service"
	msgServiceTimeout = "Processing service timed out"
	msgServiceDown    = "Lost connection to processing service"
	msgProcessingFail = "Processing failed"
)

// Bridge submits documents to the remote pipeline and re-emits its polled
// status as push events. A single poll transport error is terminal: the
// remote service is the source of truth for job liveness, and a bridge that
// retried forever would never self-heal.
type Bridge struct {
	client        Client
	tracker       *progress.Tracker
	results       *results.Store
	pollInterval  time.Duration
	cancelTimeout time.Duration
	abandonAfter  time.Duration

	mu      sync.Mutex
	remotes map[string]string // jobID → remote pipeline job ID
}

// New creates a Bridge. Intervals fall back to defaults when zero.
// abandonAfter bounds how long the poll loop survives a disconnected stream:
// once a subscriber has been attached and then gone for that long, the loop
// stops instead of polling for a client that will never come back.
func New(client Client, tracker *progress.Tracker, store *results.Store, pollInterval, cancelTimeout, abandonAfter time.Duration) *Bridge {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if cancelTimeout <= 0 {
		cancelTimeout = defaultCancelTimeout
	}
	if abandonAfter <= 0 {
		abandonAfter = defaultAbandonAfter
	}
	return &Bridge{
		client:        client,
		tracker:       tracker,
		results:       store,
		pollInterval:  pollInterval,
		cancelTimeout: cancelTimeout,
		abandonAfter:  abandonAfter,
		remotes:       make(map[string]string),
	}
}

// Start submits the document and launches the poll loop detached. The
// initiating HTTP handler returns immediately.
func (b *Bridge) Start(jobID string, doc models.Document) {
	go b.run(jobID, doc)
}

// Cancel forwards a cancellation to the remote pipeline with a short
// timeout. The poll loop is left alone: it observes the resulting terminal
// status on its next tick. Returns false when the job is unknown to this
// bridge; forwarding failures are returned to the caller, not swallowed.
func (b *Bridge) Cancel(ctx context.Context, jobID string) (bool, error) {
	b.mu.Lock()
	remoteID, ok := b.remotes[jobID]
	b.mu.Unlock()
	if !ok {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.cancelTimeout)
	defer cancel()
	if err := b.client.Cancel(ctx, remoteID); err != nil {
		return true, err
	}
	return true, nil
}

// cancelRemote is the best-effort variant used when abandoning a job: no
// caller is waiting on the outcome.
func (b *Bridge) cancelRemote(remoteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cancelTimeout)
	defer cancel()
	if err := b.client.Cancel(ctx, remoteID); err != nil {
		slog.Warn("cancelling abandoned remote job", "remote_id", remoteID, "error", err)
	}
}

func (b *Bridge) run(jobID string, doc models.Document) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in pipeline bridge", "job_id", jobID, "error", rec)
			b.tracker.Fail(jobID, msgProcessingFail)
		}
		b.forget(jobID)
	}()

	ctx := context.Background()

	b.tracker.Update(jobID, progress.StageUploading, 5, "Submitting document to processing service")
	remoteID, err := b.client.Submit(ctx, doc.Name, doc.Data)
	if err != nil {
		slog.Error("pipeline submit failed", "job_id", jobID, "error", err)
		b.tracker.Fail(jobID, msgSubmitFailed)
		return
	}

	b.mu.Lock()
	b.remotes[jobID] = remoteID
	b.mu.Unlock()

	b.poll(ctx, jobID, remoteID)
}

// poll re-emits each remote observation as a push event until a terminal
// status. Runs at a fixed interval; there is no self-imposed attempt budget,
// the remote service owns job liveness.
func (b *Bridge) poll(ctx context.Context, jobID, remoteID string) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	var subscribed bool
	var lastSeen time.Time

	for range ticker.C {
		// Abandonment check: a stream that was attached and has been gone
		// past the window means nobody is coming back for these events.
		if b.tracker.HasSubscriber(jobID) {
			subscribed = true
			lastSeen = time.Now()
		} else if subscribed && time.Since(lastSeen) > b.abandonAfter {
			slog.Info("stream abandoned, stopping poll loop", "job_id", jobID, "remote_id", remoteID)
			b.cancelRemote(remoteID)
			b.tracker.Evict(jobID)
			return
		}

		st, err := b.client.Status(ctx, remoteID)
		if err != nil {
			slog.Error("pipeline poll failed", "job_id", jobID, "remote_id", remoteID, "error", err)
			b.tracker.Fail(jobID, pollErrorMessage(err))
			return
		}

		switch st.State {
		case StateCompleted:
			if len(st.Result) > 0 {
				if err := b.results.Put(ctx, jobID, st.Result); err != nil {
					slog.Error("storing pipeline result", "job_id", jobID, "error", err)
				}
			}
			b.tracker.Complete(jobID, completionMessage(st), st.Result)
			return
		case StateError, StateCancelled:
			msg := st.Error
			if msg == "" {
				msg = msgProcessingFail
			}
			b.tracker.Fail(jobID, msg)
			return
		default:
			b.tracker.Update(jobID, remoteStage(st), st.Progress, st.Message)
		}
	}
}

func (b *Bridge) forget(jobID string) {
	b.mu.Lock()
	delete(b.remotes, jobID)
	b.mu.Unlock()
}

// remoteStage maps the pipeline's stage label onto the local enum, falling
// back to processing for anything unrecognized.
func remoteStage(st Status) progress.Stage {
	switch progress.Stage(st.Stage) {
	case progress.StageUploading, progress.StageProcessing, progress.StageFinalizing:
		return progress.Stage(st.Stage)
	default:
		return progress.StageProcessing
	}
}

func completionMessage(st Status) string {
	if st.Message != "" {
		return st.Message
	}
	return "Extraction complete"
}

func pollErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrPipelineTimeout):
		return msgServiceTimeout
	case errors.Is(err, ErrPipelineUnreachable):
		return msgServiceDown
	default:
		return msgProcessingFail
	}
}
