// Package runner executes the direct-AI processing pipeline for one job:
// upload the document to the assistant API, start a run, poll it to
// completion, store the result payload.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/docuflow-io/docuflow/internal/openai"
	"github.com/docuflow-io/docuflow/internal/progress"
	"github.com/docuflow-io/docuflow/internal/results"
	"github.com/docuflow-io/docuflow/pkg/models"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultMaxPollAttempts = 60

	// Stage thresholds. The processing band advances as a capped linear
	// function of poll attempts: the assistant API exposes no native
	// progress, so this is a heuristic to give the client a sense of motion.
	percentUploading      = 10
	percentProcessingBase = 25
	percentProcessingStep = 5
	percentProcessingCap  = 85
	percentFinalizing     = 90
)

// User-visible error messages. Raw causes stay in the server log.
const (
	msgAuthFailed     = "Authentication failed"
	msgRateLimited    = "Rate limit exceeded"
	msgTimedOut       = "Request timed out"
	msgPollExhausted  = "Timed out waiting for response"
	msgCancelled      = "Job cancelled"
	msgProcessingFail = "Processing failed"
)

// Runner starts and tracks direct-AI jobs. Each job runs as a detached
// goroutine; the progress registry, not the goroutine handle, is the source
// of truth for its status.
type Runner struct {
	client       openai.Client
	tracker      *progress.Tracker
	results      *results.Store
	pollInterval time.Duration
	maxAttempts  int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a Runner. pollInterval and maxAttempts fall back to defaults
// when zero.
func New(client openai.Client, tracker *progress.Tracker, store *results.Store, pollInterval time.Duration, maxAttempts int) *Runner {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxPollAttempts
	}
	return &Runner{
		client:       client,
		tracker:      tracker,
		results:      store,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Start launches the job detached and returns immediately. The initiating
// HTTP handler never joins on it.
func (r *Runner) Start(jobID string, doc models.Document) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()

	go r.run(ctx, jobID, doc)
}

// Cancel aborts a running job. Returns false when the job is unknown to this
// runner (already finished, evicted, or owned by another pipeline);
// cancelling such a job is not an error.
func (r *Runner) Cancel(ctx context.Context, jobID string) (bool, error) {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	cancel()
	return true, nil
}

func (r *Runner) run(ctx context.Context, jobID string, doc models.Document) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in job runner", "job_id", jobID, "error", rec)
			r.tracker.Fail(jobID, msgProcessingFail)
		}
		r.removeCancel(jobID)
	}()

	r.tracker.Update(jobID, progress.StageUploading, percentUploading, "Uploading document")
	fileID, err := r.client.UploadFile(ctx, doc.Name, doc.Data)
	if err != nil {
		r.fail(jobID, "uploading document", err)
		return
	}

	r.tracker.Update(jobID, progress.StageProcessing, percentProcessingBase, "Starting extraction")
	run, err := r.client.CreateRun(ctx, fileID)
	if err != nil {
		r.fail(jobID, "creating run", err)
		return
	}

	run, ok := r.pollRun(ctx, jobID, run)
	if !ok {
		return
	}

	r.tracker.Update(jobID, progress.StageFinalizing, percentFinalizing, "Retrieving result")
	payload, err := r.client.GetRunResult(ctx, run.ThreadID)
	if err != nil {
		r.fail(jobID, "fetching result", err)
		return
	}

	if err := r.results.Put(ctx, jobID, payload); err != nil {
		r.fail(jobID, "storing result", err)
		return
	}

	r.tracker.Complete(jobID, "Extraction complete", nil)
}

// pollRun polls run status at a fixed interval up to the attempt budget.
// Returns the completed run, or false after writing the terminal error.
func (r *Runner) pollRun(ctx context.Context, jobID string, run openai.Run) (openai.Run, bool) {
	for attempts := 1; attempts <= r.maxAttempts; attempts++ {
		select {
		case <-ctx.Done():
			r.cancelRemote(jobID, run)
			r.tracker.Fail(jobID, msgCancelled)
			return run, false
		case <-time.After(r.pollInterval):
		}

		cur, err := r.client.GetRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			r.fail(jobID, "polling run", err)
			return run, false
		}

		switch cur.Status {
		case openai.RunStatusCompleted:
			return cur, true
		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired:
			slog.Warn("assistant run ended abnormally", "job_id", jobID, "status", cur.Status)
			r.tracker.Fail(jobID, msgProcessingFail)
			return run, false
		default:
			pct := percentProcessingBase + attempts*percentProcessingStep
			if pct > percentProcessingCap {
				pct = percentProcessingCap
			}
			r.tracker.Update(jobID, progress.StageProcessing, pct, "Extracting structured data")
		}
	}

	r.tracker.Fail(jobID, msgPollExhausted)
	return run, false
}

// cancelRemote tells the assistant API to stop the run; best effort with its
// own deadline since the job context is already cancelled.
func (r *Runner) cancelRemote(jobID string, run openai.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.CancelRun(ctx, run.ThreadID, run.ID); err != nil {
		slog.Warn("cancelling assistant run", "job_id", jobID, "error", err)
	}
}

// fail writes the classified terminal error and logs the raw cause.
func (r *Runner) fail(jobID, op string, err error) {
	slog.Error("job failed", "job_id", jobID, "op", op, "error", err)
	r.tracker.Fail(jobID, errorMessage(err))
}

func (r *Runner) removeCancel(jobID string) {
	r.mu.Lock()
	delete(r.cancels, jobID)
	r.mu.Unlock()
}

// errorMessage maps an assistant API failure onto the message shown to the
// client.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, openai.ErrMissingAPIKey), errors.Is(err, openai.ErrUnauthorized):
		return msgAuthFailed
	case errors.Is(err, openai.ErrRateLimited):
		return msgRateLimited
	case errors.Is(err, openai.ErrTimeout):
		return msgTimedOut
	case errors.Is(err, context.Canceled):
		return msgCancelled
	default:
		return msgProcessingFail
	}
}
