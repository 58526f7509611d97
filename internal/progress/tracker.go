package progress

import "encoding/json"

// Tracker ties the Registry and Publisher together: every accepted registry
// update is forwarded to the job's subscriber. Runners and bridges report
// through the Tracker; the stream handler subscribes through it.
type Tracker struct {
	registry  *Registry
	publisher *Publisher
}

// NewTracker creates a Tracker over the given registry and publisher.
func NewTracker(registry *Registry, publisher *Publisher) *Tracker {
	return &Tracker{registry: registry, publisher: publisher}
}

// Update records a non-terminal progress observation.
func (t *Tracker) Update(jobID string, stage Stage, percent int, message string) {
	snap, ok := t.registry.Update(jobID, Snapshot{
		Stage:   stage,
		Percent: percent,
		Message: message,
	})
	if !ok {
		return
	}
	t.publisher.Publish(jobID, Event{Name: EventProgress, Snapshot: snap})
}

// Complete marks the job finished. result may be nil; when set it is carried
// inline on the complete event (remote pipeline path).
func (t *Tracker) Complete(jobID, message string, result json.RawMessage) {
	snap, ok := t.registry.Update(jobID, Snapshot{
		Stage:     StageCompleted,
		Percent:   100,
		Message:   message,
		Completed: true,
	})
	if !ok {
		return
	}
	t.publisher.Publish(jobID, Event{Name: EventComplete, Snapshot: snap, Result: result})
}

// Fail marks the job failed with a human-readable message. The message is
// what subscribers see; internal details stay in the server log.
func (t *Tracker) Fail(jobID, message string) {
	snap, ok := t.registry.Update(jobID, Snapshot{
		Stage:   StageError,
		Percent: 100,
		Message: message,
		Error:   message,
	})
	if !ok {
		return
	}
	t.publisher.Publish(jobID, Event{Name: EventError, Snapshot: snap})
}

// Subscribe registers a subscriber for jobID and immediately emits a first
// frame: the current snapshot if one exists (including a terminal one, so a
// late subscriber within the eviction grace period still sees the outcome),
// or an initializing/0% frame for a job that has not reported yet.
func (t *Tracker) Subscribe(jobID string) <-chan Event {
	ch := t.publisher.Subscribe(jobID)

	snap, ok := t.registry.Get(jobID)
	if !ok {
		snap = Snapshot{Stage: StageInitializing, Percent: 0, Message: "Waiting for job to start"}
	}
	t.publisher.Publish(jobID, Event{Name: eventName(snap), Snapshot: snap})
	return ch
}

// Unsubscribe releases the subscription; see Publisher.Unsubscribe.
func (t *Tracker) Unsubscribe(jobID string, ch <-chan Event) {
	t.publisher.Unsubscribe(jobID, ch)
}

// HasSubscriber reports whether a stream is currently attached to jobID.
func (t *Tracker) HasSubscriber(jobID string) bool {
	return t.publisher.HasSubscriber(jobID)
}

// Snapshot returns the registry entry for jobID, if present.
func (t *Tracker) Snapshot(jobID string) (Snapshot, bool) {
	return t.registry.Get(jobID)
}

// Evict removes the registry entry immediately (result already retrieved).
func (t *Tracker) Evict(jobID string) {
	t.registry.Evict(jobID)
}

func eventName(snap Snapshot) string {
	switch {
	case snap.Stage == StageError:
		return EventError
	case snap.Completed:
		return EventComplete
	default:
		return EventProgress
	}
}
