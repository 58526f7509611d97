package progress

import "encoding/json"

// Stage identifies a high-level phase of job processing.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StageUploading    Stage = "uploading"
	StageProcessing   Stage = "processing"
	StageFinalizing   Stage = "finalizing"
	StageCompleted    Stage = "completed"
	StageError        Stage = "error"
)

// Snapshot is the latest observed state of a job. Percent is 0..100 and
// non-decreasing for a live job; once Terminal reports true no further
// updates are accepted for that job ID.
type Snapshot struct {
	Stage     Stage  `json:"stage"`
	Percent   int    `json:"percent"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	Completed bool   `json:"completed"`
}

// Terminal reports whether the snapshot is final.
func (s Snapshot) Terminal() bool {
	return s.Completed || s.Stage == StageError
}

// SSE event names pushed to subscribers.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is a single frame delivered to a stream subscriber. Result is only
// set on complete events from pipelines that return the payload inline.
type Event struct {
	Name     string
	Snapshot Snapshot
	Result   json.RawMessage
}
