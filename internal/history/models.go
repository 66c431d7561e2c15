package history

import "time"

// Build states recorded in the ledger.
const (
	StateDone   = "done"
	StateFailed = "failed"
)

// Entry is one build attempt.
type Entry struct {
	ID            int64
	JobID         string
	CorrelationID string
	Name          string
	State         string
	// FailedStage is the build stage that was running when the build failed.
	FailedStage  string
	Engine       string
	Parts        int
	Downloaded   int
	Uploaded     int
	Completed    bool
	ScenePath    string
	ErrorKind    string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Succeeded reports whether the build reached the done state.
func (e Entry) Succeeded() bool {
	return e.State == StateDone
}

// Duration is the wall time of the build.
func (e Entry) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// ListOptions filters List. Zero values select everything.
type ListOptions struct {
	JobID string
	State string
	Limit int
}

// Stats summarizes the ledger.
type Stats struct {
	Total     int
	Succeeded int
	Failed    int
	// LastFinished is zero when the ledger is empty.
	LastFinished time.Time
}
