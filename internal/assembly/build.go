package assembly

import (
	"fmt"
	"sync"

	"cycaxworker/internal/jobspec"
)

// State is a build's position in the assembly state machine.
type State string

const (
	StateInit          State = "init"
	StateFetchingParts State = "fetching_parts"
	StatePlacing       State = "placing"
	StateSaving        State = "saving"
	StateUploading     State = "uploading"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Build is the mutable state of one assembly run.
type Build struct {
	JobID string
	Spec  jobspec.Spec

	mu        sync.Mutex
	state     State
	instances map[string]int
}

// NewBuild starts a build in the init state.
func NewBuild(jobID string, spec jobspec.Spec) *Build {
	return &Build{
		JobID:     jobID,
		Spec:      spec,
		state:     StateInit,
		instances: make(map[string]int),
	}
}

// State reports the current state.
func (b *Build) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// NextInstance returns the scene object name for the next use of partNo:
// <part_no>_1 for the first, <part_no>_2 for the second, and so on.
func (b *Build) NextInstance(partNo string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instances[partNo]++
	return fmt.Sprintf("%s_%d", partNo, b.instances[partNo])
}

func (b *Build) enter(state State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
}
