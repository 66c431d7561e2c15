package jobserver

import (
	"path/filepath"
	"strings"
)

// PartNoTemplate is the placeholder in artifact ids that is replaced with the
// part number when the artifact is staged locally.
const PartNoTemplate = "Pn--pN"

// ArtifactTypeArtifact marks downloadable build outputs.
const ArtifactTypeArtifact = "artifact"

// TaskState is the server-side state of one task of a job.
type TaskState string

// Known task states. The server may report others.
const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
)

// Normalize upper-cases and trims the state.
func (s TaskState) Normalize() TaskState {
	return TaskState(strings.ToUpper(strings.TrimSpace(string(s))))
}

// Job is a snapshot of one job as listed by the server.
type Job struct {
	ID         string        `json:"id"`
	Attributes JobAttributes `json:"attributes"`
}

// JobAttributes holds the job's state block.
type JobAttributes struct {
	State JobState `json:"state"`
}

// JobState is the overall job state plus per-task states.
type JobState struct {
	Job   TaskState            `json:"job"`
	Tasks map[string]TaskState `json:"tasks"`
}

// TaskState returns the normalized state of the named task and whether the
// job has that task at all. A task with a null state is reported as absent.
func (j Job) TaskState(name string) (TaskState, bool) {
	state, ok := j.Attributes.State.Tasks[name]
	if !ok || strings.TrimSpace(string(state)) == "" {
		return "", false
	}
	return state.Normalize(), true
}

// Artifact is the metadata of one stored artifact.
type Artifact struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Filter restricts ListJobs by job state. Empty fields are not sent.
type Filter struct {
	StateIn    string
	StateNotIn string
}

// CheckExtension reports whether id passes the extension filter. An empty
// filter passes everything; otherwise id must end with one of the entries.
func CheckExtension(extensions []string, id string) bool {
	if len(extensions) == 0 {
		return true
	}
	for _, ext := range extensions {
		if strings.HasSuffix(id, ext) {
			return true
		}
	}
	return false
}

// LocalName maps an artifact id to its staged file name by substituting the
// part number for the placeholder.
func LocalName(artifactID, partNo string) string {
	return strings.ReplaceAll(artifactID, PartNoTemplate, partNo)
}

func stagingDir(baseDir, jobID, partNo string, jobScoped bool) string {
	if jobScoped {
		return filepath.Join(baseDir, jobID)
	}
	return filepath.Join(baseDir, partNo)
}
