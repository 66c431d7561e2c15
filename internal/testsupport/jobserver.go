package testsupport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// RecordedRequest is one request seen by the fake job server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
}

// Upload is one file received by the fake job server.
type Upload struct {
	JobID    string
	Filename string
	Body     []byte
}

// TaskUpdate is one task state report received by the fake job server.
type TaskUpdate struct {
	JobID string
	Name  string
	State string
}

type fakeArtifact struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	body []byte
}

type fakeJob struct {
	id        string
	state     string
	tasks     map[string]any
	spec      json.RawMessage
	artifacts []*fakeArtifact
}

// FakeJobServer is an in-memory job server for tests. It records every
// request and can be told to fail uploads or reject task updates.
type FakeJobServer struct {
	t      testing.TB
	server *httptest.Server

	mu             sync.Mutex
	jobs           map[string]*fakeJob
	order          []string
	requests       []RecordedRequest
	uploads        []Upload
	taskUpdates    []TaskUpdate
	uploadFailures map[string]int
	failAllUploads bool
	rejectTasks    bool
}

// NewFakeJobServer starts a fake job server that is closed when the test ends.
func NewFakeJobServer(t testing.TB) *FakeJobServer {
	t.Helper()
	f := &FakeJobServer{
		t:              t,
		jobs:           map[string]*fakeJob{},
		uploadFailures: map[string]int{},
	}

	r := chi.NewRouter()
	r.Use(f.record)
	r.Get("/jobs", f.listJobs)
	r.Get("/jobs/{id}", f.getJob)
	r.Get("/jobs/{id}/spec", f.getSpec)
	r.Get("/jobs/{id}/artifacts", f.listArtifacts)
	r.Get("/jobs/{id}/artifacts/{artifactID}", f.getArtifact)
	r.Post("/jobs/{id}/artifacts", f.postArtifact)
	r.Post("/jobs/{id}/tasks", f.postTask)

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the server base URL.
func (f *FakeJobServer) URL() string {
	return f.server.URL
}

// Close stops the server; later requests fail at the transport level.
func (f *FakeJobServer) Close() {
	f.server.Close()
}

// AddJob registers a job in state PENDING with the given task states. A nil
// task state is sent as JSON null.
func (f *FakeJobServer) AddJob(id string, tasks map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tasks == nil {
		tasks = map[string]any{}
	}
	if _, ok := f.jobs[id]; !ok {
		f.order = append(f.order, id)
	}
	f.jobs[id] = &fakeJob{id: id, state: "PENDING", tasks: tasks}
}

// SetSpec stores the job spec returned for id.
func (f *FakeJobServer) SetSpec(id string, spec any) {
	data, err := json.Marshal(spec)
	if err != nil {
		f.t.Fatalf("marshal spec: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job(id).spec = data
}

// AddArtifact stores an artifact of the given type ("artifact" or other).
func (f *FakeJobServer) AddArtifact(jobID, artifactID, typ string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.job(jobID)
	job.artifacts = append(job.artifacts, &fakeArtifact{ID: artifactID, Type: typ, body: body})
}

// FailUploads makes the next n uploads of filename return 500.
func (f *FakeJobServer) FailUploads(filename string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadFailures[filename] = n
}

// FailAllUploads makes every upload return 500.
func (f *FakeJobServer) FailAllUploads(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAllUploads = fail
}

// RejectTaskUpdates makes task state posts return 409.
func (f *FakeJobServer) RejectTaskUpdates(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectTasks = reject
}

// Requests returns a copy of the recorded requests.
func (f *FakeJobServer) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// Count returns how many requests matched method and path exactly.
func (f *FakeJobServer) Count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if req.Method == method && req.Path == path {
			n++
		}
	}
	return n
}

// Uploads returns the files received so far.
func (f *FakeJobServer) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

// TaskUpdates returns the task state reports received so far.
func (f *FakeJobServer) TaskUpdates() []TaskUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TaskUpdate(nil), f.taskUpdates...)
}

func (f *FakeJobServer) job(id string) *fakeJob {
	job, ok := f.jobs[id]
	if !ok {
		job = &fakeJob{id: id, state: "PENDING", tasks: map[string]any{}}
		f.jobs[id] = job
		f.order = append(f.order, id)
	}
	return job
}

func (f *FakeJobServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()})
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *FakeJobServer) listJobs(w http.ResponseWriter, r *http.Request) {
	stateIn := r.URL.Query().Get("state_in")
	stateNotIn := r.URL.Query().Get("state_not_in")

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.order))
	for _, id := range f.order {
		job := f.jobs[id]
		if stateIn != "" && job.state != stateIn {
			continue
		}
		if stateNotIn != "" && job.state == stateNotIn {
			continue
		}
		out = append(out, job.payload())
	}
	writeData(w, out)
}

func (f *FakeJobServer) getJob(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[param(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeData(w, job.payload())
}

func (f *FakeJobServer) getSpec(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[param(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if job.spec == nil {
		writeData(w, nil)
		return
	}
	writeData(w, job.spec)
}

func (f *FakeJobServer) listArtifacts(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[param(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	out := make([]*fakeArtifact, 0, len(job.artifacts))
	out = append(out, job.artifacts...)
	writeData(w, out)
}

func (f *FakeJobServer) getArtifact(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[param(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	id := param(r, "artifactID")
	for _, artifact := range job.artifacts {
		if artifact.ID == id {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(artifact.body)
			return
		}
	}
	http.NotFound(w, r)
}

func (f *FakeJobServer) postArtifact(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filename := r.FormValue("filename")
	file, _, err := r.FormFile("upload_file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	body, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAllUploads {
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	if n := f.uploadFailures[filename]; n > 0 {
		f.uploadFailures[filename] = n - 1
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	jobID := param(r, "id")
	f.uploads = append(f.uploads, Upload{JobID: jobID, Filename: filename, Body: body})
	job := f.job(jobID)
	job.artifacts = append(job.artifacts, &fakeArtifact{ID: filename, Type: "artifact", body: body})
	writeData(w, map[string]string{"id": filename})
}

func (f *FakeJobServer) postTask(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	jobID := param(r, "id")
	f.taskUpdates = append(f.taskUpdates, TaskUpdate{JobID: jobID, Name: payload.Name, State: payload.State})
	if f.rejectTasks {
		http.Error(w, "transition not allowed", http.StatusConflict)
		return
	}
	job := f.job(jobID)
	job.tasks[payload.Name] = payload.State
	if allTasksCompleted(job.tasks) {
		job.state = "COMPLETED"
	}
	writeData(w, map[string]string{"name": payload.Name, "state": payload.State})
}

func (j *fakeJob) payload() map[string]any {
	return map[string]any{
		"id": j.id,
		"attributes": map[string]any{
			"state": map[string]any{
				"job":   j.state,
				"tasks": j.tasks,
			},
		},
	}
}

func allTasksCompleted(tasks map[string]any) bool {
	for _, value := range tasks {
		if state, _ := value.(string); !strings.EqualFold(state, "COMPLETED") {
			return false
		}
	}
	return len(tasks) > 0
}

func param(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}
