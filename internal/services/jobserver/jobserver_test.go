package jobserver_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cycaxworker/internal/retry"
	"cycaxworker/internal/services"
	"cycaxworker/internal/services/jobserver"
	"cycaxworker/internal/testsupport"
)

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(d time.Duration) { c.slept = append(c.slept, d) }

func newClient(t *testing.T, srv *testsupport.FakeJobServer, clock *fakeClock, opts ...jobserver.Option) *jobserver.Client {
	t.Helper()
	base := []jobserver.Option{
		jobserver.WithRetryPolicy(retry.Fixed(3, 3*time.Second)),
		jobserver.WithSleeper(clock.Sleep),
	}
	return jobserver.NewClient(srv.URL(), append(base, opts...)...)
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data-"+name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestListCallsTreatNullDataAsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": null}`))
	}))
	defer srv.Close()
	client := jobserver.NewClient(srv.URL)

	jobs, err := client.ListJobs(context.Background(), jobserver.Filter{})
	if err != nil || len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %v, %v", jobs, err)
	}
	artifacts, err := client.ListArtifacts(context.Background(), "job-1")
	if err != nil || len(artifacts) != 0 {
		t.Fatalf("expected no artifacts, got %v, %v", artifacts, err)
	}
	if _, err := client.GetJob(context.Background(), "job-1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for null job, got %v", err)
	}
}

func TestListJobsUpperCasesFilters(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	srv.AddJob("job-1", map[string]any{"blender": "PENDING"})
	client := newClient(t, srv, &fakeClock{})

	jobs, err := client.ListJobs(context.Background(), jobserver.Filter{StateNotIn: "completed"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-1" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	state, ok := jobs[0].TaskState("blender")
	if !ok || state != jobserver.TaskPending {
		t.Fatalf("unexpected task state %q (%v)", state, ok)
	}

	reqs := srv.Requests()
	if got := reqs[len(reqs)-1].Query.Get("state_not_in"); got != "COMPLETED" {
		t.Fatalf("expected upper-cased filter, got %q", got)
	}
	if reqs[len(reqs)-1].Query.Has("state_in") {
		t.Fatal("empty state_in should not be sent")
	}
}

func TestListJobsTransportError(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	client := newClient(t, srv, &fakeClock{})
	srv.Close()

	_, err := client.ListJobs(context.Background(), jobserver.Filter{})
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestGetJobAndSpec(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	srv.AddJob("job-1", map[string]any{"blender": nil})
	client := newClient(t, srv, &fakeClock{})
	ctx := context.Background()

	job, err := client.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if _, ok := job.TaskState("blender"); ok {
		t.Fatal("null task state should read as absent")
	}

	if _, err := client.GetJobSpec(ctx, "job-1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for null spec, got %v", err)
	}
	if _, err := client.GetJobSpec(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for unknown job, got %v", err)
	}

	srv.SetSpec("job-1", map[string]any{
		"name": "box",
		"parts": []any{
			map[string]any{"part_no": "P1", "jobid": "part-job", "position": []float64{1, 2, 3}, "rotmax": []float64{1, 1, 1}, "colour": "red"},
		},
	})
	spec, err := client.GetJobSpec(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJobSpec: %v", err)
	}
	if spec.Name != "box" || len(spec.Parts) != 1 || spec.Parts[0].JobID != "part-job" {
		t.Fatalf("unexpected spec %+v", spec)
	}

	srv.SetSpec("job-1", map[string]any{"name": "box"})
	if _, err := client.GetJobSpec(ctx, "job-1"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for spec without parts, got %v", err)
	}
}

func TestDownloadArtifactsFiltersAndSubstitutes(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	srv.AddArtifact("job-1", "Pn--pN.stl", "artifact", []byte("mesh"))
	srv.AddArtifact("job-1", "Pn--pN.blend", "artifact", []byte("scene"))
	srv.AddArtifact("job-1", "log.stl", "other", []byte("log"))
	srv.AddArtifact("job-1", "../escape.stl", "artifact", []byte("nope"))
	client := newClient(t, srv, &fakeClock{})
	base := t.TempDir()

	count, err := client.DownloadArtifacts(context.Background(), jobserver.DownloadRequest{
		JobID:      "job-1",
		PartNo:     "P7",
		BaseDir:    base,
		Extensions: []string{".stl"},
		JobScoped:  true,
	})
	if err != nil {
		t.Fatalf("DownloadArtifacts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 artifact fetched, got %d", count)
	}
	data, err := os.ReadFile(filepath.Join(base, "job-1", "P7.stl"))
	if err != nil || string(data) != "mesh" {
		t.Fatalf("unexpected staged mesh %q (%v)", data, err)
	}
	if _, err := os.Stat(filepath.Join(base, "escape.stl")); !os.IsNotExist(err) {
		t.Fatalf("escaping artifact must not be written: %v", err)
	}
	if n := srv.Count(http.MethodGet, "/jobs/job-1/artifacts/Pn--pN.blend"); n != 0 {
		t.Fatalf("filtered artifact was fetched %d times", n)
	}
}

func TestDownloadArtifactsOverwritePolicy(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	srv.AddArtifact("job-1", "Pn--pN.stl", "artifact", []byte("fresh"))
	client := newClient(t, srv, &fakeClock{})
	base := t.TempDir()
	writeFiles(t, filepath.Join(base, "P1"), "P1.stl")
	const artifactPath = "/jobs/job-1/artifacts/Pn--pN.stl"

	req := jobserver.DownloadRequest{JobID: "job-1", PartNo: "P1", BaseDir: base}
	count, err := client.DownloadArtifacts(context.Background(), req)
	if err != nil {
		t.Fatalf("DownloadArtifacts: %v", err)
	}
	if count != 0 || srv.Count(http.MethodGet, artifactPath) != 0 {
		t.Fatalf("existing file must not be fetched without overwrite (count=%d, gets=%d)", count, srv.Count(http.MethodGet, artifactPath))
	}

	req.Overwrite = true
	count, err = client.DownloadArtifacts(context.Background(), req)
	if err != nil {
		t.Fatalf("DownloadArtifacts overwrite: %v", err)
	}
	if count != 1 || srv.Count(http.MethodGet, artifactPath) != 1 {
		t.Fatalf("expected one fetch with overwrite (count=%d)", count)
	}
	data, _ := os.ReadFile(filepath.Join(base, "P1", "P1.stl"))
	if string(data) != "fresh" {
		t.Fatalf("expected overwritten content, got %q", data)
	}
}

func TestUploadArtifactsAbortsOnThirdFailure(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	clock := &fakeClock{}
	client := newClient(t, srv, clock)
	base := t.TempDir()
	writeFiles(t, filepath.Join(base, "job-1"), "a.blend", "b.blend", "c.blend")
	srv.FailUploads("b.blend", 3)

	result, err := client.UploadArtifacts(context.Background(), jobserver.UploadRequest{
		TaskName:  "blender",
		JobID:     "job-1",
		BaseDir:   base,
		JobScoped: true,
	})
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	uploads := srv.Uploads()
	if len(uploads) != 1 || uploads[0].Filename != "a.blend" {
		t.Fatalf("expected only a.blend uploaded, got %+v", uploads)
	}
	if result.Attempts != 4 {
		t.Fatalf("expected 1+3 attempts, got %d", result.Attempts)
	}
	if n := srv.Count(http.MethodPost, "/jobs/job-1/artifacts"); n != 4 {
		t.Fatalf("c.blend must not be attempted; saw %d upload posts", n)
	}
	if len(clock.slept) != 2 {
		t.Fatalf("expected 2 retry sleeps, got %v", clock.slept)
	}
	if len(srv.TaskUpdates()) != 0 || result.Completed {
		t.Fatal("one uploaded file is below the completion threshold")
	}
}

func TestUploadArtifactsAbortStillCompletesAboveThreshold(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	clock := &fakeClock{}
	client := newClient(t, srv, clock)
	base := t.TempDir()
	writeFiles(t, filepath.Join(base, "job-1"), "a.blend", "b.blend", "c.blend")
	srv.FailUploads("c.blend", 3)

	result, err := client.UploadArtifacts(context.Background(), jobserver.UploadRequest{
		TaskName:  "blender",
		JobID:     "job-1",
		BaseDir:   base,
		JobScoped: true,
	})
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(result.Uploaded) != 2 || !result.Completed {
		t.Fatalf("expected 2 uploads and completion, got %+v", result)
	}
	updates := srv.TaskUpdates()
	if len(updates) != 1 || updates[0].Name != "blender" || updates[0].State != "COMPLETED" {
		t.Fatalf("unexpected task updates %+v", updates)
	}
}

func TestUploadArtifactsRetriesThenSucceeds(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	clock := &fakeClock{}
	client := newClient(t, srv, clock)
	base := t.TempDir()
	writeFiles(t, filepath.Join(base, "job-1"), "a.blend", "a.placement.json")
	srv.FailUploads("a.blend", 2)

	result, err := client.UploadArtifacts(context.Background(), jobserver.UploadRequest{
		TaskName: "blender", JobID: "job-1", BaseDir: base, JobScoped: true,
	})
	if err != nil {
		t.Fatalf("UploadArtifacts: %v", err)
	}
	if len(result.Uploaded) != 2 || !result.Completed {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, d := range clock.slept {
		if d != 3*time.Second {
			t.Fatalf("expected fixed 3s delay, got %v", clock.slept)
		}
	}
	updates := srv.TaskUpdates()
	if len(updates) != 1 || updates[0] != (testsupport.TaskUpdate{JobID: "job-1", Name: "blender", State: "COMPLETED"}) {
		t.Fatalf("unexpected task updates %+v", updates)
	}
}

func TestUploadArtifactsCompletionThreshold(t *testing.T) {
	tests := []struct {
		files     []string
		completed bool
	}{
		{nil, false},
		{[]string{"one.blend"}, false},
		{[]string{"one.blend", "two.blend"}, true},
		{[]string{"one.blend", "two.blend", "three.blend"}, true},
	}
	for _, tc := range tests {
		srv := testsupport.NewFakeJobServer(t)
		client := newClient(t, srv, &fakeClock{})
		base := t.TempDir()
		writeFiles(t, filepath.Join(base, "job-1"), tc.files...)
		writeFiles(t, filepath.Join(base, "job-1"), "ignored.stl")
		if err := os.MkdirAll(filepath.Join(base, "job-1", "sub.blend"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}

		result, err := client.UploadArtifacts(context.Background(), jobserver.UploadRequest{
			TaskName: "blender", JobID: "job-1", BaseDir: base, JobScoped: true, Extensions: []string{".blend"},
		})
		if err != nil {
			t.Fatalf("%d files: UploadArtifacts: %v", len(tc.files), err)
		}
		if len(result.Uploaded) != len(tc.files) {
			t.Fatalf("%d files: uploaded %v", len(tc.files), result.Uploaded)
		}
		if result.Completed != tc.completed {
			t.Fatalf("%d files: completed = %v, want %v", len(tc.files), result.Completed, tc.completed)
		}
		if got := len(srv.TaskUpdates()) == 1; got != tc.completed {
			t.Fatalf("%d files: task updates %+v", len(tc.files), srv.TaskUpdates())
		}
	}
}

func TestUploadArtifactsMissingDirectory(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	client := newClient(t, srv, &fakeClock{})
	_, err := client.UploadArtifacts(context.Background(), jobserver.UploadRequest{
		JobID: "job-1", PartNo: "P1", BaseDir: t.TempDir(),
	})
	if !errors.Is(err, services.ErrFileSystem) {
		t.Fatalf("expected filesystem error, got %v", err)
	}
}

func TestUploadFileSendsMultipartFields(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	client := newClient(t, srv, &fakeClock{})
	dir := t.TempDir()
	writeFiles(t, dir, "scene.blend")

	if err := client.UploadFile(context.Background(), "job-1", filepath.Join(dir, "scene.blend")); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	uploads := srv.Uploads()
	if len(uploads) != 1 || uploads[0].Filename != "scene.blend" || string(uploads[0].Body) != "data-scene.blend" {
		t.Fatalf("unexpected uploads %+v", uploads)
	}
}

func TestSetTaskStateRejected(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	srv.RejectTaskUpdates(true)
	client := newClient(t, srv, &fakeClock{})

	err := client.SetTaskState(context.Background(), "job-1", "blender", jobserver.TaskCompleted)
	if !errors.Is(err, services.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if updates := srv.TaskUpdates(); len(updates) != 1 || updates[0].State != "COMPLETED" {
		t.Fatalf("expected the post to reach the server, got %+v", updates)
	}
}

func TestCheckExtension(t *testing.T) {
	tests := []struct {
		exts []string
		id   string
		want bool
	}{
		{[]string{".stl"}, "Pn--pN.stl", true},
		{[]string{".stl"}, "Pn--pN.blend", false},
		{nil, "anything", true},
		{[]string{}, "anything", true},
		{[]string{".blend", ".json"}, "box.placement.json", true},
	}
	for _, tc := range tests {
		if got := jobserver.CheckExtension(tc.exts, tc.id); got != tc.want {
			t.Fatalf("CheckExtension(%v, %q) = %v, want %v", tc.exts, tc.id, got, tc.want)
		}
	}
}

func TestLocalName(t *testing.T) {
	if got := jobserver.LocalName("Pn--pN.stl", "P3"); got != "P3.stl" {
		t.Fatalf("LocalName = %q", got)
	}
	if got := jobserver.LocalName("plain.stl", "P3"); got != "plain.stl" {
		t.Fatalf("LocalName without placeholder = %q", got)
	}
}

func TestFetchArtifactKeepsSlashesInID(t *testing.T) {
	var requestURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestURI = r.RequestURI
		_, _ = w.Write([]byte("solid"))
	}))
	defer srv.Close()

	client := jobserver.NewClient(srv.URL)
	dest := filepath.Join(t.TempDir(), "P1.stl")
	if err := client.FetchArtifact(context.Background(), "job-1", "meshes/P 1.stl", dest); err != nil {
		t.Fatalf("FetchArtifact: %v", err)
	}
	if requestURI != "/jobs/job-1/artifacts/meshes/P%201.stl" {
		t.Fatalf("unexpected request path %q", requestURI)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "solid" {
		t.Fatalf("unexpected file %q (%v)", data, err)
	}
}
