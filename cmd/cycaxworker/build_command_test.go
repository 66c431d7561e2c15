package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cycaxworker/internal/assembly"
	"cycaxworker/internal/services"
	"cycaxworker/internal/services/jobserver"
	"cycaxworker/internal/testsupport"
	"cycaxworker/internal/worker"
)

const boxSpecYAML = `name: box
parts:
  - part_no: P1
    jobid: part-1
    position: [10, 0, 0]
    rotate:
      - axis: z
    colour: red
    rotmax: [5, 5, 5]
  - part_no: P1
    jobid: part-1
    position: [0, 0, 0]
    rotmax: [5, 5, 5]
`

const boxSpecJSON = `{
  "name": "box",
  "parts": [
    {"part_no": "P1", "jobid": "part-1", "position": [10, 0, 0], "rotate": [{"axis": "z"}], "colour": "red", "rotmax": [5, 5, 5]},
    {"part_no": "P1", "jobid": "part-1", "position": [0, 0, 0], "rotmax": [5, 5, 5]}
  ]
}`

func writeSpecFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "box.yaml")
	if err := os.WriteFile(path, []byte(boxSpecYAML), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return path
}

func TestBuildOfflineFromSpecFile(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.StageMesh(t, env.cfg.Paths.StagingDir, "part-1", "P1.stl", 64)

	out, _, err := runCLI(t, []string{"build", "--spec", writeSpecFile(t), "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var view buildView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if view.State != string(assembly.StateDone) || view.JobID != "box" || view.Parts != 2 {
		t.Fatalf("unexpected build %+v", view)
	}
	if view.Uploaded != 0 || view.Completed {
		t.Fatalf("offline build must not upload: %+v", view)
	}

	manifest, err := assembly.ReadManifest(view.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if len(manifest.Parts) != 2 || manifest.Parts[0].Translation != [3]float64{15, 0, 0} {
		t.Fatalf("unexpected manifest %+v", manifest.Parts)
	}

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "box")
	requireContains(t, out, "Total: 1 builds (1 done, 0 failed)")
}

func TestBuildOfflineMissingMeshFails(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"build", "--spec", writeSpecFile(t)}, env.configPath)
	if !errors.Is(err, services.ErrMissingArtifact) {
		t.Fatalf("expected missing artifact, got %v", err)
	}
	requireContains(t, out, "failed during fetching_parts")

	out, _, err = runCLI(t, []string{"history", "--state", "failed", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var entries []historyView
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode history %q: %v", out, err)
	}
	if len(entries) != 1 || entries[0].ErrorKind != "missing_artifact" || entries[0].FailedStage != "fetching_parts" {
		t.Fatalf("unexpected history %+v", entries)
	}
}

func TestBuildFromJobServer(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	srv.AddJob("asm-1", map[string]any{"blender": "PENDING"})
	srv.SetSpec("asm-1", json.RawMessage(boxSpecJSON))
	srv.AddArtifact("part-1", "Pn--pN.stl", jobserver.ArtifactTypeArtifact, []byte("solid P1"))
	env := setupCLITestEnv(t, testsupport.WithServerURL(srv.URL()))

	out, _, err := runCLI(t, []string{"build", "asm-1"}, env.configPath)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	requireContains(t, out, "Build asm-1")
	requireContains(t, out, "[OK] done")
	requireContains(t, out, "2 files, task completed: yes")

	updates := srv.TaskUpdates()
	if len(updates) == 0 || updates[len(updates)-1].State != string(jobserver.TaskCompleted) {
		t.Fatalf("unexpected task updates %+v", updates)
	}
}

func TestBuildUnknownJob(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	env := setupCLITestEnv(t, testsupport.WithServerURL(srv.URL()))

	_, _, err := runCLI(t, []string{"build", "missing"}, env.configPath)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBuildArguments(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"build"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "job id or --spec") {
		t.Fatalf("expected usage error, got %v", err)
	}

	_, _, err = runCLI(t, []string{"build", "--spec", writeSpecFile(t), "--engine", "povray"}, env.configPath)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuildRefusesWhileLocked(t *testing.T) {
	env := setupCLITestEnv(t)
	lock, err := worker.AcquireLock(env.cfg.LockPath())
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	defer lock.Release()

	_, _, err = runCLI(t, []string{"build", "--spec", writeSpecFile(t)}, env.configPath)
	if !errors.Is(err, worker.ErrLocked) {
		t.Fatalf("expected locked error, got %v", err)
	}
}
