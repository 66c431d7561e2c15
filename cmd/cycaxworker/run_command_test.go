package main

import (
	"encoding/json"
	"testing"

	"cycaxworker/internal/services/jobserver"
	"cycaxworker/internal/testsupport"
)

func TestRunOnceBuildsEligibleJobs(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	srv.AddJob("asm-1", map[string]any{"blender": "PENDING"})
	srv.AddJob("asm-2", map[string]any{"blender": "COMPLETED"})
	srv.SetSpec("asm-1", json.RawMessage(boxSpecJSON))
	srv.AddArtifact("part-1", "Pn--pN.stl", jobserver.ArtifactTypeArtifact, []byte("solid P1"))
	env := setupCLITestEnv(t, testsupport.WithServerURL(srv.URL()))

	out, _, err := runCLI(t, []string{"run", "--once"}, env.configPath)
	if err != nil {
		t.Fatalf("run --once: %v", err)
	}
	requireContains(t, out, "built: 1, completed: 1, failed: 0")
	if got := len(srv.Uploads()); got != 2 {
		t.Fatalf("expected 2 uploads, got %d", got)
	}

	out, _, err = runCLI(t, []string{"history", "--job", "asm-1"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "asm-1")
	requireContains(t, out, "done")
}

func TestRunRefusesWhenStagingUnusable(t *testing.T) {
	srv := testsupport.NewFakeJobServer(t)
	env := setupCLITestEnv(t, testsupport.WithServerURL(srv.URL()))
	env.cfg.Scene.Engine = "blender"
	env.cfg.Scene.BlenderBinary = "cycaxworker-missing-blender"
	writeTestConfig(t, env.configPath, env.cfg)

	_, _, err := runCLI(t, []string{"run", "--once"}, env.configPath)
	if err == nil {
		t.Fatal("expected preflight failure")
	}
	requireContains(t, err.Error(), "preflight failed: Blender")
}
