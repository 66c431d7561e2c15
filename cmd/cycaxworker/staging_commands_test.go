package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cycaxworker/internal/testsupport"
	"cycaxworker/internal/worker"
)

func TestStagingListAndCleanJobs(t *testing.T) {
	env := setupCLITestEnv(t)
	staging := env.cfg.Paths.StagingDir
	testsupport.StageMesh(t, staging, "job-a", "P1.stl", 2048)
	testsupport.StageMesh(t, staging, "job-b", "P2.stl", 10)

	out, _, err := runCLI(t, []string{"staging", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("staging list: %v", err)
	}
	requireContains(t, out, "job-a")
	requireContains(t, out, "job-b")
	requireContains(t, out, "Total: 2 directories")

	out, _, err = runCLI(t, []string{"staging", "clean", "job-a", "../escape"}, env.configPath)
	if err != nil {
		t.Fatalf("staging clean: %v", err)
	}
	requireContains(t, out, "Removed 1 directories")
	if _, err := os.Stat(filepath.Join(staging, "job-a")); !os.IsNotExist(err) {
		t.Fatalf("expected job-a removed, stat err %v", err)
	}

	out, _, err = runCLI(t, []string{"staging", "list", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("staging list --json: %v", err)
	}
	var payload struct {
		Directories []struct {
			Name  string
			Files int
		} `json:"directories"`
		TotalSize int64 `json:"total_size_bytes"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(payload.Directories) != 1 || payload.Directories[0].Name != "job-b" || payload.TotalSize != 10 {
		t.Fatalf("unexpected listing %+v", payload)
	}
}

func TestStagingCleanStale(t *testing.T) {
	env := setupCLITestEnv(t)
	staging := env.cfg.Paths.StagingDir
	oldDir := filepath.Join(staging, "old-job")
	testsupport.StageMesh(t, staging, "old-job", "P1.stl", 1)
	testsupport.StageMesh(t, staging, "new-job", "P1.stl", 1)
	past := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(oldDir, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if _, _, err := runCLI(t, []string{"staging", "clean", "--stale"}, env.configPath); err == nil {
		t.Fatal("expected an error without an age")
	}

	out, _, err := runCLI(t, []string{"staging", "clean", "--stale", "--older-than", "24h"}, env.configPath)
	if err != nil {
		t.Fatalf("staging clean --stale: %v", err)
	}
	requireContains(t, out, "Removed "+oldDir)
	if _, err := os.Stat(filepath.Join(staging, "new-job")); err != nil {
		t.Fatalf("new-job should remain: %v", err)
	}
}

func TestStagingCleanRefusesWhileLocked(t *testing.T) {
	env := setupCLITestEnv(t)
	lock, err := worker.AcquireLock(env.cfg.LockPath())
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	defer lock.Release()

	_, _, err = runCLI(t, []string{"staging", "clean", "job-a"}, env.configPath)
	if !errors.Is(err, worker.ErrLocked) {
		t.Fatalf("expected locked error, got %v", err)
	}
}
