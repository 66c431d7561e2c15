package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"cycaxworker/internal/config"
	"cycaxworker/internal/services"
)

// unsetEnv clears key for the duration of the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestLoadUsesEnvServerAndDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())
	t.Setenv("CYCAX_SERVER", "http://jobs.example:8765/")
	unsetEnv(t, "CYCAX_TEMP_DIR")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(tempHome, ".config", "cycaxworker", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if cfg.Server.URL != "http://jobs.example:8765" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Server.URL)
	}
	if cfg.Paths.StagingDir != "/tmp/cycax_blender_worker" {
		t.Fatalf("unexpected staging dir %q", cfg.Paths.StagingDir)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, ".local", "share", "cycaxworker") {
		t.Fatalf("unexpected state dir %q", cfg.Paths.StateDir)
	}
	if cfg.Worker.TaskName != "blender" {
		t.Fatalf("unexpected task name %q", cfg.Worker.TaskName)
	}
	if cfg.PollInterval() != 10*time.Second || cfg.ErrorRetryInterval() != 20*time.Second {
		t.Fatalf("unexpected intervals %s %s", cfg.PollInterval(), cfg.ErrorRetryInterval())
	}
	if cfg.Upload.Attempts != 3 || cfg.UploadRetryDelay() != 3*time.Second || cfg.Upload.CompletionMinUploads != 2 {
		t.Fatalf("unexpected upload settings %+v", cfg.Upload)
	}
	if cfg.HistoryPath() != filepath.Join(cfg.Paths.StateDir, "history.db") {
		t.Fatalf("unexpected history path %q", cfg.HistoryPath())
	}
}

func TestLoadMissingServerIsConfigurationError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	unsetEnv(t, "CYCAX_SERVER")

	_, _, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected error for missing server url")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "CYCAX_SERVER") {
		t.Fatalf("expected env hint in %q", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	unsetEnv(t, "CYCAX_SERVER")
	unsetEnv(t, "CYCAX_TEMP_DIR")

	staging := filepath.Join(dir, "staging")
	content := "CYCAX_SERVER=https://dotenv.example\nCYCAX_TEMP_DIR=" + staging + "\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.URL != "https://dotenv.example" {
		t.Fatalf("unexpected server url %q", cfg.Server.URL)
	}
	if cfg.Paths.StagingDir != staging {
		t.Fatalf("unexpected staging dir %q", cfg.Paths.StagingDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	unsetEnv(t, "CYCAX_SERVER")
	unsetEnv(t, "CYCAX_TEMP_DIR")

	cfg := config.Default()
	cfg.Server.URL = "http://server.local"
	cfg.Paths.StagingDir = "~/staging"
	cfg.Worker.TaskName = "render"
	cfg.Scene.Engine = "MANIFEST"
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected existing config at %q, got %q (exists=%v)", path, resolved, exists)
	}
	home, _ := os.UserHomeDir()
	if loaded.Paths.StagingDir != filepath.Join(home, "staging") {
		t.Fatalf("expected expanded staging dir, got %q", loaded.Paths.StagingDir)
	}
	if loaded.Worker.TaskName != "render" {
		t.Fatalf("unexpected task name %q", loaded.Worker.TaskName)
	}
	if loaded.Scene.Engine != config.SceneEngineManifest {
		t.Fatalf("expected normalized engine, got %q", loaded.Scene.Engine)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"scheme", func(c *config.Config) { c.Server.URL = "ftp://x" }},
		{"no host", func(c *config.Config) { c.Server.URL = "http://" }},
		{"poll", func(c *config.Config) { c.Worker.PollInterval = 0 }},
		{"attempts", func(c *config.Config) { c.Upload.Attempts = 0 }},
		{"engine", func(c *config.Config) { c.Scene.Engine = "maya" }},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Server.URL = "http://ok.example"
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	unsetEnv(t, "CYCAX_SERVER")
	unsetEnv(t, "CYCAX_TEMP_DIR")

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Server.URL != "http://localhost:8765" {
		t.Fatalf("unexpected sample server url %q", cfg.Server.URL)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
