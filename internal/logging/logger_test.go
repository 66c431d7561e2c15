package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cycaxworker/internal/config"
	"cycaxworker/internal/logging"
	"cycaxworker/internal/services"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleFormatIncludesComponentAndJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithJobID(context.Background(), "job-7")
	logger = logging.WithContext(ctx, logging.NewComponentLogger(logger, "assembly"))
	logger.Info("build started", logging.Int("parts", 3), logging.String("name", "my box"))
	logger.Debug("hidden")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	if strings.Contains(line, "hidden") {
		t.Fatalf("debug line should be filtered: %q", line)
	}
	for _, want := range []string{"INFO assembly: [job-7] build started", "parts=3", `name="my box"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	logger, err := logging.New(logging.Options{Format: "json", Level: "warn", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("upload retry", logging.String(logging.FieldEventType, "upload_retry"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if payload["level"] != "warn" || payload["msg"] != "upload retry" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key: %v", payload)
	}
	if payload[logging.FieldEventType] != "upload_retry" {
		t.Fatalf("missing event type: %v", payload)
	}
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Format = "json"
	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("hello")
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "cycaxworker.log")); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestErrorAttrs(t *testing.T) {
	if attrs := logging.ErrorAttrs(nil); attrs != nil {
		t.Fatalf("expected nil attrs, got %v", attrs)
	}
	err := services.Wrap(services.ErrMissingArtifact, "assembly", "fetch part", "no mesh", errors.New("boom"))
	attrs := logging.ErrorAttrs(err)
	keys := map[string]string{}
	for _, attr := range attrs {
		keys[attr.Key] = attr.Value.String()
	}
	if keys[logging.FieldErrorKind] != "missing_artifact" {
		t.Fatalf("unexpected kind: %v", keys)
	}
	if keys[logging.FieldErrorHint] == "" {
		t.Fatalf("expected hint: %v", keys)
	}
}
