package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// StageMesh places an ASCII STL body of exactly size bytes at
// stagingDir/jobID/file, the layout the downloader leaves behind, and
// returns its path.
func StageMesh(t testing.TB, stagingDir, jobID, file string, size int) string {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	path := filepath.Join(stagingDir, jobID, file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("stage %s: %v", path, err)
	}

	name := strings.TrimSuffix(file, filepath.Ext(file))
	body := []byte("solid " + name + "\nendsolid " + name + "\n")
	if pad := size - len(body); pad > 0 {
		body = append(body[:len(body)-1], append(bytes.Repeat([]byte(" "), pad), '\n')...)
	}
	if err := os.WriteFile(path, body[:size], 0o644); err != nil {
		t.Fatalf("stage %s: %v", path, err)
	}
	return path
}
