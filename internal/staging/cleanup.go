package staging

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cycaxworker/internal/logging"
)

// Result contains the outcome of a cleanup operation.
type Result struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes job directories not modified within maxAge. Directories
// named in keep are left alone. A non-positive maxAge removes nothing.
func CleanStale(ctx context.Context, stagingDir string, maxAge time.Duration, keep map[string]struct{}, logger *slog.Logger) Result {
	var result Result
	if maxAge <= 0 {
		return result
	}
	entries, ok := readJobDirs(stagingDir, &result)
	if !ok {
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if _, kept := keep[entry.Name()]; kept {
			continue
		}
		dirPath := filepath.Join(stagingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		remove(dirPath, &result, logger, logging.Duration("age", time.Since(info.ModTime())))
	}
	return result
}

// CleanJobs removes the staging directories of the given jobs. Ids that do
// not name a directory directly under stagingDir are ignored.
func CleanJobs(ctx context.Context, stagingDir string, jobIDs []string, logger *slog.Logger) Result {
	var result Result
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}
	for _, id := range jobIDs {
		if ctx.Err() != nil {
			break
		}
		if id == "." || filepath.Base(id) != id || !filepath.IsLocal(id) || strings.ContainsAny(id, `/\`) {
			continue
		}
		dirPath := filepath.Join(stagingDir, id)
		info, err := os.Stat(dirPath)
		if err != nil || !info.IsDir() {
			continue
		}
		remove(dirPath, &result, logger)
	}
	return result
}

// DirInfo contains metadata about a job staging directory.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Files   int
	Size    int64
}

// ListDirectories returns the job directories under stagingDir.
func ListDirectories(stagingDir string) ([]DirInfo, error) {
	var result Result
	entries, ok := readJobDirs(stagingDir, &result)
	if !ok {
		if len(result.Errors) > 0 {
			return nil, result.Errors[0].Error
		}
		return nil, nil
	}

	dirs := make([]DirInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(stagingDir, entry.Name())
		files, size := dirUsage(dirPath)
		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Files:   files,
			Size:    size,
		})
	}
	return dirs, nil
}

func readJobDirs(stagingDir string, result *Result) ([]os.DirEntry, bool) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, false
	}
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		}
		return nil, false
	}
	dirs := entries[:0]
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry)
		}
	}
	return dirs, true
}

func remove(dirPath string, result *Result, logger *slog.Logger, attrs ...logging.Attr) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.RemoveAll(dirPath); err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
		logging.WarnWithContext(logger, "failed to remove staging directory", "staging_cleanup_failed",
			logging.String("path", dirPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
		return
	}
	result.Removed = append(result.Removed, dirPath)
	logger.Info("removed staging directory", logging.Args(append([]logging.Attr{
		logging.String("path", dirPath),
		logging.String(logging.FieldEventType, "staging_cleanup"),
	}, attrs...)...)...)
}

// dirUsage counts regular files and their total size, best effort.
func dirUsage(path string) (int, int64) {
	var (
		files int
		size  int64
	)
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			files++
			size += info.Size()
		}
		return nil
	})
	return files, size
}
