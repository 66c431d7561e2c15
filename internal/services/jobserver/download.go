package jobserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"cycaxworker/internal/logging"
	"cycaxworker/internal/services"
)

// DownloadRequest selects which artifacts of a job to stage and where.
type DownloadRequest struct {
	JobID   string
	PartNo  string
	BaseDir string
	// Extensions filters artifact ids by suffix; empty accepts all.
	Extensions []string
	// Overwrite re-fetches artifacts whose local file already exists.
	Overwrite bool
	// JobScoped stages under BaseDir/JobID instead of BaseDir/PartNo.
	JobScoped bool
}

// Dir is the local directory the request stages into.
func (r DownloadRequest) Dir() string {
	return stagingDir(r.BaseDir, r.JobID, r.PartNo, r.JobScoped)
}

// DownloadArtifacts stages the job's artifacts locally and returns how many
// were fetched from the server. Existing files are left alone, without a
// request, unless Overwrite is set.
func (c *Client) DownloadArtifacts(ctx context.Context, req DownloadRequest) (int, error) {
	logger := c.logger.With(logging.String(logging.FieldJobID, req.JobID))

	artifacts, err := c.ListArtifacts(ctx, req.JobID)
	if err != nil {
		return 0, err
	}

	dir := req.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, services.Wrap(services.ErrFileSystem, "jobserver", "download artifacts", "create "+dir, err)
	}

	fetched := 0
	for _, artifact := range artifacts {
		if artifact.ID == "" || artifact.Type != ArtifactTypeArtifact || !CheckExtension(req.Extensions, artifact.ID) {
			continue
		}
		name := LocalName(artifact.ID, req.PartNo)
		if !filepath.IsLocal(name) {
			logger.Warn("artifact id escapes staging directory; skipping",
				logging.String(logging.FieldEventType, "artifact_skipped"),
				logging.String("artifact_id", artifact.ID),
				logging.String(logging.FieldErrorHint, "check artifact ids on the job server"),
			)
			continue
		}
		dest := filepath.Join(dir, name)

		if !req.Overwrite {
			if _, err := os.Stat(dest); err == nil {
				logger.Debug("artifact already staged", logging.String("path", dest))
				continue
			} else if !errors.Is(err, fs.ErrNotExist) {
				return fetched, services.Wrap(services.ErrFileSystem, "jobserver", "download artifacts", "stat "+dest, err)
			}
		}

		if err := c.FetchArtifact(ctx, req.JobID, artifact.ID, dest); err != nil {
			return fetched, err
		}
		fetched++
		logger.Info("artifact downloaded", logging.String("artifact_id", artifact.ID), logging.String("path", dest))
	}
	return fetched, nil
}

// FetchArtifact downloads one artifact body to dest, replacing any existing
// file. The file appears atomically.
func (c *Client) FetchArtifact(ctx context.Context, jobID, artifactID, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	path := artifactPath(jobID, artifactID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransport, "jobserver", "fetch artifact", artifactID, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp, "fetch artifact", path); err != nil {
		return err
	}
	return writeAtomic(dest, resp.Body)
}

func writeAtomic(dest string, body io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.Wrap(services.ErrFileSystem, "jobserver", "write artifact", "create "+dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return services.Wrap(services.ErrFileSystem, "jobserver", "write artifact", "create temp file", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		cleanup()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return services.Wrap(services.ErrTransport, "jobserver", "write artifact", "read body", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return services.Wrap(services.ErrFileSystem, "jobserver", "write artifact", "close temp file", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return services.Wrap(services.ErrFileSystem, "jobserver", "write artifact", "chmod", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return services.Wrap(services.ErrFileSystem, "jobserver", "write artifact", fmt.Sprintf("rename to %s", dest), err)
	}
	return nil
}
