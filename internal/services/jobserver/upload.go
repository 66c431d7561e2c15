package jobserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"cycaxworker/internal/logging"
	"cycaxworker/internal/services"
)

// UploadRequest selects the local files to send for a job.
type UploadRequest struct {
	// TaskName is the task reported COMPLETED after a successful upload.
	TaskName string
	JobID    string
	PartNo   string
	BaseDir  string
	// Extensions filters file names by suffix; empty accepts all.
	Extensions []string
	// JobScoped reads from BaseDir/JobID instead of BaseDir/PartNo.
	JobScoped bool
}

// Dir is the local directory the request uploads from.
func (r UploadRequest) Dir() string {
	return stagingDir(r.BaseDir, r.JobID, r.PartNo, r.JobScoped)
}

// UploadResult reports what an upload batch did.
type UploadResult struct {
	Uploaded  []string
	Attempts  int
	Completed bool
}

// UploadArtifacts sends every matching regular file in the request directory,
// in name order. Each file gets the client's retry budget; if one file
// exhausts it the batch stops and no further files are tried. Whether or not
// the batch stopped early, the task is marked COMPLETED when the number of
// uploaded files reaches the completion threshold; the abort error is still
// returned.
func (c *Client) UploadArtifacts(ctx context.Context, req UploadRequest) (UploadResult, error) {
	logger := c.logger.With(logging.String(logging.FieldJobID, req.JobID))
	var (
		result   UploadResult
		abortErr error
	)

	dir := req.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return result, services.Wrap(services.ErrFileSystem, "jobserver", "upload artifacts", "read "+dir, err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !CheckExtension(req.Extensions, entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		policy := c.uploadPolicy
		policy.OnRetry = func(attempt int, err error) {
			logger.Warn("artifact upload failed; retrying",
				logging.String(logging.FieldEventType, "upload_retry"),
				logging.String("path", path),
				logging.Int("attempt", attempt),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the job server is reachable"),
			)
		}
		attempts, err := policy.Do(ctx, func(int) error {
			return c.UploadFile(ctx, req.JobID, path)
		})
		result.Attempts += attempts
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			logger.Error("artifact upload abandoned; aborting batch",
				logging.String(logging.FieldEventType, "upload_aborted"),
				logging.String("path", path),
				logging.Int("uploaded", len(result.Uploaded)),
				logging.Error(err),
			)
			abortErr = services.Wrap(services.ErrTransport, "jobserver", "upload artifacts",
				fmt.Sprintf("%s not uploaded after %d attempts", entry.Name(), attempts), err)
			break
		}
		result.Uploaded = append(result.Uploaded, path)
	}

	if len(result.Uploaded) < c.completionMin {
		logger.Warn("too few artifacts uploaded to mark task complete",
			logging.String(logging.FieldEventType, "completion_skipped"),
			logging.Int("uploaded", len(result.Uploaded)),
			logging.Int("required", c.completionMin),
			logging.String(logging.FieldImpact, "task stays incomplete and will be rebuilt"),
		)
		return result, abortErr
	}
	if err := c.SetTaskState(ctx, req.JobID, req.TaskName, TaskCompleted); err != nil {
		return result, errors.Join(abortErr, err)
	}
	result.Completed = true
	return result, abortErr
}

// UploadFile posts one file as multipart form data: the bytes in field
// "upload_file" and the base name in field "filename".
func (c *Client) UploadFile(ctx context.Context, jobID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return services.Wrap(services.ErrFileSystem, "jobserver", "upload file", "read "+path, err)
	}
	name := filepath.Base(path)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("filename", name); err != nil {
		return fmt.Errorf("encode upload form: %w", err)
	}
	part, err := writer.CreateFormFile("upload_file", name)
	if err != nil {
		return fmt.Errorf("encode upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("encode upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("encode upload form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	apiPath := artifactsPath(jobID)
	req, err := c.newRequest(ctx, http.MethodPost, apiPath, nil, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransport, "jobserver", "upload file", name, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp, "upload file", apiPath); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Info("artifact uploaded", logging.String(logging.FieldJobID, jobID), logging.String("file", name))
	return nil
}
