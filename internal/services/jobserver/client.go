package jobserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cycaxworker/internal/config"
	"cycaxworker/internal/jobspec"
	"cycaxworker/internal/logging"
	"cycaxworker/internal/retry"
	"cycaxworker/internal/services"
)

const (
	defaultRequestTimeout       = 20 * time.Second
	defaultUploadAttempts       = 3
	defaultUploadRetryDelay     = 3 * time.Second
	defaultCompletionMinUploads = 2
	maxErrorBody                = 512
)

// HTTPDoer describes the HTTP client used by the job server client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one job server.
type Client struct {
	baseURL        string
	httpClient     HTTPDoer
	requestTimeout time.Duration
	uploadPolicy   retry.Policy
	completionMin  int
	logger         *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRequestTimeout bounds each request (defaults to 20s).
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.requestTimeout = timeout
		}
	}
}

// WithRetryPolicy overrides the per-file upload retry policy.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(c *Client) {
		sleeper := c.uploadPolicy.Sleeper
		c.uploadPolicy = policy
		if c.uploadPolicy.Sleeper == nil {
			c.uploadPolicy.Sleeper = sleeper
		}
	}
}

// WithSleeper overrides how upload retry sleeps are performed (useful for tests).
func WithSleeper(sleeper retry.Sleeper) Option {
	return func(c *Client) {
		c.uploadPolicy.Sleeper = sleeper
	}
}

// WithCompletionThreshold sets how many files must upload before the task is
// reported COMPLETED (defaults to 2).
func WithCompletionThreshold(minUploads int) Option {
	return func(c *Client) {
		if minUploads >= 0 {
			c.completionMin = minUploads
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		requestTimeout: defaultRequestTimeout,
		uploadPolicy:   retry.Fixed(defaultUploadAttempts, defaultUploadRetryDelay),
		completionMin:  defaultCompletionMinUploads,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{}
	}
	client.logger = logging.NewComponentLogger(client.logger, "jobserver")
	return client
}

// NewFromConfig builds a client from the [server] and [upload] settings.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	base := []Option{
		WithLogger(logger),
		WithRequestTimeout(cfg.RequestTimeout()),
		WithRetryPolicy(retry.Fixed(cfg.Upload.Attempts, cfg.UploadRetryDelay())),
		WithCompletionThreshold(cfg.Upload.CompletionMinUploads),
	}
	return NewClient(cfg.Server.URL, append(base, opts...)...)
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListJobs returns the jobs matching filter. State values are sent upper-cased.
func (c *Client) ListJobs(ctx context.Context, filter Filter) ([]Job, error) {
	upper := cases.Upper(language.Und)
	query := url.Values{}
	if s := strings.TrimSpace(filter.StateIn); s != "" {
		query.Set("state_in", upper.String(s))
	}
	if s := strings.TrimSpace(filter.StateNotIn); s != "" {
		query.Set("state_not_in", upper.String(s))
	}
	c.logger.Debug("listing jobs", logging.String("server", c.baseURL), logging.String("query", query.Encode()))

	var jobs []Job
	if err := c.getData(ctx, "list jobs", "/jobs", query, &jobs, false); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob returns one job.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var job Job
	if err := c.getData(ctx, "get job", "/jobs/"+url.PathEscape(jobID), nil, &job, true); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJobSpec fetches and validates the assembly spec of a job.
func (c *Client) GetJobSpec(ctx context.Context, jobID string) (jobspec.Spec, error) {
	var raw json.RawMessage
	if err := c.getData(ctx, "get job spec", "/jobs/"+url.PathEscape(jobID)+"/spec", nil, &raw, true); err != nil {
		return jobspec.Spec{}, err
	}
	spec, err := jobspec.Decode(raw)
	if err != nil {
		return jobspec.Spec{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	return spec, nil
}

// ListArtifacts returns the artifact metadata of a job.
func (c *Client) ListArtifacts(ctx context.Context, jobID string) ([]Artifact, error) {
	var artifacts []Artifact
	if err := c.getData(ctx, "list artifacts", artifactsPath(jobID), nil, &artifacts, false); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// SetTaskState reports a task state. The server decides whether the
// transition is legal; a refusal is returned as services.ErrRejected.
func (c *Client) SetTaskState(ctx context.Context, jobID, task string, state TaskState) error {
	payload, err := json.Marshal(struct {
		Name  string    `json:"name"`
		State TaskState `json:"state"`
	}{Name: task, State: state})
	if err != nil {
		return fmt.Errorf("encode task state: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	path := "/jobs/" + url.PathEscape(jobID) + "/tasks"
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransport, "jobserver", "set task state", fmt.Sprintf("job %s task %s", jobID, task), err)
	}
	defer resp.Body.Close()
	if err := statusError(resp, "set task state", path); err != nil {
		return err
	}
	c.logger.Info("task state reported",
		logging.String(logging.FieldJobID, jobID),
		logging.String("task", task),
		logging.String("state", string(state)),
	)
	return nil
}

// getData decodes the data member of a GET response into out. A null or
// absent data member is ErrNotFound when required, and leaves out untouched
// otherwise.
func (c *Client) getData(ctx context.Context, operation, path string, query url.Values, out any, required bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransport, "jobserver", operation, path, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp, operation, path); err != nil {
		return err
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return services.Wrap(services.ErrTransport, "jobserver", operation, "decode response", err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		if !required {
			return nil
		}
		return services.Wrap(services.ErrNotFound, "jobserver", operation, path+" returned no data", nil)
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = envelope.Data
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return services.Wrap(services.ErrTransport, "jobserver", operation, "decode data", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "jobserver", "build request", target, err)
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}
	return req, nil
}

// statusError classifies non-2xx responses: 404 is not found, 5xx is a
// transport problem worth retrying later, anything else is a rejection.
func statusError(resp *http.Response, operation, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := fmt.Sprintf("%s returned %d", path, resp.StatusCode)
	if snippet := strings.TrimSpace(string(body)); snippet != "" {
		detail += ": " + snippet
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "jobserver", operation, detail, nil)
	case resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransport, "jobserver", operation, detail, nil)
	default:
		return services.Wrap(services.ErrRejected, "jobserver", operation, detail, nil)
	}
}

func artifactsPath(jobID string) string {
	return "/jobs/" + url.PathEscape(jobID) + "/artifacts"
}

// artifactPath addresses one artifact. Slashes in the id stay path
// separators; each segment is escaped on its own.
func artifactPath(jobID, artifactID string) string {
	segments := strings.Split(artifactID, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return artifactsPath(jobID) + "/" + strings.Join(segments, "/")
}
