package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateScene(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.URL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("server.url is required. Set %s or edit %s (create with 'cycaxworker config init')", envServer, defaultPath)
	}
	parsed, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https, got %q", c.Server.URL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("server.url must include a host, got %q", c.Server.URL)
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.PollInterval <= 0 {
		return errors.New("worker.poll_interval must be positive")
	}
	if c.Worker.ErrorRetryInterval <= 0 {
		return errors.New("worker.error_retry_interval must be positive")
	}
	if c.Worker.StaleJobDays < 0 {
		return errors.New("worker.stale_job_days must be zero or positive")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.Attempts <= 0 {
		return errors.New("upload.attempts must be positive")
	}
	if c.Upload.RetryDelay < 0 {
		return errors.New("upload.retry_delay must be zero or positive")
	}
	if c.Upload.CompletionMinUploads < 0 {
		return errors.New("upload.completion_min_uploads must be zero or positive")
	}
	return nil
}

func (c *Config) validateScene() error {
	switch c.Scene.Engine {
	case SceneEngineBlender, SceneEngineManifest:
	default:
		return fmt.Errorf("scene.engine must be %q or %q, got %q", SceneEngineBlender, SceneEngineManifest, c.Scene.Engine)
	}
	if c.Scene.Timeout <= 0 {
		return errors.New("scene.timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
