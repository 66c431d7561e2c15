package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	envServer  = "CYCAX_SERVER"
	envTempDir = "CYCAX_TEMP_DIR"
)

func (c *Config) normalize() error {
	c.normalizeServer()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeScene()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.URL = strings.TrimSpace(c.Server.URL)
	if c.Server.URL == "" {
		if value, ok := os.LookupEnv(envServer); ok {
			c.Server.URL = strings.TrimSpace(value)
		}
	}
	c.Server.URL = strings.TrimRight(c.Server.URL, "/")
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" || c.Paths.StagingDir == defaultStagingDir {
		if value, ok := os.LookupEnv(envTempDir); ok && strings.TrimSpace(value) != "" {
			c.Paths.StagingDir = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}

	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() {
	c.Worker.TaskName = strings.TrimSpace(c.Worker.TaskName)
	if c.Worker.TaskName == "" {
		c.Worker.TaskName = defaultTaskName
	}
}

func (c *Config) normalizeScene() {
	c.Scene.Engine = strings.ToLower(strings.TrimSpace(c.Scene.Engine))
	if c.Scene.Engine == "" {
		c.Scene.Engine = defaultSceneEngine
	}
	c.Scene.BlenderBinary = strings.TrimSpace(c.Scene.BlenderBinary)
	if c.Scene.BlenderBinary == "" {
		c.Scene.BlenderBinary = defaultBlenderBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
