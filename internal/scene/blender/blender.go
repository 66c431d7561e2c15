// Package blender realizes a scene with a headless Blender process.
//
// Operations are recorded in memory; SaveScene renders them into a Python
// script and runs `blender --background` once to import, place, colour, and
// save every part.
package blender

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cycaxworker/internal/colour"
	"cycaxworker/internal/logging"
	"cycaxworker/internal/placement"
	"cycaxworker/internal/scene"
	"cycaxworker/internal/services"
)

// Extension is the file extension of a saved Blender scene.
const Extension = ".blend"

const defaultTimeout = 10 * time.Minute

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// Option configures the engine.
type Option func(*Engine)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(e *Engine) {
		if exec != nil {
			e.exec = exec
		}
	}
}

// WithLogger attaches a logger for Blender output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine is a scene.Engine backed by Blender.
type Engine struct {
	binary  string
	timeout time.Duration
	exec    Executor
	logger  *slog.Logger
	rec     *scene.Recorder
}

// New constructs a Blender engine.
func New(binary string, timeout time.Duration, opts ...Option) (*Engine, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("blender binary required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	engine := &Engine{
		binary:  binary,
		timeout: timeout,
		exec:    commandExecutor{},
		rec:     scene.NewRecorder(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	engine.logger = logging.NewComponentLogger(engine.logger, "blender")
	return engine, nil
}

// ImportMesh records an STL import.
func (e *Engine) ImportMesh(path, name string) (scene.Object, error) {
	return e.rec.ImportMesh(path, name)
}

// ApplyTransform records rotations and a translation.
func (e *Engine) ApplyTransform(obj scene.Object, translation placement.Vec3, rotations []placement.Rotation) error {
	return e.rec.ApplyTransform(obj, translation, rotations)
}

// SetColor records a material assignment.
func (e *Engine) SetColor(obj scene.Object, rgb colour.RGB, material string) error {
	return e.rec.SetColor(obj, rgb, material)
}

// Extension reports ".blend".
func (e *Engine) Extension() string {
	return Extension
}

// SaveScene runs Blender to build and save the recorded scene at path.
func (e *Engine) SaveScene(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return services.Wrap(services.ErrFileSystem, "blender", "save scene", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return services.Wrap(services.ErrFileSystem, "blender", "save scene", "create "+filepath.Dir(absPath), err)
	}

	script, err := Script(e.rec.Manifest(), absPath)
	if err != nil {
		return err
	}
	workDir, err := os.MkdirTemp("", "cycaxworker-blender-")
	if err != nil {
		return services.Wrap(services.ErrFileSystem, "blender", "save scene", "create script dir", err)
	}
	defer os.RemoveAll(workDir)
	scriptPath := filepath.Join(workDir, "assemble.py")
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return services.Wrap(services.ErrFileSystem, "blender", "save scene", "write script", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	args := []string{"--background", "--factory-startup", "--python-exit-code", "1", "--python", scriptPath}
	started := time.Now()
	e.logger.Info("running blender", logging.String("output", absPath), logging.Int("objects", len(e.rec.Manifest().Objects)))

	var tail outputTail
	err = e.exec.Run(runCtx, e.binary, args, func(line string) {
		tail.add(line)
		e.logger.Debug("blender output", logging.String("line", line))
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return services.Wrap(services.ErrExternalTool, "blender", "save scene", tail.String(), err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return services.Wrap(services.ErrExternalTool, "blender", "save scene", "blender exited without writing "+absPath, err)
	}
	e.logger.Info("blender scene saved", logging.String("output", absPath), logging.Duration("elapsed", time.Since(started)))
	return nil
}

// outputTail keeps the last few output lines for error messages.
type outputTail struct {
	lines []string
}

func (t *outputTail) add(line string) {
	const keep = 5
	t.lines = append(t.lines, line)
	if len(t.lines) > keep {
		t.lines = t.lines[len(t.lines)-keep:]
	}
}

func (t *outputTail) String() string {
	if len(t.lines) == 0 {
		return "blender failed"
	}
	return strings.Join(t.lines, " | ")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	forward := func(line string) {
		if onOutput == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onOutput(line)
	}
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			forward(scanner.Text())
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
