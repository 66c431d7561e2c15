package assembly

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"cycaxworker/internal/config"
	"cycaxworker/internal/history"
	"cycaxworker/internal/jobspec"
	"cycaxworker/internal/logging"
	"cycaxworker/internal/placement"
	"cycaxworker/internal/scene"
	"cycaxworker/internal/services"
	"cycaxworker/internal/services/jobserver"
)

// MeshExtension is the artifact extension staged for each part.
const MeshExtension = ".stl"

// ArtifactClient is the part of the job server client a build needs.
type ArtifactClient interface {
	DownloadArtifacts(ctx context.Context, req jobserver.DownloadRequest) (int, error)
	UploadArtifacts(ctx context.Context, req jobserver.UploadRequest) (jobserver.UploadResult, error)
}

// Ledger records finished builds.
type Ledger interface {
	Record(ctx context.Context, entry history.Entry) (int64, error)
}

// Result summarizes one build.
type Result struct {
	JobID         string
	Name          string
	CorrelationID string
	Engine        string
	State         State
	// FailedStage is set when State is StateFailed.
	FailedStage  State
	Parts        int
	Downloaded   int
	Uploaded     int
	Completed    bool
	ScenePath    string
	ManifestPath string
	StartedAt    time.Time
	FinishedAt   time.Time
	Err          error
}

// Entry converts the result to a history ledger row.
func (r Result) Entry() history.Entry {
	entry := history.Entry{
		JobID:         r.JobID,
		CorrelationID: r.CorrelationID,
		Name:          r.Name,
		State:         history.StateDone,
		Engine:        r.Engine,
		Parts:         r.Parts,
		Downloaded:    r.Downloaded,
		Uploaded:      r.Uploaded,
		Completed:     r.Completed,
		ScenePath:     r.ScenePath,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
	if r.State == StateFailed {
		entry.State = history.StateFailed
		entry.FailedStage = string(r.FailedStage)
		details := services.Details(r.Err)
		entry.ErrorKind = details.Kind
		entry.ErrorMessage = details.Message
	}
	return entry
}

// Option configures a Builder.
type Option func(*Builder)

// WithClient sets the job server client. Without one the builder works
// offline.
func WithClient(client ArtifactClient) Option {
	return func(b *Builder) {
		b.client = client
	}
}

// WithLedger records every build in ledger.
func WithLedger(ledger Ledger) Option {
	return func(b *Builder) {
		b.ledger = ledger
	}
}

// WithEngineFactory overrides the scene engine. name is recorded in history.
func WithEngineFactory(name string, factory EngineFactory) Option {
	return func(b *Builder) {
		if factory != nil {
			b.engineName = name
			b.newEngine = factory
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock replaces time.Now for build timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// Builder runs assembly builds.
type Builder struct {
	baseDir    string
	taskName   string
	client     ArtifactClient
	ledger     Ledger
	engineName string
	newEngine  EngineFactory
	logger     *slog.Logger
	now        func() time.Time
}

// NewBuilder constructs a builder staging under baseDir and reporting
// taskName on completion. The default engine is the in-memory recorder.
func NewBuilder(baseDir, taskName string, opts ...Option) *Builder {
	b := &Builder{
		baseDir:    baseDir,
		taskName:   taskName,
		engineName: config.SceneEngineManifest,
		newEngine:  func() (scene.Engine, error) { return scene.NewRecorder(), nil },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.NewComponentLogger(b.logger, "assembly")
	return b
}

// NewFromConfig constructs a builder using the configured staging
// directory, task name, and scene engine. Options apply last.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Builder, error) {
	factory, err := NewEngineFactory(cfg, logger)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "assembly", "engine", "", err)
	}
	base := []Option{
		WithLogger(logger),
		WithEngineFactory(cfg.Scene.Engine, factory),
	}
	return NewBuilder(cfg.Paths.StagingDir, cfg.Worker.TaskName, append(base, opts...)...), nil
}

// Run builds spec for jobID. The returned Result is filled in even when the
// build fails.
func (b *Builder) Run(ctx context.Context, jobID string, spec jobspec.Spec) (Result, error) {
	build := NewBuild(jobID, spec)
	correlationID := uuid.NewString()
	ctx = services.WithJobID(ctx, jobID)
	ctx = services.WithRequestID(ctx, correlationID)

	result := Result{
		JobID:         jobID,
		Name:          spec.Name,
		CorrelationID: correlationID,
		Engine:        b.engineName,
		State:         StateInit,
		Parts:         len(spec.Parts),
		StartedAt:     b.now(),
	}
	logger := logging.WithContext(ctx, b.logger)
	logger.Info("build started",
		logging.String(logging.FieldEventType, "build_start"),
		logging.String("name", spec.Name),
		logging.Int("parts", len(spec.Parts)),
		logging.String("engine", b.engineName),
	)

	err := b.run(ctx, build, &result)
	result.FinishedAt = b.now()
	if err != nil {
		result.FailedStage = build.State()
		build.enter(StateFailed)
		result.Err = err
	} else {
		build.enter(StateDone)
	}
	result.State = build.State()

	if err != nil {
		attrs := append([]logging.Attr{
			logging.String(logging.FieldEventType, "build_failed"),
			logging.String("failed_stage", string(result.FailedStage)),
		}, logging.ErrorAttrs(err)...)
		logger.Error("build failed", logging.Args(attrs...)...)
	} else {
		logger.Info("build completed",
			logging.String(logging.FieldEventType, "build_complete"),
			logging.String("scene", result.ScenePath),
			logging.Int("uploaded", result.Uploaded),
			logging.Bool("task_completed", result.Completed),
			logging.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
		)
	}

	b.record(ctx, logger, result)
	return result, err
}

func (b *Builder) run(ctx context.Context, build *Build, result *Result) error {
	spec := build.Spec
	if err := checkName(spec.Name); err != nil {
		return err
	}
	engine, err := b.newEngine()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "assembly", "create engine", b.engineName, err)
	}

	meshes, err := b.fetchParts(b.stage(ctx, build, StateFetchingParts), build, result)
	if err != nil {
		return err
	}

	manifest := PlacementManifest{
		JobID:         build.JobID,
		Name:          spec.Name,
		Scene:         spec.Name + engine.Extension(),
		CorrelationID: result.CorrelationID,
	}
	if manifest.Parts, err = b.placeParts(b.stage(ctx, build, StatePlacing), build, engine, meshes); err != nil {
		return err
	}

	saveCtx := b.stage(ctx, build, StateSaving)
	dir := filepath.Join(b.baseDir, build.JobID)
	scenePath := filepath.Join(dir, manifest.Scene)
	if err := engine.SaveScene(saveCtx, scenePath); err != nil {
		return err
	}
	result.ScenePath = scenePath
	manifestPath := filepath.Join(dir, spec.Name+ManifestSuffix)
	if err := writeManifest(manifestPath, manifest); err != nil {
		return err
	}
	result.ManifestPath = manifestPath

	if b.client == nil {
		return nil
	}
	uploadCtx := b.stage(ctx, build, StateUploading)
	upload, err := b.client.UploadArtifacts(uploadCtx, jobserver.UploadRequest{
		TaskName:   b.taskName,
		JobID:      build.JobID,
		BaseDir:    b.baseDir,
		Extensions: uploadExtensions(engine.Extension()),
		JobScoped:  true,
	})
	result.Uploaded = len(upload.Uploaded)
	result.Completed = upload.Completed
	return err
}

// fetchParts stages every part mesh and returns their local paths in spec
// order.
func (b *Builder) fetchParts(ctx context.Context, build *Build, result *Result) ([]string, error) {
	logger := logging.WithContext(ctx, b.logger)
	meshes := make([]string, len(build.Spec.Parts))
	for i, part := range build.Spec.Parts {
		req := jobserver.DownloadRequest{
			JobID:      part.JobID,
			PartNo:     part.PartNo,
			BaseDir:    b.baseDir,
			Extensions: []string{MeshExtension},
			JobScoped:  true,
		}
		if b.client != nil {
			fetched, err := b.client.DownloadArtifacts(ctx, req)
			if err != nil {
				return nil, err
			}
			result.Downloaded += fetched
		}
		mesh := filepath.Join(req.Dir(), part.MeshName())
		info, err := os.Stat(mesh)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, services.Wrap(services.ErrMissingArtifact, "assembly", "fetch parts",
				fmt.Sprintf("part %s of job %s has no mesh at %s", part.PartNo, part.JobID, mesh), nil)
		case err != nil:
			return nil, services.Wrap(services.ErrFileSystem, "assembly", "fetch parts", mesh, err)
		case !info.Mode().IsRegular():
			return nil, services.Wrap(services.ErrFileSystem, "assembly", "fetch parts", mesh+" is not a regular file", nil)
		}
		logger.Debug("part staged", logging.String("part_no", part.PartNo), logging.String("mesh", mesh))
		meshes[i] = mesh
	}
	return meshes, nil
}

func (b *Builder) placeParts(ctx context.Context, build *Build, engine scene.Engine, meshes []string) ([]PlacedPart, error) {
	logger := logging.WithContext(ctx, b.logger)
	placed := make([]PlacedPart, 0, len(build.Spec.Parts))
	for i, part := range build.Spec.Parts {
		name := build.NextInstance(part.PartNo)
		obj, err := engine.ImportMesh(meshes[i], name)
		if err != nil {
			return nil, err
		}
		p, err := placement.Compute(part.Rotmax, part.Position, part.Rotate)
		if err != nil {
			return nil, err
		}
		if err := engine.ApplyTransform(obj, p.Translation, p.Rotations); err != nil {
			return nil, err
		}
		colourSpec := part.ColourSpec()
		rgb, err := colourSpec.Resolve()
		if err != nil {
			return nil, err
		}
		material := colourSpec.String()
		if err := engine.SetColor(obj, rgb, material); err != nil {
			return nil, err
		}

		axes := make([]placement.Axis, len(p.Rotations))
		for j, r := range p.Rotations {
			axes[j] = r.Axis
		}
		placed = append(placed, PlacedPart{
			Instance:    name,
			PartNo:      part.PartNo,
			JobID:       part.JobID,
			Mesh:        filepath.ToSlash(filepath.Join(part.JobID, part.MeshName())),
			Position:    part.Position,
			Rotations:   axes,
			Offset:      p.Offset,
			Extents:     p.Extents,
			Translation: p.Translation,
			Colour:      material,
			RGB:         rgb,
		})
		logger.Debug("part placed",
			logging.String("instance", name),
			logging.String("translation", p.Translation.String()),
			logging.Int("rotations", len(p.Rotations)),
		)
	}
	return placed, nil
}

func (b *Builder) stage(ctx context.Context, build *Build, state State) context.Context {
	build.enter(state)
	ctx = services.WithStage(ctx, string(state))
	logging.WithContext(ctx, b.logger).Debug("build stage",
		logging.String(logging.FieldEventType, "build_stage"))
	return ctx
}

func (b *Builder) record(ctx context.Context, logger *slog.Logger, result Result) {
	if b.ledger == nil {
		return
	}
	// Recorded even when ctx is cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := b.ledger.Record(recordCtx, result.Entry()); err != nil {
		logger.Warn("failed to record build history", logging.Error(err))
	}
}

func checkName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed != name || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return services.Wrap(services.ErrValidation, "assembly", "check name",
			fmt.Sprintf("assembly name %q is not a usable file name", name), nil)
	}
	return nil
}

func uploadExtensions(sceneExt string) []string {
	return []string{sceneExt, ManifestSuffix}
}
