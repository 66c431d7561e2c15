package assembly

import (
	"fmt"
	"log/slog"

	"cycaxworker/internal/config"
	"cycaxworker/internal/scene"
	"cycaxworker/internal/scene/blender"
)

// EngineFactory creates the scene engine for one build.
type EngineFactory func() (scene.Engine, error)

// NewEngineFactory returns a factory for the configured scene engine.
func NewEngineFactory(cfg *config.Config, logger *slog.Logger) (EngineFactory, error) {
	switch cfg.Scene.Engine {
	case config.SceneEngineManifest:
		return func() (scene.Engine, error) { return scene.NewRecorder(), nil }, nil
	case config.SceneEngineBlender:
		binary := cfg.Scene.BlenderBinary
		timeout := cfg.SceneTimeout()
		return func() (scene.Engine, error) {
			return blender.New(binary, timeout, blender.WithLogger(logger))
		}, nil
	default:
		return nil, fmt.Errorf("unsupported scene engine %q", cfg.Scene.Engine)
	}
}
