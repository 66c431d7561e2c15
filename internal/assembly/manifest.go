package assembly

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cycaxworker/internal/colour"
	"cycaxworker/internal/placement"
	"cycaxworker/internal/services"
)

// ManifestSuffix is appended to the assembly name for the placement manifest.
const ManifestSuffix = ".placement.json"

// PlacementManifest describes where every part instance of a build ended up.
// It is uploaded next to the scene.
type PlacementManifest struct {
	JobID         string       `json:"job_id"`
	Name          string       `json:"name"`
	Scene         string       `json:"scene"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Parts         []PlacedPart `json:"parts"`
}

// PlacedPart is one part instance in a PlacementManifest.
type PlacedPart struct {
	Instance    string           `json:"instance"`
	PartNo      string           `json:"part_no"`
	JobID       string           `json:"jobid"`
	Mesh        string           `json:"mesh"`
	Position    placement.Vec3   `json:"position"`
	Rotations   []placement.Axis `json:"rotations"`
	Offset      placement.Vec3   `json:"offset"`
	Extents     placement.Vec3   `json:"extents"`
	Translation placement.Vec3   `json:"translation"`
	Colour      string           `json:"colour"`
	RGB         colour.RGB       `json:"rgb"`
}

func writeManifest(path string, m PlacementManifest) error {
	if m.Parts == nil {
		m.Parts = []PlacedPart{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode placement manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrFileSystem, "assembly", "write manifest", "create "+filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return services.Wrap(services.ErrFileSystem, "assembly", "write manifest", path, err)
	}
	return nil
}

// ReadManifest loads a placement manifest written by a build.
func ReadManifest(path string) (PlacementManifest, error) {
	var m PlacementManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, services.Wrap(services.ErrFileSystem, "assembly", "read manifest", path, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, services.Wrap(services.ErrValidation, "assembly", "read manifest", path, err)
	}
	return m, nil
}
