// Package scene defines the capability interface the assembler uses to
// compose a 3-D scene, plus an in-process Recorder implementation.
//
// Engines hand out explicit Object handles from ImportMesh; every later
// operation names the object it applies to. Nothing depends on a current
// selection.
package scene

import (
	"context"

	"cycaxworker/internal/colour"
	"cycaxworker/internal/placement"
)

const (
	// MaterialAlpha is the diffuse alpha given to part materials.
	MaterialAlpha = 0.8
	// ViewClipEnd is the 3-D viewport clip distance in millimetres (50 m).
	ViewClipEnd = 50000
)

// Object is a handle to an imported mesh.
type Object struct {
	Name string
	id   int
}

// Engine composes and persists a scene.
type Engine interface {
	// ImportMesh loads the mesh at path as a new object called name.
	ImportMesh(path, name string) (Object, error)
	// ApplyTransform turns obj a quarter turn about each rotation's axis, in
	// order, then translates it.
	ApplyTransform(obj Object, translation placement.Vec3, rotations []placement.Rotation) error
	// SetColor assigns a new material called material with the given colour.
	SetColor(obj Object, rgb colour.RGB, material string) error
	// SaveScene writes the composed scene to path.
	SaveScene(ctx context.Context, path string) error
	// Extension is the file extension SaveScene produces, including the dot.
	Extension() string
}
