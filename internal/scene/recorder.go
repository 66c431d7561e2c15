package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"cycaxworker/internal/colour"
	"cycaxworker/internal/placement"
	"cycaxworker/internal/services"
)

// ManifestExtension is the file extension of a saved Recorder scene.
const ManifestExtension = ".json"

// PlacedObject is one object as recorded.
type PlacedObject struct {
	Name        string           `json:"name"`
	Mesh        string           `json:"mesh"`
	Rotations   []placement.Axis `json:"rotations"`
	Translation placement.Vec3   `json:"translation"`
	Material    string           `json:"material,omitempty"`
	Colour      *colour.RGB      `json:"colour,omitempty"`
	Alpha       float64          `json:"alpha,omitempty"`
}

// Manifest is the full recorded scene.
type Manifest struct {
	Objects []PlacedObject `json:"objects"`
	ClipEnd float64        `json:"clip_end"`
}

// Recorder is an Engine that keeps the scene in memory and saves it as a
// JSON manifest. The Blender engine builds on it.
type Recorder struct {
	mu      sync.Mutex
	objects []PlacedObject
	names   map[string]struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{names: map[string]struct{}{}}
}

// ImportMesh records a new object. The mesh file must exist.
func (r *Recorder) ImportMesh(path, name string) (Object, error) {
	if name == "" {
		return Object{}, errors.New("scene: object name required")
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, services.Wrap(services.ErrMissingArtifact, "scene", "import mesh", path, err)
		}
		return Object{}, services.Wrap(services.ErrFileSystem, "scene", "import mesh", path, err)
	}
	if info.IsDir() {
		return Object{}, services.Wrap(services.ErrFileSystem, "scene", "import mesh", path+" is a directory", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[name]; dup {
		return Object{}, fmt.Errorf("scene: object %q already exists", name)
	}
	r.names[name] = struct{}{}
	r.objects = append(r.objects, PlacedObject{Name: name, Mesh: path})
	return Object{Name: name, id: len(r.objects)}, nil
}

// ApplyTransform records rotations and adds translation to the object.
func (r *Recorder) ApplyTransform(obj Object, translation placement.Vec3, rotations []placement.Rotation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	placed, err := r.lookup(obj)
	if err != nil {
		return err
	}
	for _, rot := range rotations {
		if !rot.Axis.Valid() {
			return services.Wrap(services.ErrInvalidAxis, "scene", "apply transform", fmt.Sprintf("axis %q", rot.Axis), nil)
		}
		placed.Rotations = append(placed.Rotations, rot.Axis)
	}
	placed.Translation = placed.Translation.Add(translation)
	return nil
}

// SetColor records the object's material.
func (r *Recorder) SetColor(obj Object, rgb colour.RGB, material string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	placed, err := r.lookup(obj)
	if err != nil {
		return err
	}
	c := rgb
	placed.Colour = &c
	placed.Material = material
	placed.Alpha = MaterialAlpha
	return nil
}

// Manifest returns a copy of the recorded scene.
func (r *Recorder) Manifest() Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Manifest{Objects: make([]PlacedObject, len(r.objects)), ClipEnd: ViewClipEnd}
	for i, obj := range r.objects {
		obj.Rotations = append([]placement.Axis(nil), obj.Rotations...)
		out.Objects[i] = obj
	}
	return out
}

// SaveScene writes the manifest as indented JSON.
func (r *Recorder) SaveScene(_ context.Context, path string) error {
	data, err := json.MarshalIndent(r.Manifest(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode scene manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrFileSystem, "scene", "save scene", "create "+filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return services.Wrap(services.ErrFileSystem, "scene", "save scene", path, err)
	}
	return nil
}

// Extension reports ".json".
func (r *Recorder) Extension() string {
	return ManifestExtension
}

func (r *Recorder) lookup(obj Object) (*PlacedObject, error) {
	if obj.id <= 0 || obj.id > len(r.objects) || r.objects[obj.id-1].Name != obj.Name {
		return nil, fmt.Errorf("scene: unknown object %q", obj.Name)
	}
	return &r.objects[obj.id-1], nil
}
