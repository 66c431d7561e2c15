// Package jobspec defines the assembly job spec and decodes it from the job
// server (JSON) or from local files (YAML or JSON) for offline builds.
package jobspec

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"cycaxworker/internal/colour"
	"cycaxworker/internal/placement"
	"cycaxworker/internal/services"
)

//go:embed schema.json
var schemaText string

const schemaURL = "https://cycax.local/schemas/jobspec.json"

// DefaultColour is used for parts whose spec omits a colour.
const DefaultColour = "grey"

// Spec is one assembly: a name and the ordered part operations.
type Spec struct {
	Name  string          `json:"name" yaml:"name"`
	Parts []PartOperation `json:"parts" yaml:"parts"`
}

// PartOperation places one instance of a part.
type PartOperation struct {
	PartNo   string               `json:"part_no" yaml:"part_no"`
	JobID    string               `json:"jobid" yaml:"jobid"`
	Position placement.Vec3       `json:"position" yaml:"position"`
	Rotate   []placement.Rotation `json:"rotate" yaml:"rotate"`
	Colour   colour.Spec          `json:"colour" yaml:"colour"`
	Rotmax   placement.Vec3       `json:"rotmax" yaml:"rotmax"`
}

// MeshName is the artifact file name of the part's mesh.
func (p PartOperation) MeshName() string {
	return p.PartNo + ".stl"
}

// ColourSpec returns the operation colour, falling back to DefaultColour.
func (p PartOperation) ColourSpec() colour.Spec {
	if p.Colour.IsZero() {
		return colour.Named(DefaultColour)
	}
	return p.Colour
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = jsonschema.CompileString(schemaURL, schemaText)
	})
	return compiled, compileErr
}

// Decode parses and validates a JSON job spec.
func Decode(data []byte) (Spec, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Spec{}, invalid("decode", "spec is not valid JSON", err)
	}
	return decodeDocument(doc, data)
}

func decodeDocument(doc any, data []byte) (Spec, error) {
	s, err := schema()
	if err != nil {
		return Spec{}, fmt.Errorf("compile job spec schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return Spec{}, invalid("validate", summarize(verr), nil)
		}
		return Spec{}, invalid("validate", "schema validation failed", err)
	}

	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return Spec{}, invalid("decode", "spec does not match expected types", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate checks the parts of a spec that the schema cannot: axis names are
// normalized and every colour must resolve.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return invalid("validate", "name is required", nil)
	}
	for i := range s.Parts {
		part := &s.Parts[i]
		for j, r := range part.Rotate {
			axis, err := placement.ParseAxis(string(r.Axis))
			if err != nil {
				return fmt.Errorf("parts[%d].rotate[%d]: %w", i, j, err)
			}
			part.Rotate[j].Axis = axis
		}
		for k, v := range part.Rotmax {
			if v < 0 {
				return invalid("validate", fmt.Sprintf("parts[%d].rotmax[%d] is negative", i, k), nil)
			}
		}
		if _, err := part.ColourSpec().Resolve(); err != nil {
			return fmt.Errorf("parts[%d].colour: %w", i, err)
		}
	}
	return nil
}

// LoadFile reads a job spec from a .yaml, .yml, or .json file.
func LoadFile(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, services.Wrap(services.ErrFileSystem, "jobspec", "read", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Spec{}, invalid("decode", "spec is not valid YAML", err)
		}
		jsonData, err := json.Marshal(doc)
		if err != nil {
			return Spec{}, invalid("decode", "spec cannot be represented as JSON", err)
		}
		return Decode(jsonData)
	default:
		return Decode(data)
	}
}

func summarize(verr *jsonschema.ValidationError) string {
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	location := leaf.InstanceLocation
	if location == "" {
		location = "/"
	}
	return fmt.Sprintf("%s: %s", location, leaf.Message)
}

func invalid(operation, message string, err error) error {
	return services.Wrap(services.ErrValidation, "jobspec", operation, message, err)
}
