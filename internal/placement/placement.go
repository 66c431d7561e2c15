package placement

import (
	"fmt"
	"strings"

	"cycaxworker/internal/services"
)

// Vec3 is an (x, y, z) triple.
type Vec3 [3]float64

// Add returns the component-wise sum.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v[0], v[1], v[2])
}

// Axis names a rotation axis.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
	AxisZ Axis = "z"
)

// ParseAxis accepts x, y or z in any case.
func ParseAxis(value string) (Axis, error) {
	axis := Axis(strings.ToLower(strings.TrimSpace(value)))
	if !axis.Valid() {
		return "", services.Wrap(services.ErrInvalidAxis, "placement", "parse axis", fmt.Sprintf("axis %q", value), nil)
	}
	return axis, nil
}

// Valid reports whether a is one of the three known axes.
func (a Axis) Valid() bool {
	switch a {
	case AxisX, AxisY, AxisZ:
		return true
	}
	return false
}

// Rotation is a single quarter turn about Axis.
type Rotation struct {
	Axis Axis `json:"axis" yaml:"axis"`
}

// engineSteps is how many swap-rule quarter-steps one listed rotation takes.
const engineSteps = 3

// Frame is the bookkeeping state for one part: the origin-corner offset and
// the current bounding extents.
type Frame struct {
	Offset  Vec3
	Extents Vec3
}

// NewFrame starts a frame at the origin with the given extents.
func NewFrame(rotmax Vec3) Frame {
	return Frame{Extents: rotmax}
}

// QuarterTurn applies one step of the swap rule about axis. Reflection terms
// use the extents from before this step's swap.
func (f Frame) QuarterTurn(axis Axis) (Frame, error) {
	o, e := f.Offset, f.Extents
	switch axis {
	case AxisX:
		o[1], o[2] = o[2], e[1]-o[1]
		e[1], e[2] = e[2], e[1]
	case AxisY:
		o[0], o[2] = e[2]-o[2], o[0]
		e[0], e[2] = e[2], e[0]
	case AxisZ:
		o[0], o[1] = o[1], e[0]-o[0]
		e[0], e[1] = e[1], e[0]
	default:
		return f, invalidAxis(axis)
	}
	return Frame{Offset: o, Extents: e}, nil
}

// Rotate applies one listed rotation: three quarter-steps about axis.
func (f Frame) Rotate(axis Axis) (Frame, error) {
	return f.steps(axis, engineSteps)
}

// Unrotate undoes Rotate(axis) with the single complementary quarter-step.
func (f Frame) Unrotate(axis Axis) (Frame, error) {
	return f.steps(axis, 4-engineSteps)
}

func (f Frame) steps(axis Axis, n int) (Frame, error) {
	var err error
	for i := 0; i < n; i++ {
		if f, err = f.QuarterTurn(axis); err != nil {
			return f, err
		}
	}
	return f, nil
}

// Placement is the transform handed to the scene engine for one part.
type Placement struct {
	// Translation is Offset + position; applied once after all rotations.
	Translation Vec3
	Offset      Vec3
	Extents     Vec3
	// Rotations are the listed rotations, in order, one engine call each.
	Rotations []Rotation
}

// Compute folds rotations over a frame starting at rotmax and returns the
// final translation and extents. rotmax is never modified.
func Compute(rotmax, position Vec3, rotations []Rotation) (Placement, error) {
	for i, v := range rotmax {
		if v < 0 {
			return Placement{}, services.Wrap(services.ErrValidation, "placement", "compute",
				fmt.Sprintf("rotmax component %d is negative (%g)", i, v), nil)
		}
	}

	frame := NewFrame(rotmax)
	for _, r := range rotations {
		var err error
		if frame, err = frame.Rotate(r.Axis); err != nil {
			return Placement{}, err
		}
	}

	return Placement{
		Translation: frame.Offset.Add(position),
		Offset:      frame.Offset,
		Extents:     frame.Extents,
		Rotations:   append([]Rotation(nil), rotations...),
	}, nil
}

// Undo reverses rotations on frame: the complementary step for each axis, in
// reverse order. Undo(Compute-frame, r) returns the starting frame.
func Undo(frame Frame, rotations []Rotation) (Frame, error) {
	for i := len(rotations) - 1; i >= 0; i-- {
		var err error
		if frame, err = frame.Unrotate(rotations[i].Axis); err != nil {
			return frame, err
		}
	}
	return frame, nil
}

// Reverse returns rotations in reverse order.
func Reverse(rotations []Rotation) []Rotation {
	out := make([]Rotation, len(rotations))
	for i, r := range rotations {
		out[len(rotations)-1-i] = r
	}
	return out
}

func invalidAxis(axis Axis) error {
	return services.Wrap(services.ErrInvalidAxis, "placement", "rotate", fmt.Sprintf("axis %q", string(axis)), nil)
}
