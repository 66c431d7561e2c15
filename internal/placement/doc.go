// Package placement computes where a part lands in an assembly.
//
// A part is described by its bounding extents (rotmax), an ordered list of
// quarter-turn rotations, and a position. Rotating a part about one axis
// moves its origin corner, so the package tracks an accumulated offset that
// is added to the position before the part is translated. Rotations are
// expressed in the scene engine's sense: each listed rotation is applied as
// three quarter-steps of the swap rule, and Unrotate is its single-step
// complement.
//
// Everything here is pure and allocation-light; callers own all I/O.
package placement
