package reco

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Line is a straight line in 3D using the Roberts optimal representation.
//
// Theta and Phi use the physics spherical conventions: Theta in [0, pi/2] is
// the angle to the z axis, Phi in [-pi, pi] the angle of the x-y projection
// to the x axis. They define the direction unit vector b. Xp and Yp locate
// the line: rotate the coordinate frame so b becomes the new z axis; Xp and
// Yp are where the line pierces the x'-y' plane.
//
// Cov, when non-nil, is the 4x4 least-squares covariance over
// (theta, phi, anchor-x, anchor-y), row-major.
type Line struct {
	Theta float64
	Phi   float64
	Xp    float64
	Yp    float64
	Cov   []float64
}

// Direction returns the line's unit direction vector.
func (l Line) Direction() r3.Vec {
	sinTheta := math.Sin(l.Theta)
	return r3.Vec{
		X: math.Cos(l.Phi) * sinTheta,
		Y: math.Sin(l.Phi) * sinTheta,
		Z: math.Cos(l.Theta),
	}
}

// PointOnLine returns the intersection of the line with the rotated x'-y'
// plane, expressed in the unrotated frame.
func (l Line) PointOnLine() r3.Vec {
	b := l.Direction()
	a := -(b.X * b.Y) / (1 + b.Z)
	bb := 1 - (b.X*b.X)/(1+b.Z)
	cc := 1 - (b.Y*b.Y)/(1+b.Z)
	px := r3.Vec{X: bb, Y: a, Z: -b.X}
	py := r3.Vec{X: a, Y: cc, Z: -b.Y}
	return r3.Add(r3.Scale(l.Xp, px), r3.Scale(l.Yp, py))
}

// DistanceTo returns the perpendicular distance from the line to the point.
func (l Line) DistanceTo(p r3.Vec) float64 {
	b := l.Direction()
	v := r3.Sub(l.PointOnLine(), p)
	perp := r3.Sub(v, r3.Scale(r3.Dot(b, v), b))
	return r3.Norm(perp)
}

// AnchorAtZ0 returns the point on the line with z = 0, the anchor used by
// the a_z = 0 parametrization of the least-squares fit. Undefined for lines
// lying in the x-y plane; callers reject those before fitting.
func (l Line) AnchorAtZ0() r3.Vec {
	b := l.Direction()
	p0 := l.PointOnLine()
	return r3.Sub(p0, r3.Scale(p0.Z/b.Z, b))
}

// Translate returns the line shifted by t: a point on the line is moved by t
// and the position parameters recomputed for the unchanged direction.
func (l Line) Translate(t r3.Vec) Line {
	p := r3.Add(l.PointOnLine(), t)
	return LineFromDirPoint(l.Theta, l.Phi, p)
}

// LineFromDirPoint builds a Line from a direction and any point on the line.
func LineFromDirPoint(theta, phi float64, p r3.Vec) Line {
	xp, yp := computeXpYp(theta, phi, p)
	return Line{Theta: theta, Phi: phi, Xp: xp, Yp: yp}
}

// computeXpYp projects a point into the (x', y') frame of the direction
// (theta, phi): the coordinates where a line through p with that direction
// crosses the plane orthogonal to it.
func computeXpYp(theta, phi float64, p r3.Vec) (xp, yp float64) {
	sinTheta := math.Sin(theta)
	bx := math.Cos(phi) * sinTheta
	by := math.Sin(phi) * sinTheta
	bz := math.Cos(theta)

	a := (bx * by) / (1 + bz)
	bb := 1 - (bx*bx)/(1+bz)
	cc := 1 - (by*by)/(1+bz)

	xp = bb*p.X - a*p.Y - bx*p.Z
	yp = -a*p.X + cc*p.Y - by*p.Z
	return xp, yp
}

// sphericalFromUnit converts a unit vector to (theta, phi). When constrain
// is set, vectors below the x-y plane are flipped first so theta lands in
// [0, pi/2].
func sphericalFromUnit(v r3.Vec, constrain bool) (theta, phi float64) {
	if constrain && v.Z < 0 {
		v = r3.Scale(-1, v)
	}
	return math.Acos(v.Z), math.Atan2(v.Y, v.X)
}
