package motion

import "gonum.org/v1/gonum/spatial/r2"

// boundaryTolerance is relative to the radius. Points this close inside the
// circle count as on the boundary and are returned unchanged, which keeps
// Clamp idempotent under floating point rounding.
const boundaryTolerance = 1e-9

// shrink nudges a projected point back inside when rounding left its norm a
// few ulps above the radius.
const shrink = 1 - 0x1p-50

// Clamp projects p onto the disk of the given radius, preserving its angle.
// The result never has a norm above radius. The bool reports whether the
// result lies on the boundary.
func Clamp(p r2.Vec, radius float64) (r2.Vec, bool) {
	d := r2.Norm(p)
	switch {
	case d < radius*(1-boundaryTolerance):
		return p, false
	case d <= radius:
		return p, true
	default:
		q := r2.Scale(radius/d, p)
		for r2.Norm(q) > radius {
			q = r2.Scale(shrink, q)
		}
		return q, true
	}
}
