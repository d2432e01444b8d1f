package motion

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Tilt is the device attitude implied by a gravity vector, in degrees.
type Tilt struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
}

// TiltFromAccel computes roll and pitch from an accelerometer vector (in any
// unit). Yaw is not observable from gravity alone.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func TiltFromAccel(a r3.Vec) Tilt {
	rollRad := math.Atan2(a.Y, a.Z)
	pitchRad := math.Atan2(-a.X, math.Sqrt(a.Y*a.Y+a.Z*a.Z))

	return Tilt{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
	}
}
