package imu

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Sample represents a single raw accelerometer reading.
type Sample struct {
	Source string    `json:"source"` // "mock", "mpu9250", "serial"
	Time   time.Time `json:"time"`

	X float64 `json:"x"` // m/s²
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec returns the sample as a 3D vector.
func (s Sample) Vec() r3.Vec {
	return r3.Vec{X: s.X, Y: s.Y, Z: s.Z}
}

// Finite reports whether all three axes hold finite values.
func (s Sample) Finite() bool {
	for _, v := range [3]float64{s.X, s.Y, s.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Source is anything that can provide raw samples over time.
type Source interface {
	Next() (Sample, error)
}
