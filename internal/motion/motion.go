// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion turns raw accelerometer samples into a ball position inside a
// circular arena.
//
// Each sample is corrected by the calibration offset, low-pass filtered with
// exponential smoothing, scaled into a displacement and added to the previous
// position. The result is clamped to the arena radius. Reaching the boundary
// from inside raises a single CollisionEvent; staying pinned against it does not.
package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrSensorUnavailable is returned when calibration cannot read the sensor.
var ErrSensorUnavailable = errors.New("sensor unavailable")

// Params are the tuning constants of a pipeline.
type Params struct {
	ArenaRadius        float64 // R, logical units
	Alpha              float64 // smoothing factor, weight of the newest sample
	Sensitivity        float64 // sensor units -> logical units per tick
	CalibrationSamples int     // samples averaged by Calibrate
}

// DefaultParams returns values that feel right for a phone-sized arena
// sampled at ~50 Hz.
func DefaultParams() Params {
	return Params{
		ArenaRadius:        100,
		Alpha:              0.2,
		Sensitivity:        2,
		CalibrationSamples: 25,
	}
}

// Validate checks ranges. Alpha must be strictly inside (0,1).
func (p Params) Validate() error {
	if !(p.ArenaRadius > 0) || math.IsInf(p.ArenaRadius, 0) {
		return fmt.Errorf("arena radius must be positive and finite, got %v", p.ArenaRadius)
	}
	if !(p.Alpha > 0 && p.Alpha < 1) {
		return fmt.Errorf("alpha must be in (0,1), got %v", p.Alpha)
	}
	if p.Sensitivity == 0 || math.IsNaN(p.Sensitivity) || math.IsInf(p.Sensitivity, 0) {
		return fmt.Errorf("sensitivity must be non-zero and finite, got %v", p.Sensitivity)
	}
	if p.CalibrationSamples < 1 {
		return fmt.Errorf("calibration samples must be >= 1, got %d", p.CalibrationSamples)
	}
	return nil
}

// OffsetStore persists the calibration offset.
type OffsetStore interface {
	SaveOffset(ctx context.Context, offset r3.Vec) error
}

// CollisionEvent is raised on the tick the ball reaches the arena boundary.
type CollisionEvent struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
	Tick uint64    `json:"tick"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
}

// Position returns the impact point.
func (e CollisionEvent) Position() r2.Vec {
	return r2.Vec{X: e.X, Y: e.Y}
}

func finite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// State is a consistent snapshot of the pipeline.
type State struct {
	Offset     r3.Vec `json:"offset"`
	Filtered   r3.Vec `json:"filtered"`
	Position   r2.Vec `json:"position"`
	AtBoundary bool   `json:"at_boundary"`
	Calibrated bool   `json:"calibrated"`
	Ticks      uint64 `json:"ticks"`
	Collisions uint64 `json:"collisions"`
	Rejected   uint64 `json:"rejected"`
}

// Smoothed returns the low-passed raw reading, before the offset is applied.
// At rest it points along gravity, which Filtered no longer does once the
// pipeline is calibrated.
func (s State) Smoothed() r3.Vec {
	return r3.Sub(s.Filtered, s.Offset)
}
