// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/tilt_arena/internal/imu"
)

// Pipeline owns the calibration offset, the filtered vector and the ball
// position. It is safe for concurrent use: Ingest and Calibrate may overlap, in
// which case the overlapping Ingest uses the pre-calibration offset.
type Pipeline struct {
	params Params
	store  OffsetStore

	mu         sync.RWMutex
	offset     r3.Vec
	filtered   r3.Vec
	position   r2.Vec
	atBoundary bool
	calibrated bool
	ticks      uint64
	collisions uint64
	rejected   uint64
}

// New creates a pipeline with the ball at the origin and a zero offset.
// store may be nil, in which case calibration is not persisted.
func New(params Params, store OffsetStore) (*Pipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("motion params: %w", err)
	}
	return &Pipeline{params: params, store: store}, nil
}

// Params returns the tuning constants the pipeline was built with.
func (p *Pipeline) Params() Params {
	return p.params
}

// SetOffset installs a previously persisted calibration offset. A non-finite
// offset is rejected and the current one kept.
func (p *Pipeline) SetOffset(offset r3.Vec) error {
	if !finite(offset) {
		return fmt.Errorf("offset (%v, %v, %v) is not finite", offset.X, offset.Y, offset.Z)
	}
	p.mu.Lock()
	p.offset = offset
	p.calibrated = offset != (r3.Vec{})
	p.mu.Unlock()
	return nil
}

// Offset returns the current calibration offset.
func (p *Pipeline) Offset() r3.Vec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.offset
}

// Calibrate reads a window of CalibrationSamples samples from src and sets the
// offset to the negated mean, so the resting orientation maps to zero
// displacement. Read failures inside the window are tolerated as long as at
// least one sample arrives; otherwise ErrSensorUnavailable is returned and the
// previous offset is kept.
func (p *Pipeline) Calibrate(ctx context.Context, src imu.Source) (r3.Vec, error) {
	if src == nil {
		return p.Offset(), fmt.Errorf("calibrate: no source: %w", ErrSensorUnavailable)
	}

	want := p.params.CalibrationSamples
	window := make([]imu.Sample, 0, want)
	var lastErr error
	for attempt := 0; attempt < 3*want && len(window) < want; attempt++ {
		if err := ctx.Err(); err != nil {
			return p.Offset(), fmt.Errorf("calibrate: %v: %w", err, ErrSensorUnavailable)
		}
		s, err := src.Next()
		if err != nil {
			lastErr = err
			continue
		}
		if !s.Finite() {
			continue
		}
		window = append(window, s)
	}
	if len(window) == 0 {
		return p.Offset(), fmt.Errorf("calibrate: no samples (last error: %v): %w", lastErr, ErrSensorUnavailable)
	}
	if len(window) < want {
		log.Printf("motion: calibration window short, %d of %d samples", len(window), want)
	}
	return p.CalibrateFrom(ctx, window)
}

// CalibrateFrom computes the offset from an already captured window. A single
// sample is enough.
func (p *Pipeline) CalibrateFrom(ctx context.Context, window []imu.Sample) (r3.Vec, error) {
	xs := make([]float64, 0, len(window))
	ys := make([]float64, 0, len(window))
	zs := make([]float64, 0, len(window))
	for _, s := range window {
		if !s.Finite() {
			continue
		}
		xs = append(xs, s.X)
		ys = append(ys, s.Y)
		zs = append(zs, s.Z)
	}
	if len(xs) == 0 {
		return p.Offset(), fmt.Errorf("calibrate: empty window: %w", ErrSensorUnavailable)
	}

	offset := r3.Vec{
		X: -stat.Mean(xs, nil),
		Y: -stat.Mean(ys, nil),
		Z: -stat.Mean(zs, nil),
	}

	p.mu.Lock()
	p.offset = offset
	p.filtered = r3.Vec{}
	p.calibrated = true
	p.mu.Unlock()

	log.Printf("motion: calibrated from %d samples, offset=(%.3f, %.3f, %.3f)", len(xs), offset.X, offset.Y, offset.Z)

	if p.store != nil {
		if err := p.store.SaveOffset(ctx, offset); err != nil {
			log.Printf("motion: WARNING: failed to persist calibration offset: %v", err)
		}
	}
	return offset, nil
}

// Ingest runs one tick of the pipeline and returns the new ball position and,
// when the ball just reached the boundary, a collision event. Non-finite
// samples are dropped and the previous position is returned.
func (p *Pipeline) Ingest(s imu.Sample) (r2.Vec, *CollisionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !s.Finite() {
		p.rejected++
		return p.position, nil
	}

	a := p.params.Alpha
	corrected := r3.Add(s.Vec(), p.offset)
	p.filtered = r3.Add(r3.Scale(a, corrected), r3.Scale(1-a, p.filtered))

	delta := r2.Vec{
		X: p.params.Sensitivity * p.filtered.X,
		Y: p.params.Sensitivity * p.filtered.Y,
	}
	next, onBoundary := Clamp(r2.Add(p.position, delta), p.params.ArenaRadius)

	p.ticks++
	var ev *CollisionEvent
	if onBoundary && !p.atBoundary {
		p.collisions++
		at := s.Time
		if at.IsZero() {
			at = time.Now()
		}
		ev = &CollisionEvent{
			ID:   uuid.NewString(),
			Time: at,
			Tick: p.ticks,
			X:    next.X,
			Y:    next.Y,
		}
	}
	p.position = next
	p.atBoundary = onBoundary
	return next, ev
}

// Reset moves the ball back to the origin and clears the filter. The
// calibration offset is kept.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.filtered = r3.Vec{}
	p.position = r2.Vec{}
	p.atBoundary = false
	p.mu.Unlock()
}

// State returns a snapshot of the pipeline.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return State{
		Offset:     p.offset,
		Filtered:   p.filtered,
		Position:   p.position,
		AtBoundary: p.atBoundary,
		Calibrated: p.calibrated,
		Ticks:      p.ticks,
		Collisions: p.collisions,
		Rejected:   p.rejected,
	}
}
