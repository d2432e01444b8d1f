// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"math/rand"
	"time"

	"github.com/relabs-tech/tilt_arena/internal/imu"
)

type mockSource struct {
	start  time.Time
	now    func() time.Time
	rng    *rand.Rand
	jitter float64
}

// NewMockSource creates a mock accelerometer lying almost flat and slowly
// rocking, with a little seeded noise on every axis.
func NewMockSource(seed int64) imu.Source {
	return newMockSource(seed, time.Now)
}

func newMockSource(seed int64, now func() time.Time) *mockSource {
	return &mockSource{
		start:  now(),
		now:    now,
		rng:    rand.New(rand.NewSource(seed)),
		jitter: 0.05,
	}
}

func (m *mockSource) Next() (imu.Sample, error) {
	t := m.now()
	elapsed := t.Sub(m.start).Seconds()

	// tilt angles in radians
	roll := 0.35 * math.Sin(elapsed*0.5)
	pitch := 0.25 * math.Cos(elapsed*0.3)

	return imu.Sample{
		Source: "mock",
		Time:   t,
		X:      -standardGravity*math.Sin(pitch) + m.noise(),
		Y:      standardGravity*math.Sin(roll)*math.Cos(pitch) + m.noise(),
		Z:      standardGravity*math.Cos(roll)*math.Cos(pitch) + m.noise(),
	}, nil
}

func (m *mockSource) noise() float64 {
	return m.rng.NormFloat64() * m.jitter
}
