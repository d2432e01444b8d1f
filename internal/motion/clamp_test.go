package motion

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestClampInsideIsNoOp(t *testing.T) {
	p := r2.Vec{X: 3, Y: -4}
	got, edge := Clamp(p, 10)
	assert.Equal(t, p, got)
	assert.False(t, edge)
}

func TestClampProjectsPreservingAngle(t *testing.T) {
	p := r2.Vec{X: 30, Y: 40}
	got, edge := Clamp(p, 10)
	assert.True(t, edge)
	assert.InDelta(t, 10, r2.Norm(got), 1e-12)
	assert.InDelta(t, math.Atan2(p.Y, p.X), math.Atan2(got.Y, got.X), 1e-12)
	assert.InDelta(t, 6.0, got.X, 1e-12)
	assert.InDelta(t, 8.0, got.Y, 1e-12)
}

func TestClampIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const radius = 57.3
	for i := 0; i < 10000; i++ {
		p := r2.Vec{X: (rng.Float64() - 0.5) * 400, Y: (rng.Float64() - 0.5) * 400}
		once, edge1 := Clamp(p, radius)
		twice, edge2 := Clamp(once, radius)
		if once != twice || edge1 != edge2 {
			t.Fatalf("clamp not idempotent for %v: %v -> %v", p, once, twice)
		}
		if r2.Norm(once) > radius {
			t.Fatalf("clamped %v has norm %v > %v", p, r2.Norm(once), radius)
		}
	}
}

func TestClampExactlyOnBoundary(t *testing.T) {
	got, edge := Clamp(r2.Vec{X: 0, Y: -10}, 10)
	assert.True(t, edge)
	assert.Equal(t, r2.Vec{X: 0, Y: -10}, got)
}

func TestClampJustOutsideIsPulledIn(t *testing.T) {
	got, edge := Clamp(r2.Vec{X: 100.00000005}, 100)
	assert.True(t, edge)
	assert.LessOrEqual(t, r2.Norm(got), 100.0)
	assert.InDelta(t, 100, got.X, 1e-12)
	assert.Zero(t, got.Y)

	again, edge := Clamp(got, 100)
	assert.True(t, edge)
	assert.Equal(t, got, again)
}
