package app

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/tilt_arena/internal/motion"
)

func TestFormatBall(t *testing.T) {
	line := formatBall(BallState{Tick: 3, X: 1.5, Y: -2.25, Distance: 2.7, Radius: 100, Collisions: 2, Status: StatusOK})
	assert.Contains(t, line, "[BALL]")
	assert.Contains(t, line, "X=   1.50")
	assert.Contains(t, line, "Y=  -2.25")
	assert.Contains(t, line, "hits=2")
	assert.NotContains(t, line, "EDGE")

	line = formatBall(BallState{AtBoundary: true, Status: StatusSensorUnavailable})
	assert.Contains(t, line, "[sensor_unavailable]")
	assert.Contains(t, line, "EDGE")
}

func TestConsolePrinterThrottlesBallLines(t *testing.T) {
	var out bytes.Buffer
	p := &consolePrinter{out: &out, interval: time.Second}
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		p.onBall(mustJSON(t, BallState{Time: t0.Add(time.Duration(i) * 100 * time.Millisecond), Status: StatusOK}))
	}
	p.onBall(mustJSON(t, BallState{Time: t0.Add(950 * time.Millisecond), Status: StatusSensorUnavailable}))
	p.onBall(mustJSON(t, BallState{Time: t0.Add(2 * time.Second), Status: StatusSensorUnavailable}))
	p.onBall([]byte("garbage"))
	p.onCollision(mustJSON(t, motion.CollisionEvent{ID: "ev-9", Time: t0, X: 10}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "[BALL]")
	assert.Contains(t, lines[1], "[sensor_unavailable]")
	assert.Contains(t, lines[2], "[sensor_unavailable]")
	assert.Contains(t, lines[3], "[HIT ]")
	assert.Contains(t, lines[3], "id=ev-9")
}

func litPixels(img *image1bit.VerticalLSB) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.BitAt(x, y) {
				n++
			}
		}
	}
	return n
}

func TestRenderStatus(t *testing.T) {
	waiting := renderStatus(BallState{}, false)
	assert.Positive(t, litPixels(waiting))

	live := renderStatus(BallState{X: 12.5, Y: -3, Distance: 12.9, Radius: 100, Collisions: 4, Calibrated: true, Status: StatusOK}, true)
	assert.Positive(t, litPixels(live))
	assert.NotEqual(t, waiting.Pix, live.Pix)

	assert.Positive(t, litPixels(renderSplash()))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "NO SENSOR", statusLabel(BallState{Status: StatusSensorUnavailable, Calibrated: true}))
	assert.Equal(t, "UNCALIBRATED", statusLabel(BallState{Status: StatusOK}))
	assert.Equal(t, "EDGE", statusLabel(BallState{Status: StatusOK, Calibrated: true, AtBoundary: true}))
	assert.Equal(t, "OK", statusLabel(BallState{Status: StatusOK, Calibrated: true}))
}

func TestRunMockConsolePrintsTicks(t *testing.T) {
	var out bytes.Buffer
	err := RunMockConsole(context.Background(), &out, motion.DefaultParams(), 1, time.Millisecond, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(out.String(), "X="))
}
