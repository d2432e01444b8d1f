package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tilt_arena/internal/imu"
	"github.com/relabs-tech/tilt_arena/internal/motion"
)

func TestBallStateTiltAfterCalibration(t *testing.T) {
	pl, err := motion.New(motion.DefaultParams(), nil)
	require.NoError(t, err)
	_, err = pl.CalibrateFrom(context.Background(), []imu.Sample{{Z: 9.8}})
	require.NoError(t, err)

	pl.Ingest(imu.Sample{X: 0.001, Y: 0.002, Z: 9.799})
	st := newBallState(pl.State(), 100, time.Now(), StatusOK)
	assert.InDelta(t, 0, st.Roll, 0.1)
	assert.InDelta(t, 0, st.Pitch, 0.1)
	assert.True(t, st.Calibrated)

	// rolled onto its side: the smoothed reading swings towards +Y
	for i := 0; i < 200; i++ {
		pl.Ingest(imu.Sample{Y: 9.8})
	}
	st = newBallState(pl.State(), 100, time.Now(), StatusOK)
	assert.InDelta(t, 90, st.Roll, 1)
	assert.InDelta(t, 0, st.Pitch, 1)
}
