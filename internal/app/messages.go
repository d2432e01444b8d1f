package app

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/relabs-tech/tilt_arena/internal/motion"
	"github.com/relabs-tech/tilt_arena/internal/settings"
)

// Status values carried in BallState.
const (
	StatusOK                = "ok"
	StatusSensorUnavailable = "sensor_unavailable"
)

// BallState is the JSON published on the ball topic after every tick.
type BallState struct {
	Time       time.Time `json:"time"`
	Tick       uint64    `json:"tick"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Distance   float64   `json:"distance"`
	Radius     float64   `json:"radius"`
	AtBoundary bool      `json:"at_boundary"`
	Roll       float64   `json:"roll"`
	Pitch      float64   `json:"pitch"`
	Calibrated bool      `json:"calibrated"`
	Collisions uint64    `json:"collisions"`
	Status     string    `json:"status"`
}

// newBallState builds the published view of a pipeline snapshot.
func newBallState(st motion.State, radius float64, at time.Time, status string) BallState {
	tilt := motion.TiltFromAccel(st.Smoothed())
	return BallState{
		Time:       at,
		Tick:       st.Ticks,
		X:          st.Position.X,
		Y:          st.Position.Y,
		Distance:   r2.Norm(st.Position),
		Radius:     radius,
		AtBoundary: st.AtBoundary,
		Roll:       tilt.Roll,
		Pitch:      tilt.Pitch,
		Calibrated: st.Calibrated,
		Collisions: st.Collisions,
		Status:     status,
	}
}

// Command actions accepted on the command topic.
const (
	ActionCalibrate   = "calibrate"
	ActionPreferences = "preferences"
	ActionReset       = "reset"
)

// Command is a request sent to the producer.
type Command struct {
	Action      string                `json:"action"`
	Preferences *settings.Preferences `json:"preferences,omitempty"`
}

// Validate checks the action and its arguments.
func (c Command) Validate() error {
	switch c.Action {
	case ActionCalibrate, ActionReset:
		return nil
	case ActionPreferences:
		if c.Preferences == nil {
			return errors.New("preferences command without preferences")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", c.Action)
	}
}
