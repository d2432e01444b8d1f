package sensors

import (
	"errors"
	"sync"

	"github.com/relabs-tech/tilt_arena/internal/imu"
)

// ErrExhausted is returned once a scripted source has replayed every step.
var ErrExhausted = errors.New("scripted source exhausted")

// Step is one scripted read: a sample or an error.
type Step struct {
	Sample imu.Sample
	Err    error
}

// ScriptedSource replays a fixed sequence of reads. Used for tests and demos.
type ScriptedSource struct {
	mu     sync.Mutex
	steps  []Step
	pos    int
	loop   bool
	closed bool
}

// NewScriptedSource replays steps once, then returns ErrExhausted. With loop
// set it starts over instead.
func NewScriptedSource(steps []Step, loop bool) *ScriptedSource {
	return &ScriptedSource{steps: steps, loop: loop}
}

// Samples is shorthand for a script without errors.
func Samples(samples ...imu.Sample) []Step {
	steps := make([]Step, len(samples))
	for i, s := range samples {
		steps[i] = Step{Sample: s}
	}
	return steps
}

func (s *ScriptedSource) Next() (imu.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return imu.Sample{}, errors.New("scripted source closed")
	}
	if s.pos >= len(s.steps) {
		if !s.loop || len(s.steps) == 0 {
			return imu.Sample{}, ErrExhausted
		}
		s.pos = 0
	}
	st := s.steps[s.pos]
	s.pos++
	return st.Sample, st.Err
}

// Close marks the source closed.
func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *ScriptedSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reads returns how many reads have been served since the last wrap.
func (s *ScriptedSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}
