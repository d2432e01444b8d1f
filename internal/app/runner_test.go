package app

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tilt_arena/internal/config"
	"github.com/relabs-tech/tilt_arena/internal/feedback"
	"github.com/relabs-tech/tilt_arena/internal/imu"
	"github.com/relabs-tech/tilt_arena/internal/motion"
	"github.com/relabs-tech/tilt_arena/internal/sensors"
	"github.com/relabs-tech/tilt_arena/internal/settings"
)

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, append([]byte(nil), payload...)})
	return nil
}

func (f *fakePublisher) on(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, m := range f.msgs {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

func (f *fakePublisher) balls(t *testing.T) []BallState {
	t.Helper()
	var out []BallState
	for _, p := range f.on("ball") {
		var st BallState
		require.NoError(t, json.Unmarshal(p, &st))
		out = append(out, st)
	}
	return out
}

type countingHaptic struct {
	mu    sync.Mutex
	calls int
}

func (h *countingHaptic) Buzz(float64, time.Duration) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	return nil
}

func (h *countingHaptic) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

var testTopics = Topics{Raw: "raw", Ball: "ball", Collision: "collision"}

type runnerFixture struct {
	runner *Runner
	pub    *fakePublisher
	haptic *countingHaptic
	store  *settings.MemoryStore
	pipe   *motion.Pipeline
	src    *sensors.ScriptedSource
}

func newFixture(t *testing.T, steps []sensors.Step, loop bool, params motion.Params) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		pub:    &fakePublisher{},
		haptic: &countingHaptic{},
		store:  settings.NewMemoryStore(),
		src:    sensors.NewScriptedSource(steps, loop),
	}
	var err error
	f.pipe, err = motion.New(params, f.store)
	require.NoError(t, err)

	d := feedback.NewDispatcher(f.haptic, feedback.NopAudio{}, settings.Defaults().Preferences, 1, time.Millisecond)
	f.runner, err = NewRunner(RunnerOptions{
		Pipeline:   f.pipe,
		Source:     f.src,
		Publisher:  f.pub,
		Dispatcher: d,
		Store:      f.store,
		Topics:     testTopics,
		Interval:   time.Millisecond,
		FailureRun: 3,
	})
	require.NoError(t, err)
	return f
}

// start runs the runner in the background; the returned func stops it and
// waits for Run to return.
func (f *runnerFixture) start(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Error("runner did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func smallArena() motion.Params {
	return motion.Params{ArenaRadius: 10, Alpha: 0.5, Sensitivity: 1, CalibrationSamples: 5}
}

func TestNewRunnerRequiresCollaborators(t *testing.T) {
	pipe, err := motion.New(motion.DefaultParams(), nil)
	require.NoError(t, err)
	src := sensors.NewScriptedSource(nil, false)

	_, err = NewRunner(RunnerOptions{Source: src, Publisher: &fakePublisher{}})
	assert.Error(t, err)
	_, err = NewRunner(RunnerOptions{Pipeline: pipe, Publisher: &fakePublisher{}})
	assert.Error(t, err)
	_, err = NewRunner(RunnerOptions{Pipeline: pipe, Source: src})
	assert.Error(t, err)

	r, err := NewRunner(RunnerOptions{Pipeline: pipe, Source: src, Publisher: &fakePublisher{}})
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, r.interval)
	assert.Equal(t, 10, r.failureRun)
	assert.NotNil(t, r.dispatcher)
}

func TestRunnerPublishesStateAndSingleCollision(t *testing.T) {
	f := newFixture(t, sensors.Samples(imu.Sample{X: 40, Z: 9.8}), true, smallArena())
	stop := f.start(t)

	require.Eventually(t, func() bool { return len(f.pub.on("ball")) >= 10 }, 2*time.Second, time.Millisecond)
	stop()

	assert.True(t, f.src.Closed())
	assert.GreaterOrEqual(t, len(f.pub.on("raw")), 10)

	hits := f.pub.on("collision")
	require.Len(t, hits, 1)
	var ev motion.CollisionEvent
	require.NoError(t, json.Unmarshal(hits[0], &ev))
	assert.InDelta(t, 10, ev.X, 1e-9)
	assert.Equal(t, uint64(1), ev.Tick)
	assert.NotEmpty(t, ev.ID)

	assert.Equal(t, 1, f.haptic.count())

	last, ok := f.runner.Last()
	require.True(t, ok)
	assert.True(t, last.AtBoundary)
	assert.InDelta(t, 10, last.Distance, 1e-9)
	assert.Equal(t, 10.0, last.Radius)
	assert.Equal(t, uint64(1), last.Collisions)
	assert.Equal(t, StatusOK, last.Status)
}

func TestRunnerCalibratesOnCommand(t *testing.T) {
	f := newFixture(t, sensors.Samples(imu.Sample{X: 1, Y: 2, Z: 9.8}), true, smallArena())
	require.NoError(t, f.runner.Submit(Command{Action: ActionCalibrate}))
	f.start(t)

	require.Eventually(t, func() bool { return f.pipe.State().Calibrated }, 2*time.Second, time.Millisecond)

	off := f.pipe.Offset()
	assert.InDelta(t, -1, off.X, 1e-9)
	assert.InDelta(t, -2, off.Y, 1e-9)
	assert.InDelta(t, -9.8, off.Z, 1e-9)

	require.Eventually(t, func() bool {
		s, err := f.store.Load(context.Background())
		return err == nil && s.Offset == off
	}, time.Second, time.Millisecond)
}

func TestRunnerReportsSensorUnavailable(t *testing.T) {
	steps := []sensors.Step{{Err: errors.New("spi timeout")}}
	f := newFixture(t, steps, true, smallArena())
	f.start(t)

	require.Eventually(t, func() bool { return len(f.pub.on("ball")) == 1 }, 2*time.Second, time.Millisecond)
	st, _ := f.runner.Last()
	assert.Equal(t, StatusSensorUnavailable, st.Status)
	published := 1

	require.NoError(t, f.runner.Submit(Command{Action: ActionCalibrate}))
	require.Eventually(t, func() bool { return len(f.pub.on("ball")) > published }, 2*time.Second, time.Millisecond)

	st, _ = f.runner.Last()
	assert.Equal(t, StatusSensorUnavailable, st.Status)
	assert.False(t, st.Calibrated)
	assert.Zero(t, f.pipe.Offset())
}

func TestRunnerRecoversAfterFailures(t *testing.T) {
	fail := sensors.Step{Err: errors.New("bus busy")}
	ok := sensors.Step{Sample: imu.Sample{X: 0.1, Z: 9.8}}
	f := newFixture(t, []sensors.Step{fail, fail, fail, ok, ok}, false, smallArena())
	f.start(t)

	require.Eventually(t, func() bool { return len(f.pub.on("ball")) >= 3 }, 2*time.Second, time.Millisecond)

	var statuses []string
	for _, st := range f.pub.balls(t) {
		statuses = append(statuses, st.Status)
	}
	require.GreaterOrEqual(t, len(statuses), 3)
	assert.Equal(t, []string{StatusSensorUnavailable, StatusOK, StatusOK}, statuses[:3])
}

func TestRunnerPreferencesCommand(t *testing.T) {
	f := newFixture(t, sensors.Samples(imu.Sample{Z: 9.8}), true, smallArena())
	prefs := settings.Preferences{Sound: false, Vibration: true}
	require.NoError(t, f.runner.Submit(Command{Action: ActionPreferences, Preferences: &prefs}))
	f.start(t)

	require.Eventually(t, func() bool {
		s, err := f.store.Load(context.Background())
		return err == nil && s.Preferences == prefs
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, prefs, f.runner.dispatcher.Preferences())
}

func TestRunnerPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, sensors.Samples(imu.Sample{X: 40, Z: 9.8}), true, smallArena())
	f.pub.err = errors.New("broker gone")
	stop := f.start(t)

	require.Eventually(t, func() bool { return f.pipe.State().Ticks >= 5 }, 2*time.Second, time.Millisecond)
	stop()
	assert.Equal(t, 1, f.haptic.count())
}

func TestSubmitValidatesAndBounds(t *testing.T) {
	f := newFixture(t, nil, false, smallArena())

	assert.Error(t, f.runner.Submit(Command{Action: "dance"}))
	assert.Error(t, f.runner.Submit(Command{Action: ActionPreferences}))

	for i := 0; i < cap(f.runner.commands); i++ {
		require.NoError(t, f.runner.Submit(Command{Action: ActionReset}))
	}
	assert.ErrorIs(t, f.runner.Submit(Command{Action: ActionReset}), ErrCommandQueueFull)
}

func TestHandleCommandPayload(t *testing.T) {
	f := newFixture(t, nil, false, smallArena())

	f.runner.HandleCommandPayload([]byte("not json"))
	f.runner.HandleCommandPayload([]byte(`{"action":"dance"}`))
	assert.Empty(t, f.runner.commands)

	f.runner.HandleCommandPayload([]byte(`{"action":"preferences","preferences":{"sound":true,"vibration":false}}`))
	require.Len(t, f.runner.commands, 1)
	cmd := <-f.runner.commands
	assert.Equal(t, &settings.Preferences{Sound: true}, cmd.Preferences)
}

func TestPipelineParamsFromDefaultConfig(t *testing.T) {
	assert.Equal(t, motion.DefaultParams(), PipelineParams(config.Default()))
}

func TestRunCalibratePersistsOffset(t *testing.T) {
	cfg := config.Default()
	cfg.SettingsDB = filepath.Join(t.TempDir(), "settings.db")
	cfg.SampleInterval = 1
	cfg.CalibrationSamples = 5

	offset, err := RunCalibrate(context.Background(), cfg)
	require.NoError(t, err)
	assert.InDelta(t, -9.5, offset.Z, 0.3)

	store, err := settings.OpenSQLite(cfg.SettingsDB)
	require.NoError(t, err)
	defer store.Close()
	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, offset, saved.Offset)
}

func TestUnavailableSourceWrapsSentinel(t *testing.T) {
	cfg := config.Default()
	cfg.SensorSource = "carrier-pigeon"

	_, err := openSource(cfg).Next()
	assert.ErrorIs(t, err, motion.ErrSensorUnavailable)
}
