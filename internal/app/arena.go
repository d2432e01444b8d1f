package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/tilt_arena/internal/config"
	"github.com/relabs-tech/tilt_arena/internal/feedback"
	"github.com/relabs-tech/tilt_arena/internal/imu"
	"github.com/relabs-tech/tilt_arena/internal/motion"
	"github.com/relabs-tech/tilt_arena/internal/sensors"
	"github.com/relabs-tech/tilt_arena/internal/settings"
)

// PipelineParams maps the configuration onto the motion tuning constants.
func PipelineParams(cfg *config.Config) motion.Params {
	return motion.Params{
		ArenaRadius:        cfg.ArenaRadius,
		Alpha:              cfg.SmoothingAlpha,
		Sensitivity:        cfg.Sensitivity,
		CalibrationSamples: cfg.CalibrationSamples,
	}
}

// openStore opens the sqlite settings store. When that fails the process
// keeps running on an in-memory store and nothing is persisted.
func openStore(cfg *config.Config) settings.Store {
	if cfg.SettingsDB == "" {
		log.Println("settings: no SETTINGS_DB configured, settings are not persisted")
		return settings.NewMemoryStore()
	}
	store, err := settings.OpenSQLite(cfg.SettingsDB)
	if err != nil {
		log.Printf("settings: WARNING: %v; settings are not persisted", err)
		return settings.NewMemoryStore()
	}
	return store
}

// unavailableSource stands in for a sensor that could not be opened so the
// producer still runs and reports the sensor as unavailable.
type unavailableSource struct{ err error }

func (u unavailableSource) Next() (imu.Sample, error) {
	return imu.Sample{}, fmt.Errorf("%v: %w", u.err, motion.ErrSensorUnavailable)
}

func openSource(cfg *config.Config) imu.Source {
	src, err := sensors.Open(cfg)
	if err != nil {
		log.Printf("sensors: WARNING: %s source unavailable: %v", cfg.SensorSource, err)
		return unavailableSource{err: err}
	}
	log.Printf("sensors: using %s source", cfg.SensorSource)
	return src
}

func newHaptic(cfg *config.Config, pub Publisher) feedback.Haptic {
	if cfg.HapticGPIOPin != "" {
		h, err := feedback.NewGPIOHaptic(cfg.HapticGPIOPin)
		if err == nil {
			log.Printf("feedback: vibration motor on GPIO %s", cfg.HapticGPIOPin)
			return h
		}
		log.Printf("feedback: WARNING: GPIO haptic unavailable, publishing buzz commands instead: %v", err)
	}
	return feedback.NewMQTTHaptic(pub, cfg.TopicHaptic)
}

func newAudio(cfg *config.Config) (feedback.Audio, func()) {
	if !cfg.AudioEnabled {
		return feedback.NopAudio{}, func() {}
	}
	p := feedback.NewSoundPlayer(cfg.AudioSampleRate)
	if err := p.Initialize(); err != nil {
		log.Printf("feedback: WARNING: audio unavailable: %v", err)
		return feedback.NopAudio{}, func() {}
	}
	return p, p.Cleanup
}

// RunArena runs the producer until ctx is done.
func RunArena(ctx context.Context, cfg *config.Config) error {
	log.Println("starting tilt arena producer")

	store := openStore(cfg)
	defer store.Close()
	saved := settings.LoadOrDefault(ctx, store)

	pipeline, err := motion.New(PipelineParams(cfg), store)
	if err != nil {
		return err
	}
	if err := pipeline.SetOffset(saved.Offset); err != nil {
		log.Printf("motion: WARNING: ignoring stored calibration: %v", err)
	}
	if pipeline.State().Calibrated {
		log.Printf("motion: restored offset (%.3f, %.3f, %.3f)", saved.Offset.X, saved.Offset.Y, saved.Offset.Z)
	} else {
		log.Println("motion: no stored calibration, send a calibrate command while the device rests")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDArena)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	pub := newMQTTPublisher(client, cfg.TopicBall)

	haptic := newHaptic(cfg, pub)
	if c, ok := haptic.(*feedback.GPIOHaptic); ok {
		defer c.Close()
	}
	audio, closeAudio := newAudio(cfg)
	defer closeAudio()

	dispatcher := feedback.NewDispatcher(haptic, audio, saved.Preferences,
		cfg.HapticIntensity, time.Duration(cfg.HapticDurationMS)*time.Millisecond)

	runner, err := NewRunner(RunnerOptions{
		Pipeline:   pipeline,
		Source:     openSource(cfg),
		Publisher:  pub,
		Dispatcher: dispatcher,
		Store:      store,
		Topics: Topics{
			Raw:       cfg.TopicRaw,
			Ball:      cfg.TopicBall,
			Collision: cfg.TopicCollision,
		},
		Interval:    time.Duration(cfg.SampleInterval) * time.Millisecond,
		FailureRun:  cfg.SensorFailureRun,
		LogInterval: time.Duration(cfg.ConsoleLogInterval) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	if err := subscribe(client, cfg.TopicCommand, runner.HandleCommandPayload); err != nil {
		return err
	}

	err = runner.Run(ctx)
	st := dispatcher.Stats()
	log.Printf("feedback: %d collisions, %d buzzes, %d sounds, %d failures", st.Events, st.Buzzes, st.Sounds, st.Failures)
	return err
}

// RunCalibrate captures one calibration window from the configured source and
// stores the resulting offset. The producer must not be running, since it
// owns the sensor.
func RunCalibrate(ctx context.Context, cfg *config.Config) (r3.Vec, error) {
	store := openStore(cfg)
	defer store.Close()

	pipeline, err := motion.New(PipelineParams(cfg), store)
	if err != nil {
		return r3.Vec{}, err
	}
	if err := pipeline.SetOffset(settings.LoadOrDefault(ctx, store).Offset); err != nil {
		log.Printf("motion: WARNING: ignoring stored calibration: %v", err)
	}

	src := openSource(cfg)
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	log.Printf("calibrate: keep the device level and still, reading %d samples", cfg.CalibrationSamples)
	interval := time.Duration(cfg.SampleInterval) * time.Millisecond
	return pipeline.Calibrate(ctx, pacedSource{src: src, interval: interval})
}
