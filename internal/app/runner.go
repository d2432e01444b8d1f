// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/tilt_arena/internal/feedback"
	"github.com/relabs-tech/tilt_arena/internal/imu"
	"github.com/relabs-tech/tilt_arena/internal/motion"
	"github.com/relabs-tech/tilt_arena/internal/settings"
)

// ErrCommandQueueFull is returned by Submit when the sampling loop is behind.
var ErrCommandQueueFull = errors.New("command queue full")

// Topics names the MQTT topics the runner publishes to. An empty topic is
// skipped.
type Topics struct {
	Raw       string
	Ball      string
	Collision string
}

// RunnerOptions wires a Runner. Pipeline, Source and Publisher are required.
type RunnerOptions struct {
	Pipeline    *motion.Pipeline
	Source      imu.Source
	Publisher   Publisher
	Dispatcher  *feedback.Dispatcher
	Store       settings.Store
	Topics      Topics
	Interval    time.Duration
	FailureRun  int
	LogInterval time.Duration
}

// Runner is the producer loop: it samples the source, runs the motion
// pipeline, publishes the results and fires collision feedback. Commands are
// served between ticks so the source only ever has one reader.
type Runner struct {
	pipeline    *motion.Pipeline
	source      imu.Source
	pub         Publisher
	dispatcher  *feedback.Dispatcher
	store       settings.Store
	topics      Topics
	interval    time.Duration
	failureRun  int
	logInterval time.Duration

	commands chan Command

	// Only touched by the sampling goroutine.
	readErrs int
	status   string
	lastLog  time.Time

	mu   sync.RWMutex
	last BallState
	have bool
}

// NewRunner validates opts and fills in defaults.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("runner: nil pipeline")
	}
	if opts.Source == nil {
		return nil, errors.New("runner: nil source")
	}
	if opts.Publisher == nil {
		return nil, errors.New("runner: nil publisher")
	}
	if opts.Interval <= 0 {
		opts.Interval = 20 * time.Millisecond
	}
	if opts.FailureRun <= 0 {
		opts.FailureRun = 10
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = feedback.NewDispatcher(nil, nil, settings.Defaults().Preferences, 1, 40*time.Millisecond)
	}
	return &Runner{
		pipeline:    opts.Pipeline,
		source:      opts.Source,
		pub:         opts.Publisher,
		dispatcher:  opts.Dispatcher,
		store:       opts.Store,
		topics:      opts.Topics,
		interval:    opts.Interval,
		failureRun:  opts.FailureRun,
		logInterval: opts.LogInterval,
		commands:    make(chan Command, 8),
		status:      StatusOK,
	}, nil
}

// Run samples until ctx is done. Cancellation is a normal shutdown and
// returns nil.
func (r *Runner) Run(ctx context.Context) error {
	log.Printf("runner: sampling every %v", r.interval)
	err := imu.Subscribe(ctx, r.source, r.interval,
		func(s imu.Sample) {
			r.handleSample(s)
			r.serveCommands(ctx)
		},
		func(err error) {
			r.handleReadError(err)
			r.serveCommands(ctx)
		},
	)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Println("runner: stopped")
		return nil
	}
	return err
}

// Submit queues a command for the sampling loop.
func (r *Runner) Submit(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	select {
	case r.commands <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// HandleCommandPayload decodes a command received over MQTT and queues it.
func (r *Runner) HandleCommandPayload(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Printf("runner: command unmarshal error: %v", err)
		return
	}
	if err := r.Submit(cmd); err != nil {
		log.Printf("runner: command rejected: %v", err)
	}
}

// Last returns the most recently published ball state.
func (r *Runner) Last() (BallState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.have
}

func (r *Runner) handleSample(s imu.Sample) {
	if r.readErrs >= r.failureRun {
		log.Printf("runner: sensor recovered after %d failed reads", r.readErrs)
	}
	r.readErrs = 0
	r.status = StatusOK

	r.publishJSON(r.topics.Raw, s)

	_, ev := r.pipeline.Ingest(s)
	at := s.Time
	if at.IsZero() {
		at = time.Now()
	}
	st := r.publishState(at)

	if ev != nil {
		r.publishJSON(r.topics.Collision, ev)
		r.dispatcher.OnCollision(*ev)
	}

	if r.logInterval > 0 && at.Sub(r.lastLog) >= r.logInterval {
		r.lastLog = at
		log.Printf("%s tick %d: ball=(%.1f, %.1f) |p|=%.1f hits=%d",
			at.Format(time.RFC3339), st.Tick, st.X, st.Y, st.Distance, st.Collisions)
	}
}

func (r *Runner) handleReadError(err error) {
	r.readErrs++
	switch {
	case r.readErrs == 1:
		log.Printf("runner: sensor read error: %v", err)
	case r.readErrs == r.failureRun:
		log.Printf("runner: WARNING: %d consecutive read errors, sensor unavailable: %v", r.readErrs, err)
		r.status = StatusSensorUnavailable
		r.publishState(time.Now())
	}
}

func (r *Runner) serveCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-r.commands:
			r.execute(ctx, cmd)
		default:
			return
		}
	}
}

func (r *Runner) execute(ctx context.Context, cmd Command) {
	switch cmd.Action {
	case ActionCalibrate:
		offset, err := r.pipeline.Calibrate(ctx, pacedSource{src: r.source, interval: r.interval})
		if err != nil {
			log.Printf("runner: calibration failed, keeping previous offset: %v", err)
			if errors.Is(err, motion.ErrSensorUnavailable) {
				r.status = StatusSensorUnavailable
			}
		} else {
			log.Printf("runner: calibrated, offset=(%.3f, %.3f, %.3f)", offset.X, offset.Y, offset.Z)
			r.status = StatusOK
		}
		r.publishState(time.Now())

	case ActionReset:
		r.pipeline.Reset()
		r.publishState(time.Now())

	case ActionPreferences:
		prefs := *cmd.Preferences
		r.dispatcher.SetPreferences(prefs)
		log.Printf("runner: preferences sound=%t vibration=%t", prefs.Sound, prefs.Vibration)
		if r.store != nil {
			if err := r.store.SavePreferences(ctx, prefs); err != nil {
				log.Printf("runner: WARNING: failed to persist preferences: %v", err)
			}
		}
	}
}

func (r *Runner) publishState(at time.Time) BallState {
	st := newBallState(r.pipeline.State(), r.pipeline.Params().ArenaRadius, at, r.status)
	r.mu.Lock()
	r.last, r.have = st, true
	r.mu.Unlock()
	r.publishJSON(r.topics.Ball, st)
	return st
}

func (r *Runner) publishJSON(topic string, v any) {
	if topic == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("runner: json marshal error (%s): %v", topic, err)
		return
	}
	if err := r.pub.Publish(topic, payload); err != nil {
		log.Printf("runner: MQTT publish error (%s): %v", topic, err)
	}
}

// pacedSource spaces reads by the sampling interval so a calibration window
// covers real time instead of draining a buffered source at once.
type pacedSource struct {
	src      imu.Source
	interval time.Duration
}

func (p pacedSource) Next() (imu.Sample, error) {
	time.Sleep(p.interval)
	return p.src.Next()
}
