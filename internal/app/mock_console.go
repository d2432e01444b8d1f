// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/tilt_arena/internal/imu"
	"github.com/relabs-tech/tilt_arena/internal/motion"
	"github.com/relabs-tech/tilt_arena/internal/sensors"
)

// RunMockConsole drives the pipeline from the mock source without MQTT,
// sensor hardware or feedback devices and prints every tick to out. It
// calibrates first, then stops after ticks samples (0 runs until ctx is
// done).
func RunMockConsole(ctx context.Context, out io.Writer, params motion.Params, seed int64, interval time.Duration, ticks int) error {
	return runConsole(ctx, out, sensors.NewMockSource(seed), params, interval, ticks)
}

func runConsole(ctx context.Context, out io.Writer, src imu.Source, params motion.Params, interval time.Duration, ticks int) error {
	p, err := motion.New(params, nil)
	if err != nil {
		return err
	}
	if _, err := p.Calibrate(ctx, src); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := 0
	err = imu.Subscribe(ctx, src, interval, func(s imu.Sample) {
		if ticks > 0 && n >= ticks {
			return
		}
		pos, ev := p.Ingest(s)
		fmt.Fprintf(out, "X=%7.2f  Y=%7.2f\n", pos.X, pos.Y)
		if ev != nil {
			fmt.Fprintln(out, formatCollision(*ev))
		}
		n++
		if ticks > 0 && n >= ticks {
			cancel()
		}
	}, nil)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
