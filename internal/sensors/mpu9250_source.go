// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/tilt_arena/internal/imu"
)

// standardGravity converts g to m/s².
const standardGravity = 9.80665

type mpu9250Source struct {
	dev     *mpu9250.MPU9250
	lsbPerG float64
}

// NewMPU9250Source initializes an MPU9250 over SPI and returns a source that
// reads its accelerometer in m/s².
func NewMPU9250Source(spiDev, csPin string, lsbPerG float64) (imu.Source, error) {
	if lsbPerG <= 0 {
		return nil, fmt.Errorf("mpu9250: LSB/g must be positive, got %v", lsbPerG)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: SPI transport (%s): %w", spiDev, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: initialization: %w", err)
	}

	// Chip-level bias calibration. The arena's own calibration still runs on
	// top of this to capture the resting orientation.
	if err := dev.Calibrate(); err != nil {
		log.Printf("mpu9250: WARNING: chip calibration failed: %v", err)
	} else {
		log.Printf("mpu9250: chip calibration complete")
	}

	log.Printf("mpu9250: ready on %s (CS %s), %.0f LSB/g", spiDev, csPin, lsbPerG)
	return &mpu9250Source{dev: dev, lsbPerG: lsbPerG}, nil
}

// Next reads the three accelerometer axes.
func (s *mpu9250Source) Next() (imu.Sample, error) {
	ax, err := s.dev.GetAccelerationX()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("mpu9250 accel X: %w", err)
	}
	ay, err := s.dev.GetAccelerationY()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("mpu9250 accel Y: %w", err)
	}
	az, err := s.dev.GetAccelerationZ()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("mpu9250 accel Z: %w", err)
	}

	return imu.Sample{
		Source: "mpu9250",
		Time:   time.Now(),
		X:      countsToMS2(ax, s.lsbPerG),
		Y:      countsToMS2(ay, s.lsbPerG),
		Z:      countsToMS2(az, s.lsbPerG),
	}, nil
}

// countsToMS2 converts raw accelerometer counts to m/s².
func countsToMS2(counts int16, lsbPerG float64) float64 {
	return float64(counts) / lsbPerG * standardGravity
}
