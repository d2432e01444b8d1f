// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package feedback

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Haptic triggers a single buzz.
type Haptic interface {
	Buzz(intensity float64, d time.Duration) error
}

// Publisher sends a payload to a topic. The MQTT client in package app
// satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// GPIOHaptic drives a vibration motor from a GPIO pin. The motor is on/off, so
// any positive intensity turns it on for the requested duration.
type GPIOHaptic struct {
	pin gpio.PinOut

	mu    sync.Mutex
	timer *time.Timer
}

// NewGPIOHaptic initializes periph and claims the named pin, driving it low.
func NewGPIOHaptic(pinName string) (*GPIOHaptic, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("haptic: periph host init: %w", err)
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("haptic: GPIO pin %q not found", pinName)
	}
	h, err := newGPIOHaptic(p)
	if err != nil {
		return nil, err
	}
	log.Printf("haptic: vibration motor on %s", pinName)
	return h, nil
}

func newGPIOHaptic(p gpio.PinOut) (*GPIOHaptic, error) {
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("haptic: set %s low: %w", p, err)
	}
	return &GPIOHaptic{pin: p}, nil
}

// Buzz raises the pin and schedules it low after d. A buzz arriving while
// another is running extends it.
func (h *GPIOHaptic) Buzz(intensity float64, d time.Duration) error {
	if intensity <= 0 || d <= 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("haptic: set %s high: %w", h.pin, err)
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(d, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if err := h.pin.Out(gpio.Low); err != nil {
			log.Printf("haptic: set %s low: %v", h.pin, err)
		}
	})
	return nil
}

// Close stops any pending buzz and leaves the pin low.
func (h *GPIOHaptic) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	return h.pin.Out(gpio.Low)
}

// BuzzCommand is the payload MQTTHaptic publishes.
type BuzzCommand struct {
	Intensity  float64 `json:"intensity"`
	DurationMS int64   `json:"duration_ms"`
}

// MQTTHaptic asks a remote device (the phone) to vibrate.
type MQTTHaptic struct {
	pub   Publisher
	topic string
}

// NewMQTTHaptic publishes buzz commands to topic.
func NewMQTTHaptic(pub Publisher, topic string) *MQTTHaptic {
	return &MQTTHaptic{pub: pub, topic: topic}
}

func (h *MQTTHaptic) Buzz(intensity float64, d time.Duration) error {
	payload, err := json.Marshal(BuzzCommand{Intensity: intensity, DurationMS: d.Milliseconds()})
	if err != nil {
		return fmt.Errorf("haptic: marshal: %w", err)
	}
	if err := h.pub.Publish(h.topic, payload); err != nil {
		return fmt.Errorf("haptic: publish %s: %w", h.topic, err)
	}
	return nil
}

// NopHaptic does nothing.
type NopHaptic struct{}

func (NopHaptic) Buzz(float64, time.Duration) error { return nil }
