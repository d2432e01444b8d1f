package feedback

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/tilt_arena/internal/motion"
	"github.com/relabs-tech/tilt_arena/internal/settings"
)

// Stats counts dispatched effects.
type Stats struct {
	Events   uint64 `json:"events"`
	Buzzes   uint64 `json:"buzzes"`
	Sounds   uint64 `json:"sounds"`
	Failures uint64 `json:"failures"`
}

// Dispatcher turns collision events into haptic and audio effects, gated by the
// user's preferences. Failures are logged and counted, never returned.
type Dispatcher struct {
	haptic    Haptic
	audio     Audio
	intensity float64
	duration  time.Duration

	mu    sync.RWMutex
	prefs settings.Preferences

	events, buzzes, sounds, failures atomic.Uint64
}

// NewDispatcher wires the collaborators. Nil collaborators are replaced by
// no-ops.
func NewDispatcher(h Haptic, a Audio, prefs settings.Preferences, intensity float64, duration time.Duration) *Dispatcher {
	if h == nil {
		h = NopHaptic{}
	}
	if a == nil {
		a = NopAudio{}
	}
	return &Dispatcher{
		haptic:    h,
		audio:     a,
		intensity: intensity,
		duration:  duration,
		prefs:     prefs,
	}
}

// SetPreferences replaces the toggles used for subsequent events.
func (d *Dispatcher) SetPreferences(p settings.Preferences) {
	d.mu.Lock()
	d.prefs = p
	d.mu.Unlock()
}

// Preferences returns the current toggles.
func (d *Dispatcher) Preferences() settings.Preferences {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.prefs
}

// OnCollision fires each enabled effect exactly once for ev.
func (d *Dispatcher) OnCollision(ev motion.CollisionEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.failures.Add(1)
			log.Printf("feedback: panic while handling collision %s: %v", ev.ID, r)
		}
	}()

	d.events.Add(1)
	prefs := d.Preferences()

	if prefs.Vibration {
		if err := d.haptic.Buzz(d.intensity, d.duration); err != nil {
			d.failures.Add(1)
			log.Printf("feedback: haptic failed for collision %s: %v", ev.ID, err)
		} else {
			d.buzzes.Add(1)
		}
	}
	if prefs.Sound {
		if err := d.audio.PlayCollision(); err != nil {
			d.failures.Add(1)
			log.Printf("feedback: sound failed for collision %s: %v", ev.ID, err)
		} else {
			d.sounds.Add(1)
		}
	}
}

// Stats returns the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Events:   d.events.Load(),
		Buzzes:   d.buzzes.Load(),
		Sounds:   d.sounds.Load(),
		Failures: d.failures.Load(),
	}
}
