// Package settings persists the calibration offset and user preferences.
package settings

import (
	"context"
	"log"

	"gonum.org/v1/gonum/spatial/r3"
)

// Keys used in the key-value table.
const (
	KeyOffsetX   = "calibration.offset_x"
	KeyOffsetY   = "calibration.offset_y"
	KeyOffsetZ   = "calibration.offset_z"
	KeySound     = "pref.sound"
	KeyVibration = "pref.vibration"
)

// Preferences are the user toggles for collision feedback.
type Preferences struct {
	Sound     bool `json:"sound"`
	Vibration bool `json:"vibration"`
}

// Settings is everything read once at startup.
type Settings struct {
	Offset      r3.Vec      `json:"offset"`
	Preferences Preferences `json:"preferences"`
}

// Defaults returns a zero offset with sound and vibration on.
func Defaults() Settings {
	return Settings{
		Preferences: Preferences{Sound: true, Vibration: true},
	}
}

// Store is the settings collaborator.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	SaveOffset(ctx context.Context, offset r3.Vec) error
	SavePreferences(ctx context.Context, prefs Preferences) error
	Close() error
}

// LoadOrDefault reads the settings once. Any failure is logged and the
// defaults are returned instead; it never fails.
func LoadOrDefault(ctx context.Context, store Store) Settings {
	if store == nil {
		return Defaults()
	}
	s, err := store.Load(ctx)
	if err != nil {
		log.Printf("settings: load failed, using defaults: %v", err)
		return Defaults()
	}
	return s
}
