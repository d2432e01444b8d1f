package feedback

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

// ErrAudioNotInitialized is returned when playing before Initialize.
var ErrAudioNotInitialized = errors.New("audio not initialized")

// Audio plays the collision sound.
type Audio interface {
	PlayCollision() error
}

// SoundPlayer synthesizes a short "clack" for each collision. A new collision
// cuts off the previous clack instead of layering on top of it.
type SoundPlayer struct {
	mu          sync.Mutex
	sr          beep.SampleRate
	mixer       *beep.Mixer
	current     *beep.Ctrl
	initialized bool

	lock   func()
	unlock func()
}

// NewSoundPlayer creates a player for the given sample rate. Call Initialize
// before playing.
func NewSoundPlayer(sampleRate int) *SoundPlayer {
	return &SoundPlayer{
		sr:     beep.SampleRate(sampleRate),
		mixer:  &beep.Mixer{},
		lock:   func() {},
		unlock: func() {},
	}
}

// Initialize opens the speaker and starts the mixer.
func (p *SoundPlayer) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}
	if err := speaker.Init(p.sr, p.sr.N(50*time.Millisecond)); err != nil {
		return err
	}
	speaker.Play(p.mixer)
	p.lock, p.unlock = speaker.Lock, speaker.Unlock
	p.initialized = true
	return nil
}

// PlayCollision starts a clack, stopping the one still playing.
func (p *SoundPlayer) PlayCollision() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return ErrAudioNotInitialized
	}

	ctrl := &beep.Ctrl{Streamer: beep.Take(p.sr.N(90*time.Millisecond), newClackGenerator(p.sr))}

	p.lock()
	if p.current != nil {
		// a nil streamer ends the Ctrl, so the mixer drops it
		p.current.Streamer = nil
	}
	p.mixer.Add(ctrl)
	p.unlock()

	p.current = ctrl
	return nil
}

// Cleanup stops all sounds.
func (p *SoundPlayer) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return
	}
	p.lock()
	p.mixer.Clear()
	p.unlock()
	p.current = nil
	p.initialized = false
}

// clackGenerator is a damped 880 Hz tone with a touch of its octave.
type clackGenerator struct {
	sr  beep.SampleRate
	pos int
}

func newClackGenerator(sr beep.SampleRate) *clackGenerator {
	return &clackGenerator{sr: sr}
}

func (g *clackGenerator) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		t := float64(g.pos) / float64(g.sr)
		envelope := math.Exp(-t * 45)
		v := envelope * (0.35*math.Sin(2*math.Pi*880*t) + 0.1*math.Sin(2*math.Pi*1760*t))
		samples[i][0] = v
		samples[i][1] = v
		g.pos++
	}
	return len(samples), true
}

func (g *clackGenerator) Err() error {
	return nil
}

// NopAudio does nothing.
type NopAudio struct{}

func (NopAudio) PlayCollision() error { return nil }
