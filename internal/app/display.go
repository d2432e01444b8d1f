package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/tilt_arena/internal/config"
)

// displayData holds the latest ball state for the panel.
type displayData struct {
	mu   sync.RWMutex
	ball BallState
	have bool
}

func (d *displayData) onBall(payload []byte) {
	var st BallState
	if err := json.Unmarshal(payload, &st); err != nil {
		log.Printf("display: ball unmarshal error: %v", err)
		return
	}
	d.mu.Lock()
	d.ball, d.have = st, true
	d.mu.Unlock()
}

func (d *displayData) snapshot() (BallState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ball, d.have
}

func newPanel() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

func statusLabel(st BallState) string {
	switch {
	case st.Status == StatusSensorUnavailable:
		return "NO SENSOR"
	case !st.Calibrated:
		return "UNCALIBRATED"
	case st.AtBoundary:
		return "EDGE"
	default:
		return "OK"
	}
}

// renderStatus draws position, distance from center, hit count and status.
func renderStatus(st BallState, have bool) *image1bit.VerticalLSB {
	img, d := newPanel()
	if !have {
		drawLine(d, 0, 26, "Tilt Arena")
		drawLine(d, 0, 39, "Waiting...")
		return img
	}
	drawLine(d, 0, 13, fmt.Sprintf("X:%6.1f Y:%6.1f", st.X, st.Y))
	drawLine(d, 0, 26, fmt.Sprintf("D:%5.1f/%.0f", st.Distance, st.Radius))
	drawLine(d, 0, 39, fmt.Sprintf("Hits: %d", st.Collisions))
	drawLine(d, 0, 52, statusLabel(st))
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, d := newPanel()
	drawLine(d, 25, 26, "Tilt Arena")
	drawLine(d, 10, 43, "Keep it level")
	return img
}

// RunDisplay shows the ball state on an SSD1306 OLED until ctx is done.
func RunDisplay(ctx context.Context, cfg *config.Config) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Println("display: initialized")

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	data := &displayData{}
	if err := subscribe(client, cfg.TopicBall, data.onBall); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st, have := data.snapshot()
			if err := dev.Draw(dev.Bounds(), renderStatus(st, have), image.Point{}); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}
