package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/relabs-tech/tilt_arena/internal/config"
	"github.com/relabs-tech/tilt_arena/internal/motion"
)

var (
	ballTag = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	hitTag  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warnTag = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

func formatBall(st BallState) string {
	tag := ballTag.Render("[BALL]")
	if st.Status != StatusOK {
		tag = warnTag.Render("[" + st.Status + "]")
	}
	edge := ""
	if st.AtBoundary {
		edge = "  EDGE"
	}
	return fmt.Sprintf("%s tick=%d  X=%7.2f  Y=%7.2f  |p|=%6.2f/%.0f  ROLL=%6.2f  PITCH=%6.2f  hits=%d%s",
		tag, st.Tick, st.X, st.Y, st.Distance, st.Radius, st.Roll, st.Pitch, st.Collisions, edge)
}

func formatCollision(ev motion.CollisionEvent) string {
	return fmt.Sprintf("%s %s tick=%d at (%.2f, %.2f) id=%s",
		hitTag.Render("[HIT ]"), ev.Time.Format(time.RFC3339), ev.Tick, ev.X, ev.Y, ev.ID)
}

// consolePrinter prints ball states at most once per interval, plus every
// status change and every collision.
type consolePrinter struct {
	out      io.Writer
	interval time.Duration

	mu         sync.Mutex
	lastBall   time.Time
	lastStatus string
}

func (p *consolePrinter) onBall(payload []byte) {
	var st BallState
	if err := json.Unmarshal(payload, &st); err != nil {
		log.Printf("console: ball unmarshal error: %v", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if st.Status == p.lastStatus && st.Time.Sub(p.lastBall) < p.interval {
		return
	}
	p.lastBall, p.lastStatus = st.Time, st.Status
	fmt.Fprintln(p.out, formatBall(st))
}

func (p *consolePrinter) onCollision(payload []byte) {
	var ev motion.CollisionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("console: collision unmarshal error: %v", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, formatCollision(ev))
}

// RunConsoleMQTT prints the producer's stream until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	p := &consolePrinter{
		out:      os.Stdout,
		interval: time.Duration(cfg.ConsoleLogInterval) * time.Millisecond,
	}
	if err := subscribe(client, cfg.TopicBall, p.onBall); err != nil {
		return err
	}
	if err := subscribe(client, cfg.TopicCollision, p.onCollision); err != nil {
		return err
	}

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}
