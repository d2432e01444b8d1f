package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/tilt_arena/internal/config"
	"github.com/relabs-tech/tilt_arena/internal/motion"
	"github.com/relabs-tech/tilt_arena/internal/settings"
)

// recentCollisions is how many collision events /api/collisions keeps.
const recentCollisions = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local network only
	},
}

// wsFrame is one message on the /ws stream. Type is "ball", "collision" or
// "ack"; clients send Command objects the other way.
type wsFrame struct {
	Type      string                 `json:"type"`
	Ball      *BallState             `json:"ball,omitempty"`
	Collision *motion.CollisionEvent `json:"collision,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type wsClient struct {
	send chan []byte
}

// trySend queues msg, dropping it if the client is too slow.
func (c *wsClient) trySend(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

// webServer mirrors the MQTT stream over HTTP and forwards commands back to
// the producer.
type webServer struct {
	pub       Publisher
	cmdTopic  string
	staticDir string

	mu         sync.Mutex
	last       BallState
	have       bool
	collisions []motion.CollisionEvent
	clients    map[*wsClient]struct{}
}

func newWebServer(pub Publisher, cmdTopic, staticDir string) *webServer {
	return &webServer{
		pub:       pub,
		cmdTopic:  cmdTopic,
		staticDir: staticDir,
		clients:   make(map[*wsClient]struct{}),
	}
}

func (s *webServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ball", s.handleBall)
	mux.HandleFunc("GET /api/collisions", s.handleCollisions)
	mux.HandleFunc("POST /api/calibrate", s.handleSimpleCommand(ActionCalibrate))
	mux.HandleFunc("POST /api/reset", s.handleSimpleCommand(ActionReset))
	mux.HandleFunc("POST /api/preferences", s.handlePreferences)
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

// onBall handles a payload from the ball topic.
func (s *webServer) onBall(payload []byte) {
	var st BallState
	if err := json.Unmarshal(payload, &st); err != nil {
		log.Printf("web: ball unmarshal error: %v", err)
		return
	}
	s.mu.Lock()
	s.last, s.have = st, true
	s.mu.Unlock()
	s.broadcast(wsFrame{Type: "ball", Ball: &st})
}

// onCollision handles a payload from the collision topic.
func (s *webServer) onCollision(payload []byte) {
	var ev motion.CollisionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("web: collision unmarshal error: %v", err)
		return
	}
	s.mu.Lock()
	s.collisions = append(s.collisions, ev)
	if n := len(s.collisions); n > recentCollisions {
		s.collisions = append(s.collisions[:0], s.collisions[n-recentCollisions:]...)
	}
	s.mu.Unlock()
	s.broadcast(wsFrame{Type: "collision", Collision: &ev})
}

func (s *webServer) broadcast(f wsFrame) {
	msg, err := json.Marshal(f)
	if err != nil {
		log.Printf("web: frame marshal error: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.trySend(msg)
	}
}

func (s *webServer) forward(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return s.pub.Publish(s.cmdTopic, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *webServer) handleBall(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	st, have := s.last, s.have
	s.mu.Unlock()

	if !have {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCollisions returns the recent events, newest first.
func (s *webServer) handleCollisions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]motion.CollisionEvent, len(s.collisions))
	for i, ev := range s.collisions {
		out[len(out)-1-i] = ev
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *webServer) respondForward(w http.ResponseWriter, cmd Command) {
	if err := s.forward(cmd); err != nil {
		log.Printf("web: forwarding %s failed: %v", cmd.Action, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "action": cmd.Action})
}

func (s *webServer) handleSimpleCommand(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respondForward(w, Command{Action: action})
	}
}

func (s *webServer) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs settings.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		http.Error(w, fmt.Sprintf("invalid preferences: %v", err), http.StatusBadRequest)
		return
	}
	s.respondForward(w, Command{Action: ActionPreferences, Preferences: &prefs})
}

func (s *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	log.Printf("web: websocket client connected from %s", r.RemoteAddr)

	c := &wsClient{send: make(chan []byte, 16)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	st, have := s.last, s.have
	s.mu.Unlock()

	if have {
		if msg, err := json.Marshal(wsFrame{Type: "ball", Ball: &st}); err == nil {
			c.trySend(msg)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			break
		}
		ack := wsFrame{Type: "ack", Action: cmd.Action}
		if err := s.forward(cmd); err != nil {
			ack.Error = err.Error()
		}
		if msg, err := json.Marshal(ack); err == nil {
			c.trySend(msg)
		}
	}

	s.mu.Lock()
	delete(s.clients, c)
	close(c.send)
	s.mu.Unlock()
	<-done
	conn.Close()
	log.Printf("web: websocket client %s disconnected", r.RemoteAddr)
}

// RunWeb serves the live view until ctx is done.
func RunWeb(ctx context.Context, cfg *config.Config) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	srv := newWebServer(newMQTTPublisher(client), cfg.TopicCommand, cfg.WebStaticDir)
	if err := subscribe(client, cfg.TopicBall, srv.onBall); err != nil {
		return err
	}
	if err := subscribe(client, cfg.TopicCollision, srv.onCollision); err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("web: listening on %s", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
