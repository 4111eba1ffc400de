// ABOUTME: Remote control server exposing player state over HTTP and WebSocket
// ABOUTME: Serves /ws, /state, /tracks and /metrics
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackdeck/internal/version"
	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"github.com/Resonate-Protocol/trackdeck/pkg/player"
	"github.com/Resonate-Protocol/trackdeck/pkg/waveform"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	readLimit     = 4096
)

// Controller is the player surface the server drives
type Controller interface {
	SelectTrack(ctx context.Context, index int) error
	TogglePlayPause(ctx context.Context) error
	Scrub(ctx context.Context, ratio float64) error
	State() player.State
	Tracks() []catalog.Track
	Waveform() *waveform.Profile
}

// Config holds server configuration
type Config struct {
	Addr string

	// Gatherer backs /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer

	// SendBuffer is the per-client queue length (default 64)
	SendBuffer int

	Logger *zap.Logger
}

// Server broadcasts player events to WebSocket clients and accepts commands
type Server struct {
	config   Config
	ctrl     Controller
	log      *zap.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	httpServer *http.Server
	listener   net.Listener

	mu      sync.Mutex
	clients map[*conn]struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// conn is one connected WebSocket client
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() { close(c.send) })
}

// NewServer creates a server
func NewServer(config Config, ctrl Controller) *Server {
	if config.SendBuffer <= 0 {
		config.SendBuffer = 64
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  config,
		ctrl:    ctrl,
		log:     config.Logger,
		mux:     http.NewServeMux(),
		clients: make(map[*conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		upgrader: websocket.Upgrader{
			// Local network control surface; browsers on other origins are allowed
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/state", s.handleState)
	s.mux.HandleFunc("/tracks", s.handleTracks)
	if config.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("remote server failed", zap.Error(err))
		}
	}()

	s.log.Info("remote control listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown disconnects clients and stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
	s.mu.Unlock()

	s.cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// BroadcastState sends a state snapshot to all clients
func (s *Server) BroadcastState(state player.State) {
	s.broadcast(Message{Type: TypeState, Payload: state})
}

// BroadcastWaveform sends the active track profile to all clients
func (s *Server) BroadcastWaveform(prof *waveform.Profile) {
	if prof == nil {
		return
	}
	s.broadcast(Message{Type: TypeWaveform, Payload: toWaveform(prof)})
}

// BroadcastTracks sends the track listing to all clients
func (s *Server) BroadcastTracks(tracks []catalog.Track) {
	s.broadcast(Message{Type: TypeTracks, Payload: tracks})
}

func (s *Server) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("failed to encode broadcast", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; drop it rather than block the player
			s.log.Warn("dropping slow remote client", zap.String("remote", c.ws.RemoteAddr().String()))
			c.close()
			delete(s.clients, c)
		}
	}
}

func toWaveform(prof *waveform.Profile) *Waveform {
	if prof == nil {
		return nil
	}
	return &Waveform{
		SourceURL: prof.SourceURL,
		Bins:      prof.Bins,
		Duration:  prof.Duration.Seconds(),
	}
}

// handleState serves the current state as JSON
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.ctrl.State())
}

// handleTracks serves the track listing as JSON
func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.ctrl.Tracks())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.log.Info("remote client connected", zap.String("remote", r.RemoteAddr))

	c := &conn{ws: ws, send: make(chan []byte, s.config.SendBuffer)}
	if !s.register(c) {
		ws.Close()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writePump(c)
	}()

	s.readPump(c)

	s.unregister(c)
	s.log.Info("remote client disconnected", zap.String("remote", r.RemoteAddr))
}

// register adds the client and queues its hello before any broadcast
func (s *Server) register(c *conn) bool {
	hello := Message{Type: TypeHello, Payload: Hello{
		Product:  version.Product,
		Version:  version.Version,
		Tracks:   s.ctrl.Tracks(),
		State:    s.ctrl.State(),
		Waveform: toWaveform(s.ctrl.Waveform()),
	}}
	data, err := json.Marshal(hello)
	if err != nil {
		s.log.Error("failed to encode hello", zap.Error(err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	c.send <- data
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// readPump processes commands until the connection closes
func (s *Server) readPump(c *conn) {
	c.ws.SetReadLimit(readLimit)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		err = s.handleCommand(data)
		if errors.Is(err, player.ErrStartInterrupted) {
			s.log.Debug("remote command superseded", zap.String("command", commandType(data)))
			continue
		}
		if err != nil {
			s.log.Info("remote command rejected", zap.Error(err))
			s.reply(c, Message{Type: TypeError, Payload: ErrorPayload{Command: commandType(data), Error: err.Error()}})
		}
	}
}

// handleCommand decodes and runs one client command
func (s *Server) handleCommand(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	switch env.Type {
	case TypeSelect:
		var p Select
		if err := env.decode(&p); err != nil {
			return err
		}
		return s.ctrl.SelectTrack(s.ctx, p.Index)
	case TypeToggle:
		return s.ctrl.TogglePlayPause(s.ctx)
	case TypeScrub:
		var p Scrub
		if err := env.decode(&p); err != nil {
			return err
		}
		return s.ctrl.Scrub(s.ctx, p.Ratio)
	default:
		return fmt.Errorf("unknown message type %q", env.Type)
	}
}

func commandType(data []byte) string {
	var env envelope
	_ = json.Unmarshal(data, &env)
	return env.Type
}

// reply queues a message for one client, dropping it when the queue is full
func (s *Server) reply(c *conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump sends queued messages and keepalive pings
func (s *Server) writePump(c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}
