// ABOUTME: WebSocket client for the remote control server
// ABOUTME: Handles connection, hello handshake and event routing
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"github.com/Resonate-Protocol/trackdeck/pkg/player"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned after Close
var ErrNotConnected = errors.New("not connected")

const helloTimeout = 5 * time.Second

// ClientConfig holds client configuration
type ClientConfig struct {
	// Addr is host:port of the remote server
	Addr   string
	Logger *zap.Logger
}

// Client is a remote control connection
type Client struct {
	config ClientConfig
	log    *zap.Logger
	hello  Hello

	writeMu sync.Mutex
	mu      sync.RWMutex
	conn    *websocket.Conn
	open    bool

	// Event channels; events are dropped when a channel is full
	States    chan player.State
	Waveforms chan Waveform
	Tracks    chan []catalog.Track
	Errors    chan ErrorPayload

	done chan struct{}
}

// Dial connects and waits for the server hello
func Dial(ctx context.Context, config ClientConfig) (*Client, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	u := url.URL{Scheme: "ws", Host: config.Addr, Path: "/ws"}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := &Client{
		config:    config,
		log:       config.Logger,
		conn:      conn,
		open:      true,
		States:    make(chan player.State, 16),
		Waveforms: make(chan Waveform, 4),
		Tracks:    make(chan []catalog.Track, 4),
		Errors:    make(chan ErrorPayload, 16),
		done:      make(chan struct{}),
	}

	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return c, nil
}

// handshake reads the server hello
func (c *Client) handshake() error {
	c.conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", TypeHello, err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to parse %s: %w", TypeHello, err)
	}
	if env.Type != TypeHello {
		return fmt.Errorf("expected %s, got %s", TypeHello, env.Type)
	}
	return env.decode(&c.hello)
}

// Hello returns the handshake snapshot
func (c *Client) Hello() Hello {
	return c.hello
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer close(c.done)
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("remote read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("failed to parse message", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeState:
		var s player.State
		if env.decode(&s) == nil {
			deliver(c.States, s)
		}
	case TypeWaveform:
		var w Waveform
		if env.decode(&w) == nil {
			deliver(c.Waveforms, w)
		}
	case TypeTracks:
		var t []catalog.Track
		if env.decode(&t) == nil {
			deliver(c.Tracks, t)
		}
	case TypeError:
		var e ErrorPayload
		if env.decode(&e) == nil {
			deliver(c.Errors, e)
		}
	default:
		c.log.Debug("unknown message type", zap.String("type", env.Type))
	}
}

func deliver[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// Select asks the player to select the track at index
func (c *Client) Select(index int) error {
	return c.send(Message{Type: TypeSelect, Payload: Select{Index: index}})
}

// Toggle asks the player to toggle play and pause
func (c *Client) Toggle() error {
	return c.send(Message{Type: TypeToggle})
}

// Scrub asks the player to seek to ratio of the duration
func (c *Client) Scrub(ratio float64) error {
	return c.send(Message{Type: TypeScrub, Payload: Scrub{Ratio: ratio}})
}

func (c *Client) send(msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.open {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteJSON(msg)
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return
	}
	c.open = false

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.conn.Close()
}
