// Package wsclient is the Go counterpart of the browser widget's relay
// connection: it dials the realtime gateway, surfaces decoded frames, and
// reconnects with exponential backoff when the link drops. The e2e tests use
// it as the client side of the relay.
package wsclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ioperator-ai/relay/pkg/gateway"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Reconnect policy, matching the web widget's.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5
)

// Backoff computes the reconnect delay for the given attempt (1-based):
// min(base·2^attempt, cap).
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	delay := base << attempt
	if delay > cap || delay <= 0 {
		return cap
	}
	return delay
}

type Config struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// Reconnect disables automatic reconnection when false.
	Reconnect bool
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
		Reconnect:   true,
	}
}

// Client maintains one websocket connection to the relay gateway.
type Client struct {
	url    string
	cfg    Config
	dialer *websocket.Dialer

	state  atomic.Int32
	frames chan gateway.Frame

	mu     sync.Mutex
	ws     *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func New(url string, cfg Config) *Client {
	return &Client{
		url:    url,
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		frames: make(chan gateway.Frame, 32),
	}
}

// Frames delivers every decoded server frame. The channel closes when the
// client gives up or is closed.
func (c *Client) Frames() <-chan gateway.Frame {
	return c.frames
}

func (c *Client) State() State {
	return State(c.state.Load())
}

// Connect dials the gateway and starts the read/reconnect loop. The initial
// dial failing is an error; later drops are handled by the backoff loop.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		cancel()
		close(c.done)
		return err
	}

	go c.run(ctx)
	return nil
}

// Close drops the connection and stops reconnecting.
func (c *Client) Close() {
	c.mu.Lock()
	cancel, done, ws := c.cancel, c.done, c.ws
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close()
	}
	if done != nil {
		<-done
	}
}

func (c *Client) dial(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.state.Store(int32(StateConnected))
	return nil
}

// run reads frames until the socket drops, then walks the backoff schedule.
// A successful reconnect resets the attempt counter.
func (c *Client) run(ctx context.Context) {
	defer func() {
		c.state.Store(int32(StateDisconnected))
		close(c.frames)
		close(c.done)
	}()

	for {
		c.readLoop(ctx)
		c.state.Store(int32(StateDisconnected))

		if !c.cfg.Reconnect || ctx.Err() != nil {
			return
		}
		if !c.reconnect(ctx) {
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	for {
		var frame gateway.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Msg("relay connection lost")
			}
			ws.Close()
			return
		}
		select {
		case c.frames <- frame:
		case <-ctx.Done():
			ws.Close()
			return
		}
	}
}

func (c *Client) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		delay := Backoff(attempt, c.cfg.BaseDelay, c.cfg.MaxDelay)
		log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting to relay")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := c.dial(ctx); err == nil {
			return true
		}
	}
	log.Warn().Int("attempts", c.cfg.MaxAttempts).Msg("giving up on relay reconnect")
	return false
}
